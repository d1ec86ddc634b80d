// Package executor implements the entry and exit order algorithms: the
// maker-then-taker smart entry, TWAP and grid slicing, protective-order
// synthesis, and the trailing/retracement exit rules.
package executor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/exchange"
)

// Params are the execution tunables.
type Params struct {
	PollInterval   time.Duration
	ChaseTimeout   time.Duration
	TwapChunks     int
	TwapDelay      time.Duration
	GridLevels     int
	GridSpacingPct float64
	GridWait       time.Duration
}

// DefaultParams match the documented defaults: 1s fill polling with a 5s
// chase timeout, 3 TWAP chunks 2s apart, 3 grid levels with a 10s window.
func DefaultParams() Params {
	return Params{
		PollInterval:   time.Second,
		ChaseTimeout:   5 * time.Second,
		TwapChunks:     3,
		TwapDelay:      2 * time.Second,
		GridLevels:     3,
		GridSpacingPct: 0.001,
		GridWait:       10 * time.Second,
	}
}

// Executor places entry and protective orders through the gateway.
type Executor struct {
	gw     exchange.Gateway
	params Params
	logger *zap.Logger
}

// New builds an executor.
func New(gw exchange.Gateway, params Params, logger *zap.Logger) *Executor {
	if params.TwapChunks <= 0 {
		params.TwapChunks = 3
	}
	if params.GridLevels <= 0 {
		params.GridLevels = 3
	}
	return &Executor{gw: gw, params: params, logger: logger}
}

// Fill is the realized outcome of an entry algorithm: total filled quantity
// and the fill-weighted average price across all legs.
type Fill struct {
	Amount   decimal.Decimal
	AvgPrice decimal.Decimal
}

// IsZero reports whether nothing filled.
func (f Fill) IsZero() bool {
	return f.Amount.IsZero()
}

// merge combines two fills, weighting the average price by quantity.
func (f Fill) merge(other Fill) Fill {
	if other.Amount.IsZero() {
		return f
	}
	if f.Amount.IsZero() {
		return other
	}
	total := f.Amount.Add(other.Amount)
	weighted := f.AvgPrice.Mul(f.Amount).Add(other.AvgPrice.Mul(other.Amount)).Div(total)
	return Fill{Amount: total, AvgPrice: weighted}
}

// sleep waits for d or until ctx is done.
func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
