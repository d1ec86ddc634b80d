package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of a leveraged position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the reverse side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Position is the local view of one open futures position. At most one per
// (account, symbol). It is created when an entry fill moves net exposure away
// from zero and destroyed when exposure returns to zero.
type Position struct {
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Amount     decimal.Decimal `json:"amount"` // contract quantity, > 0
	EntryPrice decimal.Decimal `json:"entry_price"`
	Leverage   int             `json:"leverage"`
	Margin     decimal.Decimal `json:"margin"` // (entry_price * amount) / leverage

	SLPrice       decimal.Decimal `json:"sl_price"` // zero means not set
	TPPrice       decimal.Decimal `json:"tp_price"` // zero means not set
	HighWaterMark decimal.Decimal `json:"high_water_mark"`

	// Protective order references, resolved against the gateway order cache.
	StopOrderID       string `json:"stop_order_id,omitempty"`
	TakeProfitOrderID string `json:"take_profit_order_id,omitempty"`

	EntryTime time.Time `json:"entry_time"`
}

// UpdateHighWaterMark advances the direction-aware best price seen since
// entry. Returns true if the mark moved.
func (p *Position) UpdateHighWaterMark(mark decimal.Decimal) bool {
	if p.HighWaterMark.IsZero() {
		p.HighWaterMark = mark
		return true
	}
	if p.Side == SideLong && mark.GreaterThan(p.HighWaterMark) {
		p.HighWaterMark = mark
		return true
	}
	if p.Side == SideShort && mark.LessThan(p.HighWaterMark) {
		p.HighWaterMark = mark
		return true
	}
	return false
}

// HasProtection reports whether both protective order references are set.
func (p *Position) HasProtection() bool {
	return p.StopOrderID != "" && p.TakeProfitOrderID != ""
}

// PositionRisk is the exchange-reported position state. Amount is signed:
// positive for long, negative for short, zero when flat.
type PositionRisk struct {
	Symbol           string          `json:"symbol"`
	Amount           decimal.Decimal `json:"amount"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	MarkPrice        decimal.Decimal `json:"mark_price"`
	Leverage         int             `json:"leverage"`
	UnrealizedPnl    decimal.Decimal `json:"unrealized_pnl"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
}

// IsFlat reports whether the exchange considers the symbol flat.
func (pr *PositionRisk) IsFlat() bool {
	return pr.Amount.IsZero()
}

// Side derives the position side from the signed amount.
func (pr *PositionRisk) Side() Side {
	if pr.Amount.IsNegative() {
		return SideShort
	}
	return SideLong
}
