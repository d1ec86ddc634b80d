// Package trader orchestrates the per-symbol position lifecycle: signal
// admission, entry execution, protective-order synthesis, tick management,
// and reconciliation against exchange truth.
package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/exchange"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/executor"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/infrastructure"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/ledger"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/notify"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/risk"
)

// SignalProvider produces the per-symbol trading decision. Any strategy
// implementation plugs in behind this seam.
type SignalProvider interface {
	GetSignal(ctx context.Context, symbol string) (model.Signal, error)
}

// State is the per-symbol lifecycle phase.
type State string

const (
	StateFlat    State = "flat"
	StateOpening State = "opening"
	StateOpen    State = "open"
	StateClosing State = "closing"
)

// Options are the trader tunables.
type Options struct {
	Leverage      int
	MaxLeverage   int // exchange/account cap
	MarginUSDT    decimal.Decimal
	SLPct         float64
	TPPct         float64
	TwapThreshold decimal.Decimal
	GridEnabled   bool
	AutoReverse   bool
	Exits         executor.ExitParams
}

// ExecuteParams optionally override sizing for one entry.
type ExecuteParams struct {
	Amount   decimal.Decimal // explicit coin amount; zero uses fixed-USDT margin
	Leverage int             // zero uses the configured leverage
}

// Trader drives open/close/manage for a set of symbols. All exchange-mutating
// work for one symbol is serialized behind its state lock; different symbols
// proceed concurrently.
type Trader struct {
	gw       exchange.Gateway
	exec     *executor.Executor
	risk     *risk.Manager
	notifier notify.Notifier
	logger   *zap.Logger
	opts     Options

	mu      sync.RWMutex
	symbols map[string]*symbolState
}

type symbolState struct {
	mu              sync.Mutex
	state           State
	pos             *model.Position
	needsProtection bool
	inactive        bool // fatal/config error; other symbols keep trading
}

// New builds a trader for the given symbols.
func New(gw exchange.Gateway, exec *executor.Executor, riskMgr *risk.Manager, notifier notify.Notifier, opts Options, symbols []string, logger *zap.Logger) *Trader {
	states := make(map[string]*symbolState, len(symbols))
	for _, s := range symbols {
		states[s] = &symbolState{state: StateFlat}
	}
	return &Trader{
		gw:       gw,
		exec:     exec,
		risk:     riskMgr,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
		symbols:  states,
	}
}

func (t *Trader) state(symbol string) *symbolState {
	t.mu.RLock()
	st, ok := t.symbols[symbol]
	t.mu.RUnlock()
	if ok {
		return st
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok = t.symbols[symbol]; ok {
		return st
	}
	st = &symbolState{state: StateFlat}
	t.symbols[symbol] = st
	return st
}

// MarkInactive disables a symbol after a fatal/config error.
func (t *Trader) MarkInactive(symbol string) {
	st := t.state(symbol)
	st.mu.Lock()
	st.inactive = true
	st.mu.Unlock()
	t.logger.Error("symbol marked inactive", zap.String("symbol", symbol))
}

// Execute reacts to a signal: open when flat, close on reversal, no-op on a
// same-direction signal. A risk rejection is a deliberate no-op, not an
// error.
func (t *Trader) Execute(ctx context.Context, symbol string, sig model.Signal, params ExecuteParams) error {
	st := t.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.inactive {
		return nil
	}

	if st.pos != nil {
		if !sig.Opposes(st.pos.Side) {
			return nil
		}
		// Reversal: close, and only re-open when auto-reverse is enabled.
		// The default waits for a fresh signal while flat.
		if err := t.closeLocked(ctx, st, symbol, "reversal"); err != nil {
			return err
		}
		if !t.opts.AutoReverse {
			return nil
		}
	}

	if sig.Direction == model.DirectionFlat {
		return nil
	}
	return t.openLocked(ctx, st, symbol, sig.PositionSide(), params)
}

func (t *Trader) openLocked(ctx context.Context, st *symbolState, symbol string, side model.Side, params ExecuteParams) error {
	leverage := params.Leverage
	if leverage <= 0 {
		leverage = t.opts.Leverage
	}
	if t.opts.MaxLeverage > 0 && leverage > t.opts.MaxLeverage {
		leverage = t.opts.MaxLeverage
	}

	ticker, err := t.gw.BookTicker(ctx, symbol)
	if err != nil {
		return fmt.Errorf("open %s: book ticker: %w", symbol, err)
	}
	price := ticker.EntryQuote(model.EntrySide(side))

	amount := params.Amount
	if !amount.IsPositive() {
		// Fixed-USDT-margin sizing: amount = margin * leverage / price.
		amount = t.opts.MarginUSDT.
			Mul(decimal.NewFromInt(int64(leverage))).
			Div(price).
			Truncate(8)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("open %s: computed zero amount", symbol)
	}
	notional := ledger.Notional(amount, price)

	// Admission was checked upstream by the scan loop, but the check is
	// racy across symbols; re-validate under this symbol's lock right
	// before placing anything.
	view, err := t.portfolioView(ctx, symbol)
	if err != nil {
		return fmt.Errorf("open %s: portfolio view: %w", symbol, err)
	}
	if ok, reason := t.risk.Admit(symbol, notional, view); !ok {
		t.notifier.Send(ctx, notify.Event{
			Kind:    notify.KindRiskRejected,
			Symbol:  symbol,
			Message: reason,
			At:      time.Now(),
		})
		return nil
	}

	st.state = StateOpening
	if err := t.gw.SetLeverage(ctx, symbol, leverage); err != nil {
		st.state = StateFlat
		return fmt.Errorf("open %s: set leverage: %w", symbol, err)
	}

	fill, entryErr := t.enter(ctx, symbol, side, amount, notional)
	if fill.IsZero() {
		// Failed entry with nothing filled leaves the symbol flat.
		st.state = StateFlat
		if entryErr != nil {
			return fmt.Errorf("open %s: entry: %w", symbol, entryErr)
		}
		return fmt.Errorf("open %s: entry filled nothing", symbol)
	}
	if entryErr != nil {
		// Partial fill: the filled quantity becomes the position and still
		// gets protective orders below.
		t.logger.Warn("entry partially filled",
			zap.String("symbol", symbol),
			zap.String("filled", fill.Amount.String()),
			zap.String("requested", amount.String()),
			zap.Error(entryErr))
	}

	pos := &model.Position{
		Symbol:        symbol,
		Side:          side,
		Amount:        fill.Amount,
		EntryPrice:    fill.AvgPrice,
		Leverage:      leverage,
		Margin:        ledger.Margin(ledger.Notional(fill.Amount, fill.AvgPrice), leverage),
		SLPrice:       ledger.StopPrice(side, fill.AvgPrice, t.opts.SLPct),
		TPPrice:       ledger.TakeProfitPrice(side, fill.AvgPrice, t.opts.TPPct),
		HighWaterMark: fill.AvgPrice,
		EntryTime:     time.Now(),
	}
	st.pos = pos
	st.state = StateOpen

	if err := t.exec.PlaceProtection(ctx, pos); err != nil {
		// Never silent: escalate to the reconciliation retry path.
		st.needsProtection = true
		t.logger.Error("protective order placement failed, will retry on reconcile",
			zap.String("symbol", symbol), zap.Error(err))
		t.notifier.Send(ctx, notify.Event{
			Kind:    notify.KindProtectionFailed,
			Symbol:  symbol,
			Message: err.Error(),
			At:      time.Now(),
		})
	} else {
		st.needsProtection = false
	}

	t.notifier.Send(ctx, notify.Event{
		Kind:   notify.KindFill,
		Symbol: symbol,
		Message: fmt.Sprintf("opened %s %s @ %s",
			side, fill.Amount.String(), fill.AvgPrice.String()),
		At: time.Now(),
	})
	return nil
}

// enter picks the entry algorithm: TWAP above the notional threshold, grid
// when enabled, smart chase otherwise.
func (t *Trader) enter(ctx context.Context, symbol string, side model.Side, amount, notional decimal.Decimal) (executor.Fill, error) {
	orderSide := model.EntrySide(side)
	switch {
	case t.opts.TwapThreshold.IsPositive() && notional.GreaterThanOrEqual(t.opts.TwapThreshold):
		return t.exec.TWAPEntry(ctx, symbol, orderSide, amount)
	case t.opts.GridEnabled:
		return t.exec.GridEntry(ctx, symbol, orderSide, amount)
	default:
		return t.exec.SmartEntry(ctx, symbol, orderSide, amount)
	}
}

// Close exits the symbol's position with a reduce-only market order.
func (t *Trader) Close(ctx context.Context, symbol, reason string) error {
	st := t.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return t.closeLocked(ctx, st, symbol, reason)
}

func (t *Trader) closeLocked(ctx context.Context, st *symbolState, symbol, reason string) error {
	if st.pos == nil {
		return nil
	}
	pos := st.pos
	st.state = StateClosing

	if err := t.exec.CancelProtection(ctx, pos); err != nil {
		// Stale legs are reconciled away later; keep going.
		t.logger.Warn("failed to cancel protection on close",
			zap.String("symbol", symbol), zap.Error(err))
	}

	order, err := t.gw.PlaceOrder(ctx, model.OrderRequest{
		Symbol:     symbol,
		Type:       model.OrderTypeMarket,
		Side:       model.ExitSide(pos.Side),
		Amount:     pos.Amount,
		ReduceOnly: true,
	})
	if err != nil {
		// Unknown or failed close: the position stays and reconciliation
		// decides from exchange truth.
		st.state = StateOpen
		return fmt.Errorf("close %s: %w", symbol, err)
	}

	pnl := ledger.UnrealizedPnl(pos.Side, pos.EntryPrice, order.AvgPrice, pos.Amount)
	t.risk.RecordPnL(pnl)
	st.pos = nil
	st.state = StateFlat

	t.logger.Info("position closed",
		zap.String("symbol", symbol),
		zap.String("reason", reason),
		zap.String("pnl", pnl.String()))
	t.notifier.Send(ctx, notify.Event{
		Kind:    notify.KindClose,
		Symbol:  symbol,
		Message: fmt.Sprintf("closed (%s), pnl %s", reason, pnl.String()),
		At:      time.Now(),
	})
	return nil
}

// Manage runs the price-driven exit rules on every polling tick, regardless
// of signal cadence: liquidation bound first, then retracement, then
// trailing stop.
func (t *Trader) Manage(ctx context.Context, symbol string, mark decimal.Decimal) error {
	st := t.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.pos == nil || !mark.IsPositive() {
		return nil
	}
	pos := st.pos
	pos.UpdateHighWaterMark(mark)

	pnl := ledger.UnrealizedPnl(pos.Side, pos.EntryPrice, mark, pos.Amount)
	if ledger.IsLiquidated(pnl, pos.Margin) {
		// Expected terminal state, not a system error. Clear locally; the
		// next reconcile pass confirms against exchange truth.
		infrastructure.Liquidations.WithLabelValues(symbol).Inc()
		t.risk.RecordPnL(pos.Margin.Neg())
		st.pos = nil
		st.state = StateFlat
		t.logger.Warn("position liquidated",
			zap.String("symbol", symbol),
			zap.String("mark", mark.String()),
			zap.String("margin", pos.Margin.String()))
		t.notifier.Send(ctx, notify.Event{
			Kind:    notify.KindLiquidation,
			Symbol:  symbol,
			Message: fmt.Sprintf("liquidated at %s, margin %s lost", mark.String(), pos.Margin.String()),
			At:      time.Now(),
		})
		return nil
	}

	if executor.ShouldRetrace(pos, mark, t.opts.Exits.RetracementPct) {
		return t.closeLocked(ctx, st, symbol, "retracement")
	}

	if newStop, ok := executor.TrailingStop(pos, mark, t.opts.Exits); ok {
		if err := t.exec.MoveStop(ctx, pos, newStop); err != nil {
			st.needsProtection = pos.StopOrderID == ""
			t.logger.Error("trailing stop move failed",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return nil
}

// portfolioView assembles the equity snapshot admission checks run against.
// Holdings come from the exchange's whole-account listing, not local state:
// the caller holds its own symbol's lock, and acquiring other symbols' locks
// here would deadlock against their concurrent opens. The caller's symbol is
// excluded; it is flat at this point and its proposed notional is passed to
// Admit separately.
func (t *Trader) portfolioView(ctx context.Context, exclude string) (risk.PortfolioView, error) {
	acct, err := t.gw.Account(ctx)
	if err != nil {
		return risk.PortfolioView{}, err
	}

	remote, err := t.gw.Positions(ctx, "")
	if err != nil {
		return risk.PortfolioView{}, err
	}
	holdings := make(map[string]decimal.Decimal)
	for i := range remote {
		pr := &remote[i]
		if pr.IsFlat() || pr.Symbol == exclude {
			continue
		}
		holdings[pr.Symbol] = ledger.Notional(pr.Amount.Abs(), pr.EntryPrice)
	}

	return risk.PortfolioView{Equity: acct.Equity, Holdings: holdings}, nil
}

// Positions returns a copy of the local open positions.
func (t *Trader) Positions() []model.Position {
	t.mu.RLock()
	states := make([]*symbolState, 0, len(t.symbols))
	for _, st := range t.symbols {
		states = append(states, st)
	}
	t.mu.RUnlock()

	out := make([]model.Position, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		if st.pos != nil {
			out = append(out, *st.pos)
		}
		st.mu.Unlock()
	}
	return out
}

// Symbols returns the tracked symbol set.
func (t *Trader) Symbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.symbols))
	for s := range t.symbols {
		out = append(out, s)
	}
	return out
}
