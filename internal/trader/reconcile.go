package trader

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/infrastructure"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/ledger"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/notify"
)

// Reconcile realigns local state with the exchange for every tracked symbol.
// The exchange is authoritative: positions the exchange reports flat are
// cleared locally, exchange positions unknown locally are adopted, stale
// reduce-only orders are canceled, and missing protective legs are
// re-synthesized. The pass is idempotent: on a consistent state it performs
// zero mutations.
func (t *Trader) Reconcile(ctx context.Context) error {
	var firstErr error
	for _, symbol := range t.Symbols() {
		if err := t.reconcileSymbol(ctx, symbol); err != nil {
			t.logger.Error("reconcile failed",
				zap.String("symbol", symbol), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ReconcileSymbol realigns one symbol, used when a pushed order update hints
// that state changed out-of-band.
func (t *Trader) ReconcileSymbol(ctx context.Context, symbol string) error {
	return t.reconcileSymbol(ctx, symbol)
}

func (t *Trader) reconcileSymbol(ctx context.Context, symbol string) error {
	st := t.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	risks, err := t.gw.Positions(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}
	var remote *model.PositionRisk
	for i := range risks {
		if risks[i].Symbol == symbol && !risks[i].IsFlat() {
			remote = &risks[i]
			break
		}
	}

	open, err := t.gw.OpenOrders(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}

	switch {
	case remote == nil && st.pos != nil:
		// Exchange flat, local open: a protective leg fired (or liquidation)
		// between ticks. Drop the local position and sweep leftovers.
		t.logger.Warn("exchange reports flat, clearing local position",
			zap.String("symbol", symbol))
		st.pos = nil
		st.state = StateFlat
		st.needsProtection = false
		infrastructure.ReconcileRepairs.WithLabelValues(symbol, "clear_position").Inc()

	case remote != nil && st.pos == nil:
		// Exchange open, local flat: adopt the position so it gets managed
		// and protected rather than ignored.
		adopted := t.adopt(remote)
		st.pos = adopted
		st.state = StateOpen
		st.needsProtection = true
		t.logger.Warn("adopted untracked exchange position",
			zap.String("symbol", symbol),
			zap.String("side", string(adopted.Side)),
			zap.String("amount", adopted.Amount.String()))
		infrastructure.ReconcileRepairs.WithLabelValues(symbol, "adopt_position").Inc()

	case remote != nil && st.pos != nil:
		// Both open: the exchange's size and entry win on divergence
		// (partial SL fills, manual intervention).
		amt := remote.Amount.Abs()
		if !st.pos.Amount.Equal(amt) || !st.pos.EntryPrice.Equal(remote.EntryPrice) {
			t.logger.Warn("local position diverged from exchange, resyncing",
				zap.String("symbol", symbol),
				zap.String("local_amount", st.pos.Amount.String()),
				zap.String("exchange_amount", amt.String()))
			st.pos.Amount = amt
			st.pos.EntryPrice = remote.EntryPrice
			st.pos.Margin = ledger.Margin(ledger.Notional(amt, remote.EntryPrice), st.pos.Leverage)
			infrastructure.ReconcileRepairs.WithLabelValues(symbol, "resync_position").Inc()
		}
	}

	// Sweep reduce-only orders with no live position backing them, and
	// clear dangling protective references.
	if st.pos == nil {
		for i := range open {
			o := &open[i]
			if !o.ReduceOnly || !o.IsOpen() {
				continue
			}
			if err := t.gw.CancelOrder(ctx, symbol, o.ID); err != nil {
				t.logger.Warn("failed to cancel stale order",
					zap.String("symbol", symbol),
					zap.String("order_id", o.ID),
					zap.Error(err))
				continue
			}
			infrastructure.ReconcileRepairs.WithLabelValues(symbol, "cancel_stale").Inc()
			t.notifier.Send(ctx, notify.Event{
				Kind:    notify.KindStaleOrder,
				Symbol:  symbol,
				Message: fmt.Sprintf("canceled stale reduce-only order %s", o.ID),
				At:      time.Now(),
			})
		}
		return nil
	}

	// Position open: verify the referenced protective legs still rest, then
	// re-synthesize whatever is missing. PlaceProtection skips legs whose
	// IDs are set, so a healthy state places nothing.
	t.verifyProtectionRefs(st.pos, open)
	if !st.pos.HasProtection() || st.needsProtection {
		before := st.pos.HasProtection()
		if err := t.exec.PlaceProtection(ctx, st.pos); err != nil {
			st.needsProtection = true
			return fmt.Errorf("re-synthesize protection: %w", err)
		}
		st.needsProtection = false
		if !before {
			infrastructure.ReconcileRepairs.WithLabelValues(symbol, "repair_protection").Inc()
			t.notifier.Send(ctx, notify.Event{
				Kind:    notify.KindProtectionRepair,
				Symbol:  symbol,
				Message: "re-synthesized missing protective orders",
				At:      time.Now(),
			})
		}
	}
	return nil
}

// adopt rebuilds a local position from the exchange report. Protective
// trigger prices are recomputed from the configured percentages since the
// original intent is unknown.
func (t *Trader) adopt(pr *model.PositionRisk) *model.Position {
	side := pr.Side()
	amt := pr.Amount.Abs()
	lev := pr.Leverage
	if lev <= 0 {
		lev = t.opts.Leverage
	}
	return &model.Position{
		Symbol:        pr.Symbol,
		Side:          side,
		Amount:        amt,
		EntryPrice:    pr.EntryPrice,
		Leverage:      lev,
		Margin:        ledger.Margin(ledger.Notional(amt, pr.EntryPrice), lev),
		SLPrice:       ledger.StopPrice(side, pr.EntryPrice, t.opts.SLPct),
		TPPrice:       ledger.TakeProfitPrice(side, pr.EntryPrice, t.opts.TPPct),
		HighWaterMark: pr.EntryPrice,
		EntryTime:     time.Now(),
	}
}

// verifyProtectionRefs clears order-ID references that no longer correspond
// to a resting order, so PlaceProtection re-creates those legs.
func (t *Trader) verifyProtectionRefs(pos *model.Position, open []model.Order) {
	live := make(map[string]bool, len(open))
	for i := range open {
		if open[i].IsOpen() {
			live[open[i].ID] = true
		}
	}
	if pos.StopOrderID != "" && !live[pos.StopOrderID] {
		pos.StopOrderID = ""
	}
	if pos.TakeProfitOrderID != "" && !live[pos.TakeProfitOrderID] {
		pos.TakeProfitOrderID = ""
	}
}

// Status assembles the full engine view: account, local positions, and open
// orders across tracked symbols.
func (t *Trader) Status(ctx context.Context) (model.Status, error) {
	acct, err := t.gw.Account(ctx)
	if err != nil {
		return model.Status{}, fmt.Errorf("status: account: %w", err)
	}

	var orders []model.Order
	for _, symbol := range t.Symbols() {
		open, err := t.gw.OpenOrders(ctx, symbol)
		if err != nil {
			return model.Status{}, fmt.Errorf("status: open orders %s: %w", symbol, err)
		}
		orders = append(orders, open...)
	}

	return model.Status{
		Account:   acct,
		Positions: t.Positions(),
		Orders:    orders,
		Timestamp: time.Now(),
	}, nil
}
