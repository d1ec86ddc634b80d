package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/exchange"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/trader"
)

// startSchedulers launches the periodic loops: the per-symbol trading tick,
// the reconciliation pass, and the status snapshot.
func (a *App) startSchedulers(ctx context.Context) {
	cfg := a.Config.Get()

	a.loops.Add(1)
	go func() {
		defer a.loops.Done()
		a.tickLoop(ctx, time.Duration(cfg.TickIntervalSec)*time.Second, cfg.WorkerCap)
	}()

	a.loops.Add(1)
	go func() {
		defer a.loops.Done()
		a.reconcileLoop(ctx, time.Duration(cfg.ReconcileIntervalSec)*time.Second)
	}()

	a.loops.Add(1)
	go func() {
		defer a.loops.Done()
		a.snapshotLoop(ctx, time.Duration(cfg.SnapshotIntervalSec)*time.Second)
	}()

	a.loops.Add(1)
	go func() {
		defer a.loops.Done()
		a.rolloverLoop(ctx, 24*time.Hour)
	}()
}

// rolloverLoop resets the realized-loss accounting window daily.
func (a *App) rolloverLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Risk.ResetWindow()
			a.Logger.Info("risk loss window reset")
		}
	}
}

// tickLoop fans each tick out over the symbol set with a bounded number of
// workers. A slow symbol delays only its own slot, not the whole set.
func (a *App) tickLoop(ctx context.Context, interval time.Duration, workerCap int) {
	if workerCap <= 0 {
		workerCap = 1
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sem := make(chan struct{}, workerCap)
			for _, symbol := range a.Trader.Symbols() {
				sem <- struct{}{}
				go func(symbol string) {
					defer func() { <-sem }()
					a.tickSymbol(ctx, symbol)
				}(symbol)
			}
			for i := 0; i < workerCap; i++ {
				sem <- struct{}{}
			}
		}
	}
}

// tickSymbol runs one symbol's cycle: mark price, exit management, then the
// latest signal.
func (a *App) tickSymbol(ctx context.Context, symbol string) {
	ticker, err := a.Gateway.BookTicker(ctx, symbol)
	if err != nil {
		a.Logger.Warn("tick: book ticker failed",
			zap.String("symbol", symbol), zap.Error(err))
		return
	}
	mark := ticker.Last
	a.Risk.ObservePrice(symbol, mark)

	if err := a.Trader.Manage(ctx, symbol, mark); err != nil {
		a.Logger.Error("tick: manage failed",
			zap.String("symbol", symbol), zap.Error(err))
	}

	sig, err := a.Signals.GetSignal(ctx, symbol)
	if err != nil {
		a.Logger.Warn("tick: signal fetch failed",
			zap.String("symbol", symbol), zap.Error(err))
		return
	}
	if sig.Direction == model.DirectionFlat {
		return
	}
	if err := a.Trader.Execute(ctx, symbol, sig, trader.ExecuteParams{}); err != nil {
		a.Logger.Error("tick: execute failed",
			zap.String("symbol", symbol), zap.Error(err))
	}
}

func (a *App) reconcileLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Trader.Reconcile(ctx); err != nil {
				a.Logger.Error("scheduled reconciliation incomplete", zap.Error(err))
			}
		}
	}
}

func (a *App) snapshotLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Snapshots.Write(ctx); err != nil {
				a.Logger.Warn("snapshot write failed", zap.Error(err))
			}
		}
	}
}

// startUserStream runs the user-data websocket and turns pushed fills of
// reduce-only orders into immediate per-symbol reconciliation, so a fired
// stop is observed in seconds instead of at the next scheduled pass.
func (a *App) startUserStream(ctx context.Context) {
	updates := make(chan exchange.OrderUpdate, 256)
	go a.UserStream.Run(ctx, updates)

	a.loops.Add(1)
	go func() {
		defer a.loops.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-updates:
				a.Logger.Debug("order update",
					zap.String("symbol", u.Symbol),
					zap.String("order_id", u.OrderID),
					zap.String("status", string(u.Status)))
				if u.Status != model.OrderStatusClosed {
					continue
				}
				if err := a.Trader.ReconcileSymbol(ctx, u.Symbol); err != nil {
					a.Logger.Warn("stream-triggered reconcile failed",
						zap.String("symbol", u.Symbol), zap.Error(err))
				}
			}
		}
	}()
}
