package executor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

// PlaceProtection synthesizes the stop-loss and take-profit legs for a
// confirmed entry. Both are reduce-only market-trigger orders sized to the
// actual filled amount, never the requested amount. The stop goes in first;
// a failure on either leg is returned so the caller can escalate to the
// reconciliation retry path.
func (e *Executor) PlaceProtection(ctx context.Context, pos *model.Position) error {
	exitSide := model.ExitSide(pos.Side)

	if pos.SLPrice.IsPositive() && pos.StopOrderID == "" {
		stop, err := e.gw.PlaceOrder(ctx, model.OrderRequest{
			Symbol:     pos.Symbol,
			Type:       model.OrderTypeStopMarket,
			Side:       exitSide,
			StopPrice:  pos.SLPrice,
			Amount:     pos.Amount,
			ReduceOnly: true,
		})
		if err != nil {
			return fmt.Errorf("place stop for %s: %w", pos.Symbol, err)
		}
		pos.StopOrderID = stop.ID
		e.logger.Info("stop-loss placed",
			zap.String("symbol", pos.Symbol),
			zap.String("order_id", stop.ID),
			zap.String("trigger", pos.SLPrice.String()))
	}

	if pos.TPPrice.IsPositive() && pos.TakeProfitOrderID == "" {
		tp, err := e.gw.PlaceOrder(ctx, model.OrderRequest{
			Symbol:     pos.Symbol,
			Type:       model.OrderTypeTakeProfitMarket,
			Side:       exitSide,
			StopPrice:  pos.TPPrice,
			Amount:     pos.Amount,
			ReduceOnly: true,
		})
		if err != nil {
			return fmt.Errorf("place take-profit for %s: %w", pos.Symbol, err)
		}
		pos.TakeProfitOrderID = tp.ID
		e.logger.Info("take-profit placed",
			zap.String("symbol", pos.Symbol),
			zap.String("order_id", tp.ID),
			zap.String("trigger", pos.TPPrice.String()))
	}

	return nil
}

// MoveStop replaces the live stop with one at newStop: cancel-old then
// place-new, so two stop legs never rest at once. If the old stop cannot be
// confirmed gone, the move is aborted and the old stop stays authoritative.
func (e *Executor) MoveStop(ctx context.Context, pos *model.Position, newStop decimal.Decimal) error {
	if pos.StopOrderID != "" {
		if err := e.gw.CancelOrder(ctx, pos.Symbol, pos.StopOrderID); err != nil {
			old, fetchErr := e.gw.GetOrder(ctx, pos.Symbol, pos.StopOrderID)
			if fetchErr != nil || old.IsOpen() {
				return fmt.Errorf("move stop for %s: old stop not confirmed canceled: %w", pos.Symbol, err)
			}
		}
		pos.StopOrderID = ""
	}

	stop, err := e.gw.PlaceOrder(ctx, model.OrderRequest{
		Symbol:     pos.Symbol,
		Type:       model.OrderTypeStopMarket,
		Side:       model.ExitSide(pos.Side),
		StopPrice:  newStop,
		Amount:     pos.Amount,
		ReduceOnly: true,
	})
	if err != nil {
		// Position is momentarily unprotected; reconciliation re-synthesizes.
		return fmt.Errorf("move stop for %s: place new stop: %w", pos.Symbol, err)
	}
	pos.StopOrderID = stop.ID
	pos.SLPrice = newStop
	e.logger.Info("stop moved",
		zap.String("symbol", pos.Symbol),
		zap.String("order_id", stop.ID),
		zap.String("trigger", newStop.String()))
	return nil
}

// CancelProtection removes both protective legs, used when closing a
// position deliberately.
func (e *Executor) CancelProtection(ctx context.Context, pos *model.Position) error {
	var firstErr error
	for _, id := range []string{pos.StopOrderID, pos.TakeProfitOrderID} {
		if id == "" {
			continue
		}
		if err := e.gw.CancelOrder(ctx, pos.Symbol, id); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("cancel protection for %s: %w", pos.Symbol, err)
		}
	}
	pos.StopOrderID = ""
	pos.TakeProfitOrderID = ""
	return firstErr
}
