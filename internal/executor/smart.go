package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

// SmartEntry runs the maker-then-taker chase: rest a limit order at the best
// price on the entry side, poll its fill status until the chase timeout, then
// cancel and take the remainder with a market order.
//
// A partial fill can survive an error: the returned Fill is valid whenever
// Fill.Amount > 0, even alongside a non-nil error, and the caller owns that
// exposure.
func (e *Executor) SmartEntry(ctx context.Context, symbol string, side model.OrderSide, amount decimal.Decimal) (Fill, error) {
	ticker, err := e.gw.BookTicker(ctx, symbol)
	if err != nil {
		return Fill{}, fmt.Errorf("smart entry %s: book ticker: %w", symbol, err)
	}
	limitPrice := ticker.EntryQuote(side)

	order, err := e.gw.PlaceOrder(ctx, model.OrderRequest{
		Symbol: symbol,
		Type:   model.OrderTypeLimit,
		Side:   side,
		Price:  limitPrice,
		Amount: amount,
	})
	if err != nil {
		return Fill{}, fmt.Errorf("smart entry %s: place limit: %w", symbol, err)
	}
	e.logger.Info("smart entry: limit placed",
		zap.String("symbol", symbol),
		zap.String("order_id", order.ID),
		zap.String("price", limitPrice.String()))

	deadline := time.Now().Add(e.params.ChaseTimeout)
	for order.IsOpen() && time.Now().Before(deadline) {
		if err := e.sleep(ctx, e.params.PollInterval); err != nil {
			break
		}
		fetched, err := e.gw.GetOrder(ctx, symbol, order.ID)
		if err != nil {
			e.logger.Warn("smart entry: poll failed", zap.String("order_id", order.ID), zap.Error(err))
			continue
		}
		order = fetched
	}

	if order.Status == model.OrderStatusClosed {
		return Fill{Amount: order.Filled, AvgPrice: order.AvgPrice}, nil
	}

	// Timeout: cancel the limit leg, then confirm its final filled quantity.
	// A cancel racing a fill is possible, so the post-cancel fetch is the
	// only trusted source for the remainder.
	cancelErr := e.gw.CancelOrder(ctx, symbol, order.ID)
	confirmed, fetchErr := e.gw.GetOrder(ctx, symbol, order.ID)
	if fetchErr != nil {
		// One more attempt before giving up.
		confirmed, fetchErr = e.gw.GetOrder(ctx, symbol, order.ID)
	}
	if fetchErr != nil {
		if cancelErr != nil {
			return Fill{}, fmt.Errorf("smart entry %s: cancel failed (%v) and state unknown: %w", symbol, cancelErr, fetchErr)
		}
		return Fill{}, fmt.Errorf("smart entry %s: filled quantity unknown after cancel: %w", symbol, fetchErr)
	}

	limitFill := Fill{Amount: confirmed.Filled, AvgPrice: confirmed.AvgPrice}
	if confirmed.Status == model.OrderStatusClosed || confirmed.Remaining().LessThanOrEqual(decimal.Zero) {
		// Cancel lost the race; the order filled completely.
		return limitFill, nil
	}
	if confirmed.IsOpen() {
		// The limit leg is still live after the cancel attempt: chasing the
		// remainder now could fill both legs and double the exposure.
		if cancelErr != nil {
			return limitFill, fmt.Errorf("smart entry %s: cancel failed (%v), order %s still open", symbol, cancelErr, order.ID)
		}
		return limitFill, fmt.Errorf("smart entry %s: order %s still open after cancel", symbol, order.ID)
	}

	remainder := amount.Sub(confirmed.Filled)
	marketOrder, err := e.gw.PlaceOrder(ctx, model.OrderRequest{
		Symbol: symbol,
		Type:   model.OrderTypeMarket,
		Side:   side,
		Amount: remainder,
	})
	if err != nil {
		return limitFill, fmt.Errorf("smart entry %s: market chase: %w", symbol, err)
	}

	e.logger.Info("smart entry: chased remainder",
		zap.String("symbol", symbol),
		zap.String("remainder", remainder.String()),
		zap.String("avg_price", marketOrder.AvgPrice.String()))
	return limitFill.merge(Fill{Amount: marketOrder.Filled, AvgPrice: marketOrder.AvgPrice}), nil
}
