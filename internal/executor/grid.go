package executor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

// GridEntry places stacked limit legs at increasing offsets from the best
// price on the entry side, waits a window for them to fill, cancels the
// leftovers, and chases any remainder through the smart entry. Intended for
// low-volatility regimes where resting deeper captures maker fills.
func (e *Executor) GridEntry(ctx context.Context, symbol string, side model.OrderSide, amount decimal.Decimal) (Fill, error) {
	ticker, err := e.gw.BookTicker(ctx, symbol)
	if err != nil {
		return Fill{}, fmt.Errorf("grid entry %s: book ticker: %w", symbol, err)
	}
	best := ticker.EntryQuote(side)

	levels := e.params.GridLevels
	legQty := amount.Div(decimal.NewFromInt(int64(levels))).Truncate(8)
	spacing := decimal.NewFromFloat(e.params.GridSpacingPct)

	legIDs := make([]string, 0, levels)
	placed := decimal.Zero
	for level := 1; level <= levels; level++ {
		qty := legQty
		if level == levels {
			qty = amount.Sub(placed)
		}
		if qty.LessThanOrEqual(decimal.Zero) {
			break
		}

		offset := best.Mul(spacing).Mul(decimal.NewFromInt(int64(level)))
		price := best.Sub(offset)
		if side == model.OrderSideSell {
			price = best.Add(offset)
		}

		order, err := e.gw.PlaceOrder(ctx, model.OrderRequest{
			Symbol: symbol,
			Type:   model.OrderTypeLimit,
			Side:   side,
			Price:  price,
			Amount: qty,
		})
		if err != nil {
			// Legs already resting stay tracked; collect what they fill.
			e.logger.Warn("grid entry: leg placement failed",
				zap.String("symbol", symbol),
				zap.Int("level", level),
				zap.Error(err))
			break
		}
		legIDs = append(legIDs, order.ID)
		placed = placed.Add(qty)
	}
	if len(legIDs) == 0 {
		return Fill{}, fmt.Errorf("grid entry %s: no legs placed", symbol)
	}

	if err := e.sleep(ctx, e.params.GridWait); err != nil {
		e.logger.Warn("grid entry: wait interrupted", zap.String("symbol", symbol), zap.Error(err))
	}

	// Cancel unfilled legs and confirm each one's final fill. The
	// post-cancel fetch decides the remainder, same as the smart chase.
	var fill Fill
	for _, id := range legIDs {
		leg, err := e.gw.GetOrder(ctx, symbol, id)
		if err != nil {
			return fill, fmt.Errorf("grid entry %s: leg %s state unknown: %w", symbol, id, err)
		}
		if leg.IsOpen() {
			cancelErr := e.gw.CancelOrder(ctx, symbol, id)
			leg, err = e.gw.GetOrder(ctx, symbol, id)
			if err != nil {
				if cancelErr != nil {
					return fill, fmt.Errorf("grid entry %s: leg %s cancel failed (%v) and state unknown: %w", symbol, id, cancelErr, err)
				}
				return fill, fmt.Errorf("grid entry %s: leg %s fill unknown after cancel: %w", symbol, id, err)
			}
		}
		if leg.Filled.IsPositive() {
			fill = fill.merge(Fill{Amount: leg.Filled, AvgPrice: leg.AvgPrice})
		}
	}

	remainder := amount.Sub(fill.Amount)
	if remainder.LessThanOrEqual(decimal.Zero) {
		return fill, nil
	}

	e.logger.Info("grid entry: chasing remainder",
		zap.String("symbol", symbol),
		zap.String("filled", fill.Amount.String()),
		zap.String("remainder", remainder.String()))

	chase, err := e.SmartEntry(ctx, symbol, side, remainder)
	fill = fill.merge(chase)
	if err != nil {
		return fill, fmt.Errorf("grid entry %s: chase: %w", symbol, err)
	}
	return fill, nil
}
