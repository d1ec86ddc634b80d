package executor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

// TWAPEntry splits a large entry into equal market chunks with a fixed
// inter-chunk delay. The final chunk takes the division remainder so the
// chunk quantities always sum to the requested amount. The realized price is
// the fill-weighted average across chunks; a partial result survives a
// mid-sequence failure.
func (e *Executor) TWAPEntry(ctx context.Context, symbol string, side model.OrderSide, amount decimal.Decimal) (Fill, error) {
	chunks := e.params.TwapChunks
	chunk := amount.Div(decimal.NewFromInt(int64(chunks))).Truncate(8)

	var fill Fill
	placed := decimal.Zero
	for i := 0; i < chunks; i++ {
		qty := chunk
		if i == chunks-1 {
			qty = amount.Sub(placed)
		}
		if qty.LessThanOrEqual(decimal.Zero) {
			break
		}

		order, err := e.gw.PlaceOrder(ctx, model.OrderRequest{
			Symbol: symbol,
			Type:   model.OrderTypeMarket,
			Side:   side,
			Amount: qty,
		})
		if err != nil {
			return fill, fmt.Errorf("twap %s: chunk %d/%d: %w", symbol, i+1, chunks, err)
		}
		placed = placed.Add(qty)
		fill = fill.merge(Fill{Amount: order.Filled, AvgPrice: order.AvgPrice})

		e.logger.Info("twap: chunk filled",
			zap.String("symbol", symbol),
			zap.Int("chunk", i+1),
			zap.Int("chunks", chunks),
			zap.String("qty", qty.String()),
			zap.String("avg_price", order.AvgPrice.String()))

		if i < chunks-1 {
			if err := e.sleep(ctx, e.params.TwapDelay); err != nil {
				return fill, fmt.Errorf("twap %s: interrupted after chunk %d: %w", symbol, i+1, err)
			}
		}
	}
	return fill, nil
}
