// Package exchange wraps the futures exchange REST and user-data stream
// APIs behind a resilient, rate-limit-aware, clock-synchronized gateway.
package exchange

import (
	"context"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

// Gateway is the surface the executor and trader place orders through. The
// concrete implementation is the Binance USD-M futures client; tests use the
// in-memory mock.
type Gateway interface {
	// PlaceOrder submits a new order and returns the exchange's view of it.
	PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error)

	// CancelOrder cancels an order by ID. A cancel racing a fill is possible;
	// callers must re-fetch order state before acting on the remainder.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// GetOrder fetches the authoritative state of a single order.
	GetOrder(ctx context.Context, symbol, orderID string) (model.Order, error)

	// OpenOrders lists live orders, per symbol when one is given.
	OpenOrders(ctx context.Context, symbol string) ([]model.Order, error)

	// Positions lists exchange-reported positions, per symbol when one is
	// given. Per-symbol fetch is preferred when the symbol set is small.
	Positions(ctx context.Context, symbol string) ([]model.PositionRisk, error)

	// Account returns wallet balance and margin-balance equity.
	Account(ctx context.Context) (model.AccountState, error)

	// BookTicker returns the current best bid/ask.
	BookTicker(ctx context.Context, symbol string) (model.Ticker, error)

	// SetLeverage sets the symbol's leverage before an entry.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
