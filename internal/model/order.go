package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType enumerates the order types the engine places.
type OrderType string

const (
	OrderTypeMarket           OrderType = "market"
	OrderTypeLimit            OrderType = "limit"
	OrderTypeStopMarket       OrderType = "stop_market"
	OrderTypeTakeProfitMarket OrderType = "take_profit_market"
)

// OrderSide is the exchange-level buy/sell direction.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// EntrySide maps a position side to the order side that opens it.
func EntrySide(s Side) OrderSide {
	if s == SideLong {
		return OrderSideBuy
	}
	return OrderSideSell
}

// ExitSide maps a position side to the order side that closes it.
func ExitSide(s Side) OrderSide {
	if s == SideLong {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderStatus mirrors the exchange order lifecycle.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusClosed          OrderStatus = "closed"
	OrderStatusCanceled        OrderStatus = "canceled"
)

// Order is the ephemeral record of exchange intent. Protective orders
// (stop_market, take_profit_market) tied to an open position always carry
// ReduceOnly; a reduce-only order with no live position is stale.
type Order struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Type       OrderType       `json:"type"`
	Side       OrderSide       `json:"side"`
	Price      decimal.Decimal `json:"price"`
	StopPrice  decimal.Decimal `json:"stop_price"`
	Amount     decimal.Decimal `json:"amount"`
	Filled     decimal.Decimal `json:"filled"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	Status     OrderStatus     `json:"status"`
	ReduceOnly bool            `json:"reduce_only"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// IsOpen reports whether the order can still fill.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusNew || o.Status == OrderStatusPartiallyFilled
}

// IsProtective reports whether the order is a stop or take-profit leg.
func (o *Order) IsProtective() bool {
	return o.Type == OrderTypeStopMarket || o.Type == OrderTypeTakeProfitMarket
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.Filled)
}

// OrderRequest is the engine-side order submission payload.
type OrderRequest struct {
	Symbol     string
	Type       OrderType
	Side       OrderSide
	Price      decimal.Decimal // limit price, ignored for market types
	StopPrice  decimal.Decimal // trigger price for stop/take-profit market
	Amount     decimal.Decimal
	ReduceOnly bool
}
