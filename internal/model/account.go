package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountState is the exchange-reported account snapshot, cached with a
// short TTL by the gateway.
type AccountState struct {
	WalletBalance   decimal.Decimal `json:"wallet_balance"`
	Equity          decimal.Decimal `json:"equity"` // wallet + unrealized PnL across all symbols
	OpenOrdersCount int             `json:"open_orders_count"`
	FetchedAt       time.Time       `json:"fetched_at"`
}

// Status is the point-in-time engine view exposed to callers and persisted
// as the JSON snapshot.
type Status struct {
	Account   AccountState `json:"account"`
	Positions []Position   `json:"positions"`
	Orders    []Order      `json:"orders"`
	Timestamp time.Time    `json:"timestamp"`
}
