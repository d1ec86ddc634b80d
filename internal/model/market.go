package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV candle of historical or streamed market data.
type Bar struct {
	Symbol    string          `json:"symbol" db:"symbol"`
	Timeframe string          `json:"timeframe" db:"period"` // "1m", "5m", "1h"
	Open      decimal.Decimal `json:"o" db:"open"`
	High      decimal.Decimal `json:"h" db:"high"`
	Low       decimal.Decimal `json:"l" db:"low"`
	Close     decimal.Decimal `json:"c" db:"close"`
	Volume    decimal.Decimal `json:"v" db:"volume"`
	Timestamp time.Time       `json:"t" db:"time"`
}

// Ticker is the current top-of-book quote for a symbol.
type Ticker struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Timestamp time.Time       `json:"ts"`
}

// EntryQuote returns the book price on the entry side: best bid for a buy,
// best ask for a sell.
func (t Ticker) EntryQuote(side OrderSide) decimal.Decimal {
	if side == OrderSideBuy {
		return t.Bid
	}
	return t.Ask
}
