package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExitReason records why a backtest trade was closed.
type ExitReason string

const (
	ExitTakeProfit  ExitReason = "take_profit"
	ExitStopLoss    ExitReason = "stop_loss"
	ExitLiquidation ExitReason = "liquidation"
	ExitReversal    ExitReason = "reversal"
	ExitRetracement ExitReason = "retracement"
	ExitEndOfData   ExitReason = "end_of_data"
)

// BacktestTrade is one closed simulated trade. Append-only, produced solely
// by the backtest engine.
type BacktestTrade struct {
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	EntryTime    time.Time       `json:"entry_time"`
	ExitTime     time.Time       `json:"exit_time"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	ExitPrice    decimal.Decimal `json:"exit_price"`
	Amount       decimal.Decimal `json:"amount"`
	PnL          decimal.Decimal `json:"pnl"`
	Fee          decimal.Decimal `json:"fee"`
	Reason       ExitReason      `json:"reason"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
}

// EquityPoint is a timestamped balance snapshot on the simulated equity curve.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Balance   decimal.Decimal `json:"balance"`
}

// BacktestReport summarises one backtest run.
type BacktestReport struct {
	Symbol         string          `json:"symbol"`
	TotalTrades    int             `json:"total_trades"`
	WinRate        float64         `json:"win_rate"`
	TotalReturn    decimal.Decimal `json:"total_return"`
	ProfitFactor   float64         `json:"profit_factor"`
	MaxDrawdown    float64         `json:"max_drawdown"`
	SharpeRatio    float64         `json:"sharpe_ratio"`
	Liquidations   int             `json:"liquidations"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	FinalBalance   decimal.Decimal `json:"final_balance"`
	Trades         []BacktestTrade `json:"trades"`
	EquityCurve    []EquityPoint   `json:"equity_curve"`
}
