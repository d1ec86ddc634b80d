// Package ledger holds the margin, PnL, and liquidation arithmetic shared by
// live trading and backtesting. These functions are the single source of
// truth: both paths call them, neither reimplements the math.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

// Notional is the position size in quote currency: amount * price.
func Notional(amount, price decimal.Decimal) decimal.Decimal {
	return amount.Mul(price)
}

// Margin is the capital held against a leveraged position: notional / leverage.
func Margin(notional decimal.Decimal, leverage int) decimal.Decimal {
	if leverage <= 0 {
		return notional
	}
	return notional.Div(decimal.NewFromInt(int64(leverage)))
}

// UnrealizedPnl returns the mark-to-market profit of an open position:
// (mark - entry) * amount for a long, (entry - mark) * amount for a short.
func UnrealizedPnl(side model.Side, entry, mark, amount decimal.Decimal) decimal.Decimal {
	if side == model.SideShort {
		return entry.Sub(mark).Mul(amount)
	}
	return mark.Sub(entry).Mul(amount)
}

// IsLiquidated reports whether losses have consumed the position's margin:
// pnl <= -margin. This bound is checked before any other exit rule.
func IsLiquidated(pnl, margin decimal.Decimal) bool {
	return pnl.LessThanOrEqual(margin.Neg())
}

// ROI is the return on the margin held: pnl / margin.
func ROI(pnl, margin decimal.Decimal) decimal.Decimal {
	if margin.IsZero() {
		return decimal.Zero
	}
	return pnl.Div(margin)
}

// LiquidationPrice returns the mark price at which the position's unrealized
// loss exactly equals its margin. For leverage L this sits at
// entry * (1 - 1/L) for a long and entry * (1 + 1/L) for a short.
func LiquidationPrice(side model.Side, entry decimal.Decimal, leverage int) decimal.Decimal {
	if leverage <= 0 {
		return decimal.Zero
	}
	step := entry.Div(decimal.NewFromInt(int64(leverage)))
	if side == model.SideShort {
		return entry.Add(step)
	}
	return entry.Sub(step)
}

// StopPrice returns the stop-loss trigger a fraction slPct away from entry,
// on the losing side of the position.
func StopPrice(side model.Side, entry decimal.Decimal, slPct float64) decimal.Decimal {
	d := entry.Mul(decimal.NewFromFloat(slPct))
	if side == model.SideShort {
		return entry.Add(d)
	}
	return entry.Sub(d)
}

// TakeProfitPrice returns the take-profit trigger a fraction tpPct away from
// entry, on the winning side of the position.
func TakeProfitPrice(side model.Side, entry decimal.Decimal, tpPct float64) decimal.Decimal {
	d := entry.Mul(decimal.NewFromFloat(tpPct))
	if side == model.SideShort {
		return entry.Sub(d)
	}
	return entry.Add(d)
}
