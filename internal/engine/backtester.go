// Package engine replays historical bars through the same margin, PnL, and
// liquidation arithmetic the live trader uses, and runs parameter sweeps
// over the resulting simulator.
package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/ledger"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

// Config are the backtest tunables. Percentages are fractions (0.02 = 2%).
type Config struct {
	Symbol         string
	InitialBalance decimal.Decimal
	Leverage       int
	SLPct          float64
	TPPct          float64
	RetracementPct float64
	FeeRate        float64 // taker fee per side
	Slippage       float64 // adverse price impact per market fill
	RiskPerTrade   float64 // fraction of balance risked between entry and stop
	MaxPositionPct float64 // cap on notional as a fraction of balance*leverage

	// ConfidenceThreshold gates signal evaluation: signals below it are
	// treated as flat. Zero acts on everything.
	ConfidenceThreshold float64
}

// DefaultConfig mirrors the live defaults: 10x leverage, 2% stop, 6% target,
// 0.05% taker fee, risking 2% of balance per trade.
func DefaultConfig(symbol string) Config {
	return Config{
		Symbol:         symbol,
		InitialBalance: decimal.NewFromInt(10000),
		Leverage:       10,
		SLPct:          0.02,
		TPPct:          0.06,
		RetracementPct: 0.015,
		FeeRate:        0.0005,
		Slippage:       0.0005,
		RiskPerTrade:   0.02,
		MaxPositionPct: 1.0,
	}
}

// Backtester replays bars against precomputed signals. One instance runs one
// pass; sweeps construct a fresh instance per parameter set.
type Backtester struct {
	cfg    Config
	logger *zap.Logger

	balance decimal.Decimal
	pos     *simPosition

	trades       []model.BacktestTrade
	equityCurve  []model.EquityPoint
	returns      []float64
	liquidations int
}

type simPosition struct {
	side          model.Side
	amount        decimal.Decimal
	entryPrice    decimal.Decimal
	margin        decimal.Decimal
	slPrice       decimal.Decimal
	tpPrice       decimal.Decimal
	liqPrice      decimal.Decimal
	highWaterMark decimal.Decimal
	entryTime     time.Time
}

// NewBacktester builds a simulator with the given config.
func NewBacktester(cfg Config, logger *zap.Logger) *Backtester {
	return &Backtester{
		cfg:     cfg,
		logger:  logger,
		balance: cfg.InitialBalance,
	}
}

// Run replays bars against signals, one signal per bar. Exit checks run in
// severity order on every bar before the bar's signal is considered:
// liquidation, stop-loss, take-profit, retracement. Both bound prices use
// bar extremes, so an exit triggers even when the close never touches it.
func (b *Backtester) Run(bars []model.Bar, signals []model.Signal) (model.BacktestReport, error) {
	if len(bars) != len(signals) {
		return model.BacktestReport{}, fmt.Errorf("backtest: %d bars but %d signals", len(bars), len(signals))
	}
	if !b.cfg.InitialBalance.IsPositive() {
		return model.BacktestReport{}, fmt.Errorf("backtest: non-positive initial balance")
	}

	prevEquity := b.balance
	for i := range bars {
		bar := &bars[i]

		if b.pos != nil {
			b.checkExits(bar)
		}

		sig := signals[i]
		if sig.Confidence < b.cfg.ConfidenceThreshold {
			// Weak signals read as flat.
			sig.Direction = model.DirectionFlat
		}
		switch {
		case b.pos != nil && sig.Opposes(b.pos.side):
			b.close(bar, bar.Close, model.ExitReversal)
		case b.pos == nil && sig.Direction != model.DirectionFlat:
			b.open(bar, sig.PositionSide())
		}

		equity := b.equity(bar.Close)
		b.equityCurve = append(b.equityCurve, model.EquityPoint{
			Timestamp: bar.Timestamp,
			Balance:   equity,
		})
		if prevEquity.IsPositive() {
			ret, _ := equity.Sub(prevEquity).Div(prevEquity).Float64()
			b.returns = append(b.returns, ret)
		}
		prevEquity = equity

		if !b.balance.IsPositive() && b.pos == nil {
			b.logger.Warn("backtest balance exhausted",
				zap.String("symbol", b.cfg.Symbol),
				zap.Int("bar", i))
			break
		}
	}

	if b.pos != nil && len(bars) > 0 {
		last := &bars[len(bars)-1]
		b.close(last, last.Close, model.ExitEndOfData)
	}

	return b.report(), nil
}

// checkExits applies the per-bar price-driven exit rules in severity order.
func (b *Backtester) checkExits(bar *model.Bar) {
	pos := b.pos

	if touched(pos.side, bar, pos.liqPrice, true) {
		b.liquidate(bar)
		return
	}
	if touched(pos.side, bar, pos.slPrice, true) {
		b.close(bar, pos.slPrice, model.ExitStopLoss)
		return
	}
	if touched(pos.side, bar, pos.tpPrice, false) {
		b.close(bar, pos.tpPrice, model.ExitTakeProfit)
		return
	}

	// Track the favorable extreme for the retracement rule.
	if pos.side == model.SideLong {
		if bar.High.GreaterThan(pos.highWaterMark) {
			pos.highWaterMark = bar.High
		}
	} else if bar.Low.LessThan(pos.highWaterMark) {
		pos.highWaterMark = bar.Low
	}
	if b.cfg.RetracementPct > 0 && b.retraced(bar.Close) {
		b.close(bar, bar.Close, model.ExitRetracement)
	}
}

// touched reports whether the bar's range reached price on the adverse side
// (stop/liquidation) or the favorable side (take-profit) of the position.
func touched(side model.Side, bar *model.Bar, price decimal.Decimal, adverse bool) bool {
	if !price.IsPositive() {
		return false
	}
	long := side == model.SideLong
	if long == adverse {
		return bar.Low.LessThanOrEqual(price)
	}
	return bar.High.GreaterThanOrEqual(price)
}

func (b *Backtester) retraced(close decimal.Decimal) bool {
	pos := b.pos
	pnl := ledger.UnrealizedPnl(pos.side, pos.entryPrice, close, pos.amount)
	if !pnl.IsPositive() {
		return false
	}
	var retrace decimal.Decimal
	if pos.side == model.SideShort {
		retrace = close.Sub(pos.highWaterMark).Div(pos.highWaterMark)
	} else {
		retrace = pos.highWaterMark.Sub(close).Div(pos.highWaterMark)
	}
	return retrace.GreaterThanOrEqual(decimal.NewFromFloat(b.cfg.RetracementPct))
}

// open sizes a position off the distance to its stop: risking RiskPerTrade of
// balance over SLPct of entry price, capped at MaxPositionPct of the
// leverage-extended balance. The entry pays taker fee and slippage.
func (b *Backtester) open(bar *model.Bar, side model.Side) {
	slip := decimal.NewFromFloat(b.cfg.Slippage)
	price := bar.Close
	if side == model.SideLong {
		price = price.Mul(decimal.NewFromInt(1).Add(slip))
	} else {
		price = price.Mul(decimal.NewFromInt(1).Sub(slip))
	}
	if !price.IsPositive() {
		return
	}

	stopDistance := price.Mul(decimal.NewFromFloat(b.cfg.SLPct))
	if !stopDistance.IsPositive() {
		return
	}
	riskAmount := b.balance.Mul(decimal.NewFromFloat(b.cfg.RiskPerTrade))
	amount := riskAmount.Div(stopDistance)

	maxNotional := b.balance.
		Mul(decimal.NewFromInt(int64(b.cfg.Leverage))).
		Mul(decimal.NewFromFloat(b.cfg.MaxPositionPct))
	if ledger.Notional(amount, price).GreaterThan(maxNotional) {
		amount = maxNotional.Div(price)
	}
	amount = amount.Truncate(8)
	if !amount.IsPositive() {
		return
	}

	notional := ledger.Notional(amount, price)
	fee := notional.Mul(decimal.NewFromFloat(b.cfg.FeeRate))
	b.balance = b.balance.Sub(fee)

	b.pos = &simPosition{
		side:          side,
		amount:        amount,
		entryPrice:    price,
		margin:        ledger.Margin(notional, b.cfg.Leverage),
		slPrice:       ledger.StopPrice(side, price, b.cfg.SLPct),
		tpPrice:       ledger.TakeProfitPrice(side, price, b.cfg.TPPct),
		liqPrice:      ledger.LiquidationPrice(side, price, b.cfg.Leverage),
		highWaterMark: price,
		entryTime:     bar.Timestamp,
	}
}

// close realizes the position at exitPrice and books the exit fee.
func (b *Backtester) close(bar *model.Bar, exitPrice decimal.Decimal, reason model.ExitReason) {
	pos := b.pos
	pnl := ledger.UnrealizedPnl(pos.side, pos.entryPrice, exitPrice, pos.amount)
	fee := ledger.Notional(pos.amount, exitPrice).Mul(decimal.NewFromFloat(b.cfg.FeeRate))
	b.balance = b.balance.Add(pnl).Sub(fee)
	b.record(bar, exitPrice, pnl, fee, reason)
	b.pos = nil
}

// liquidate books the total loss of the position's margin. No exit fee: the
// margin is already gone.
func (b *Backtester) liquidate(bar *model.Bar) {
	pos := b.pos
	pnl := pos.margin.Neg()
	b.balance = b.balance.Add(pnl)
	// Entry fees already paid can push past the margin; the account floors
	// at zero.
	if b.balance.IsNegative() {
		b.balance = decimal.Zero
	}
	b.liquidations++
	b.record(bar, pos.liqPrice, pnl, decimal.Zero, model.ExitLiquidation)
	b.pos = nil
}

func (b *Backtester) record(bar *model.Bar, exitPrice, pnl, fee decimal.Decimal, reason model.ExitReason) {
	pos := b.pos
	b.trades = append(b.trades, model.BacktestTrade{
		Symbol:       b.cfg.Symbol,
		Side:         pos.side,
		EntryTime:    pos.entryTime,
		ExitTime:     bar.Timestamp,
		EntryPrice:   pos.entryPrice,
		ExitPrice:    exitPrice,
		Amount:       pos.amount,
		PnL:          pnl,
		Fee:          fee,
		Reason:       reason,
		BalanceAfter: b.balance,
	})
}

func (b *Backtester) equity(mark decimal.Decimal) decimal.Decimal {
	if b.pos == nil {
		return b.balance
	}
	return b.balance.Add(ledger.UnrealizedPnl(b.pos.side, b.pos.entryPrice, mark, b.pos.amount))
}

func (b *Backtester) report() model.BacktestReport {
	wins := 0
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	for _, tr := range b.trades {
		net := tr.PnL.Sub(tr.Fee)
		if net.IsPositive() {
			wins++
			grossProfit = grossProfit.Add(net)
		} else {
			grossLoss = grossLoss.Add(net.Neg())
		}
	}

	winRate := 0.0
	if len(b.trades) > 0 {
		winRate = float64(wins) / float64(len(b.trades))
	}
	profitFactor := 0.0
	if grossLoss.IsPositive() {
		profitFactor, _ = grossProfit.Div(grossLoss).Float64()
	} else if grossProfit.IsPositive() {
		profitFactor = math.Inf(1)
	}

	return model.BacktestReport{
		Symbol:         b.cfg.Symbol,
		TotalTrades:    len(b.trades),
		WinRate:        winRate,
		TotalReturn:    b.balance.Sub(b.cfg.InitialBalance).Div(b.cfg.InitialBalance),
		ProfitFactor:   profitFactor,
		MaxDrawdown:    maxDrawdown(b.equityCurve),
		SharpeRatio:    sharpe(b.returns),
		Liquidations:   b.liquidations,
		InitialBalance: b.cfg.InitialBalance,
		FinalBalance:   b.balance,
		Trades:         b.trades,
		EquityCurve:    b.equityCurve,
	}
}

func maxDrawdown(curve []model.EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Balance
	maxDD := decimal.Zero
	for _, p := range curve {
		if p.Balance.GreaterThan(peak) {
			peak = p.Balance
		}
		if !peak.IsPositive() {
			continue
		}
		dd := peak.Sub(p.Balance).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	out, _ := maxDD.Float64()
	return out
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sq float64
	for _, r := range returns {
		d := r - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(returns)))
	if std == 0 {
		return 0
	}
	return mean / std
}
