package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) model.Bar {
	return model.Bar{
		Symbol:    "BTCUSDT",
		Timeframe: "1m",
		Open:      d(o),
		High:      d(h),
		Low:       d(l),
		Close:     d(c),
		Volume:    d(100),
		Timestamp: t0.Add(time.Duration(i) * time.Minute),
	}
}

func long() model.Signal { return model.Signal{Direction: model.DirectionLong} }
func flat() model.Signal { return model.Signal{Direction: model.DirectionFlat} }

// frictionless config keeps the exit arithmetic exact
func exactConfig() Config {
	cfg := DefaultConfig("BTCUSDT")
	cfg.FeeRate = 0
	cfg.Slippage = 0
	cfg.RetracementPct = 0
	return cfg
}

func TestRunTakeProfitExit(t *testing.T) {
	bt := NewBacktester(exactConfig(), zap.NewNop())

	// Entry at 100 with a 6% target: the position closes at exactly 106.
	bars := []model.Bar{
		bar(0, 100, 100, 100, 100),
		bar(1, 100, 107, 99, 105),
	}
	report, err := bt.Run(bars, []model.Signal{long(), flat()})
	require.NoError(t, err)

	require.Len(t, report.Trades, 1)
	tr := report.Trades[0]
	assert.Equal(t, model.ExitTakeProfit, tr.Reason)
	assert.True(t, tr.ExitPrice.Equal(d(106)), "exit %s", tr.ExitPrice)
	// risk 2% of 10000 over a stop distance of 2 sizes 100 contracts
	assert.True(t, tr.Amount.Equal(d(100)), "amount %s", tr.Amount)
	assert.True(t, tr.PnL.Equal(d(600)), "pnl %s", tr.PnL)
	assert.True(t, report.FinalBalance.Equal(d(10600)))
}

func TestRunStopLossExit(t *testing.T) {
	bt := NewBacktester(exactConfig(), zap.NewNop())

	bars := []model.Bar{
		bar(0, 100, 100, 100, 100),
		bar(1, 100, 101, 97, 99),
	}
	report, err := bt.Run(bars, []model.Signal{long(), flat()})
	require.NoError(t, err)

	require.Len(t, report.Trades, 1)
	tr := report.Trades[0]
	assert.Equal(t, model.ExitStopLoss, tr.Reason)
	assert.True(t, tr.ExitPrice.Equal(d(98)))
	assert.True(t, tr.PnL.Equal(d(-200)), "pnl %s", tr.PnL)
}

func TestRunLiquidationAtBound(t *testing.T) {
	cfg := exactConfig()
	// Full-balance position so margin loss is visible: amount capped by
	// notional limit.
	cfg.RiskPerTrade = 1.0
	cfg.MaxPositionPct = 1.0
	bt := NewBacktester(cfg, zap.NewNop())

	// 10x long from 100 liquidates when the bar range touches 90.
	bars := []model.Bar{
		bar(0, 100, 100, 100, 100),
		bar(1, 100, 100, 90, 95),
	}
	report, err := bt.Run(bars, []model.Signal{long(), flat()})
	require.NoError(t, err)

	require.Len(t, report.Trades, 1)
	tr := report.Trades[0]
	assert.Equal(t, model.ExitLiquidation, tr.Reason)
	assert.True(t, tr.ExitPrice.Equal(d(90)))
	assert.Equal(t, 1, report.Liquidations)

	// The entire margin is gone: amount 1000 contracts at 100 is notional
	// 100000, margin 10000, so the account is wiped.
	assert.True(t, tr.PnL.Equal(d(-10000)), "pnl %s", tr.PnL)
	assert.True(t, report.FinalBalance.IsZero(), "balance %s", report.FinalBalance)
}

func TestRunLiquidationBeatsStopOnSameBar(t *testing.T) {
	bt := NewBacktester(exactConfig(), zap.NewNop())

	// The bar sweeps through both the 98 stop and the 90 liquidation
	// bound; the worse outcome is booked.
	bars := []model.Bar{
		bar(0, 100, 100, 100, 100),
		bar(1, 100, 100, 89, 95),
	}
	report, err := bt.Run(bars, []model.Signal{long(), flat()})
	require.NoError(t, err)
	require.Len(t, report.Trades, 1)
	assert.Equal(t, model.ExitLiquidation, report.Trades[0].Reason)
}

func TestRunLiquidationFloorsBalanceAtZero(t *testing.T) {
	cfg := exactConfig()
	cfg.Leverage = 2
	cfg.RiskPerTrade = 1.0
	cfg.MaxPositionPct = 1.0
	cfg.FeeRate = 0.001
	bt := NewBacktester(cfg, zap.NewNop())

	// The leverage cap binds: notional 20000, margin 10000 = the whole
	// balance. The entry fee leaves 9980, so the margin loss would book
	// -20 without the zero floor.
	bars := []model.Bar{
		bar(0, 100, 100, 100, 100),
		bar(1, 100, 100, 49, 50),
	}
	report, err := bt.Run(bars, []model.Signal{long(), flat()})
	require.NoError(t, err)
	require.Len(t, report.Trades, 1)
	assert.Equal(t, model.ExitLiquidation, report.Trades[0].Reason)
	assert.True(t, report.FinalBalance.IsZero(), "final %s", report.FinalBalance)
}

func TestRunConfidenceGateSkipsWeakSignals(t *testing.T) {
	cfg := exactConfig()
	cfg.ConfidenceThreshold = 0.7
	bt := NewBacktester(cfg, zap.NewNop())

	bars := []model.Bar{
		bar(0, 100, 100, 100, 100),
		bar(1, 100, 110, 100, 108),
	}
	weak := model.Signal{Direction: model.DirectionLong, Confidence: 0.6}
	report, err := bt.Run(bars, []model.Signal{weak, flat()})
	require.NoError(t, err)

	assert.Empty(t, report.Trades)
	assert.True(t, report.FinalBalance.Equal(d(10000)))
}

func TestRunStopBeatsTakeProfitOnSameBar(t *testing.T) {
	bt := NewBacktester(exactConfig(), zap.NewNop())

	bars := []model.Bar{
		bar(0, 100, 100, 100, 100),
		bar(1, 100, 107, 97, 100),
	}
	report, err := bt.Run(bars, []model.Signal{long(), flat()})
	require.NoError(t, err)
	require.Len(t, report.Trades, 1)
	assert.Equal(t, model.ExitStopLoss, report.Trades[0].Reason)
}

func TestRunReversalCloseWithoutFlip(t *testing.T) {
	bt := NewBacktester(exactConfig(), zap.NewNop())

	bars := []model.Bar{
		bar(0, 100, 100, 100, 100),
		bar(1, 100, 102, 99, 101),
		bar(2, 101, 102, 100, 101),
	}
	signals := []model.Signal{long(), {Direction: model.DirectionShort}, flat()}
	report, err := bt.Run(bars, signals)
	require.NoError(t, err)

	// The short signal closes the long at the bar close; no short opens on
	// the same bar.
	require.Len(t, report.Trades, 1)
	tr := report.Trades[0]
	assert.Equal(t, model.ExitReversal, tr.Reason)
	assert.Equal(t, model.SideLong, tr.Side)
	assert.True(t, tr.ExitPrice.Equal(d(101)))
}

func TestRunEndOfDataClose(t *testing.T) {
	bt := NewBacktester(exactConfig(), zap.NewNop())

	bars := []model.Bar{
		bar(0, 100, 100, 100, 100),
		bar(1, 100, 101, 100, 101),
	}
	report, err := bt.Run(bars, []model.Signal{long(), flat()})
	require.NoError(t, err)

	require.Len(t, report.Trades, 1)
	assert.Equal(t, model.ExitEndOfData, report.Trades[0].Reason)
	assert.True(t, report.Trades[0].ExitPrice.Equal(d(101)))
}

func TestRunFeesBothSides(t *testing.T) {
	cfg := exactConfig()
	cfg.FeeRate = 0.001
	bt := NewBacktester(cfg, zap.NewNop())

	bars := []model.Bar{
		bar(0, 100, 100, 100, 100),
		bar(1, 100, 107, 99, 105),
	}
	report, err := bt.Run(bars, []model.Signal{long(), flat()})
	require.NoError(t, err)

	// Entry fee 0.1% of 10000 notional, exit fee 0.1% of 10600.
	require.Len(t, report.Trades, 1)
	expected := d(10600).Sub(d(10)).Sub(d(10.6))
	assert.True(t, report.FinalBalance.Equal(expected), "balance %s", report.FinalBalance)
}

func TestRunRetracementExit(t *testing.T) {
	cfg := exactConfig()
	cfg.RetracementPct = 0.015
	bt := NewBacktester(cfg, zap.NewNop())

	// Run up to 105 then close at 103: a 1.9% pullback from the high while
	// still profitable.
	bars := []model.Bar{
		bar(0, 100, 100, 100, 100),
		bar(1, 100, 105, 100, 104),
		bar(2, 104, 104, 103, 103),
	}
	report, err := bt.Run(bars, []model.Signal{long(), flat(), flat()})
	require.NoError(t, err)

	require.Len(t, report.Trades, 1)
	assert.Equal(t, model.ExitRetracement, report.Trades[0].Reason)
	assert.True(t, report.Trades[0].ExitPrice.Equal(d(103)))
}

func TestRunRejectsMismatchedInput(t *testing.T) {
	bt := NewBacktester(exactConfig(), zap.NewNop())
	_, err := bt.Run([]model.Bar{bar(0, 100, 100, 100, 100)}, nil)
	require.Error(t, err)
}

func TestReportStats(t *testing.T) {
	bt := NewBacktester(exactConfig(), zap.NewNop())

	// One winner (TP at 106) and one loser (SL at 98).
	bars := []model.Bar{
		bar(0, 100, 100, 100, 100),
		bar(1, 100, 107, 99, 105),
		bar(2, 105, 105, 100, 100),
		bar(3, 100, 101, 97, 99),
	}
	signals := []model.Signal{long(), flat(), long(), flat()}
	report, err := bt.Run(bars, signals)
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalTrades)
	assert.InDelta(t, 0.5, report.WinRate, 1e-9)
	assert.Greater(t, report.ProfitFactor, 1.0)
	assert.Greater(t, report.MaxDrawdown, 0.0)
	assert.Len(t, report.EquityCurve, len(bars))
}
