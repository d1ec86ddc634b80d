package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestNotionalAndMargin(t *testing.T) {
	notional := Notional(d(0.5), d(40000))
	assert.True(t, notional.Equal(d(20000)))

	margin := Margin(notional, 10)
	assert.True(t, margin.Equal(d(2000)))

	// Degenerate leverage falls back to full notional.
	assert.True(t, Margin(notional, 0).Equal(notional))
}

func TestUnrealizedPnlSymmetry(t *testing.T) {
	entry, amount := d(100), d(2)

	// Long gains when price rises, short loses, and vice versa.
	up := d(110)
	assert.True(t, UnrealizedPnl(model.SideLong, entry, up, amount).Equal(d(20)))
	assert.True(t, UnrealizedPnl(model.SideShort, entry, up, amount).Equal(d(-20)))

	down := d(95)
	assert.True(t, UnrealizedPnl(model.SideLong, entry, down, amount).Equal(d(-10)))
	assert.True(t, UnrealizedPnl(model.SideShort, entry, down, amount).Equal(d(10)))
}

func TestIsLiquidatedBoundary(t *testing.T) {
	cases := []struct {
		name   string
		side   model.Side
		entry  float64
		mark   float64
		amount float64
		lev    int
		want   bool
	}{
		{"long exactly at boundary", model.SideLong, 100, 90, 1, 10, true},
		{"long just above boundary", model.SideLong, 100, 90.01, 1, 10, false},
		{"long past boundary", model.SideLong, 100, 85, 1, 10, true},
		{"short exactly at boundary", model.SideShort, 100, 110, 1, 10, true},
		{"short just below boundary", model.SideShort, 100, 109.99, 1, 10, false},
		{"short past boundary", model.SideShort, 100, 120, 1, 10, true},
		{"profitable long never liquidated", model.SideLong, 100, 130, 1, 10, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			notional := Notional(d(tc.amount), d(tc.entry))
			margin := Margin(notional, tc.lev)
			pnl := UnrealizedPnl(tc.side, d(tc.entry), d(tc.mark), d(tc.amount))
			assert.Equal(t, tc.want, IsLiquidated(pnl, margin))
		})
	}
}

// IsLiquidated must hold iff pnl <= -margin across a grid of inputs, for both
// sides.
func TestLiquidationEquivalence(t *testing.T) {
	entries := []float64{50, 100, 30000}
	marks := []float64{20, 45, 90, 100, 111, 29000, 33000}
	amounts := []float64{0.1, 1, 3}
	levs := []int{2, 5, 10, 20}

	for _, side := range []model.Side{model.SideLong, model.SideShort} {
		for _, e := range entries {
			for _, m := range marks {
				for _, a := range amounts {
					for _, l := range levs {
						margin := Margin(Notional(d(a), d(e)), l)
						pnl := UnrealizedPnl(side, d(e), d(m), d(a))
						want := pnl.LessThanOrEqual(margin.Neg())
						assert.Equal(t, want, IsLiquidated(pnl, margin),
							"side=%s entry=%v mark=%v amount=%v lev=%d", side, e, m, a, l)
					}
				}
			}
		}
	}
}

func TestROI(t *testing.T) {
	assert.True(t, ROI(d(50), d(200)).Equal(d(0.25)))
	assert.True(t, ROI(d(-200), d(200)).Equal(d(-1)))
	assert.True(t, ROI(d(10), decimal.Zero).IsZero())
}

func TestLiquidationPriceMatchesBound(t *testing.T) {
	// At the computed liquidation price the unrealized loss equals the margin
	// exactly.
	for _, side := range []model.Side{model.SideLong, model.SideShort} {
		entry, amount, lev := d(100), d(2), 10
		liq := LiquidationPrice(side, entry, lev)
		margin := Margin(Notional(amount, entry), lev)
		pnl := UnrealizedPnl(side, entry, liq, amount)
		assert.True(t, pnl.Equal(margin.Neg()), "side=%s liq=%s pnl=%s margin=%s", side, liq, pnl, margin)
		assert.True(t, IsLiquidated(pnl, margin))
	}
}

func TestProtectivePrices(t *testing.T) {
	entry := d(100)

	assert.True(t, StopPrice(model.SideLong, entry, 0.02).Equal(d(98)))
	assert.True(t, StopPrice(model.SideShort, entry, 0.02).Equal(d(102)))
	assert.True(t, TakeProfitPrice(model.SideLong, entry, 0.06).Equal(d(106)))
	assert.True(t, TakeProfitPrice(model.SideShort, entry, 0.06).Equal(d(94)))
}
