package trader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/exchange"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

func TestReconcileClearsWhenExchangeFlat(t *testing.T) {
	gw := exchange.NewMockGateway()
	tr := newTestTrader(gw, testOpts())
	openLong(t, tr, gw)

	// The mock never registered a position, so the exchange reports flat:
	// the local position was closed out-of-band (a protective leg fired).
	require.NoError(t, tr.Reconcile(context.Background()))

	assert.Empty(t, tr.Positions())
	// Both orphaned reduce-only legs were swept.
	assert.Len(t, gw.Canceled, 2)
}

func TestReconcileAdoptsUntrackedPosition(t *testing.T) {
	gw := exchange.NewMockGateway()
	tr := newTestTrader(gw, testOpts())
	gw.SetPosition(model.PositionRisk{
		Symbol:     "BTCUSDT",
		Amount:     d(-5), // short
		EntryPrice: d(200),
		Leverage:   10,
	})

	require.NoError(t, tr.Reconcile(context.Background()))

	require.Len(t, tr.Positions(), 1)
	pos := tr.Positions()[0]
	assert.Equal(t, model.SideShort, pos.Side)
	assert.True(t, pos.Amount.Equal(d(5)))
	assert.True(t, pos.EntryPrice.Equal(d(200)))
	// Protective prices recomputed from the configured percentages.
	assert.True(t, pos.SLPrice.Equal(d(204)), "sl %s", pos.SLPrice)
	assert.True(t, pos.TPPrice.Equal(d(188)), "tp %s", pos.TPPrice)
	assert.True(t, pos.HasProtection())
	require.Len(t, gw.Placed, 2)
	for _, req := range gw.Placed {
		assert.True(t, req.ReduceOnly)
		assert.Equal(t, model.OrderSideBuy, req.Side)
	}
}

func TestReconcileIdempotentOnConsistentState(t *testing.T) {
	gw := exchange.NewMockGateway()
	tr := newTestTrader(gw, testOpts())
	openLong(t, tr, gw)
	gw.SetPosition(model.PositionRisk{
		Symbol:     "BTCUSDT",
		Amount:     d(10),
		EntryPrice: d(100),
		Leverage:   10,
	})
	placedBefore := len(gw.Placed)

	require.NoError(t, tr.Reconcile(context.Background()))
	require.NoError(t, tr.Reconcile(context.Background()))

	// Zero mutations across both passes.
	assert.Len(t, gw.Placed, placedBefore)
	assert.Empty(t, gw.Canceled)
	pos := tr.Positions()[0]
	assert.True(t, pos.Amount.Equal(d(10)))
	assert.True(t, pos.HasProtection())
}

func TestReconcileResyncsDivergedAmount(t *testing.T) {
	gw := exchange.NewMockGateway()
	tr := newTestTrader(gw, testOpts())
	openLong(t, tr, gw)

	// The exchange reports a smaller position (partial stop fill).
	gw.SetPosition(model.PositionRisk{
		Symbol:     "BTCUSDT",
		Amount:     d(6),
		EntryPrice: d(100),
		Leverage:   10,
	})
	require.NoError(t, tr.Reconcile(context.Background()))

	pos := tr.Positions()[0]
	assert.True(t, pos.Amount.Equal(d(6)), "amount %s", pos.Amount)
	assert.True(t, pos.Margin.Equal(d(60)), "margin %s", pos.Margin)
}

func TestReconcileRepairsDroppedProtection(t *testing.T) {
	gw := exchange.NewMockGateway()
	tr := newTestTrader(gw, testOpts())
	openLong(t, tr, gw)
	gw.SetPosition(model.PositionRisk{
		Symbol:     "BTCUSDT",
		Amount:     d(10),
		EntryPrice: d(100),
		Leverage:   10,
	})

	// Cancel the stop behind the trader's back.
	stopID := tr.Positions()[0].StopOrderID
	require.NoError(t, gw.CancelOrder(context.Background(), "BTCUSDT", stopID))
	gw.Canceled = nil

	require.NoError(t, tr.Reconcile(context.Background()))

	pos := tr.Positions()[0]
	assert.True(t, pos.HasProtection())
	assert.NotEqual(t, stopID, pos.StopOrderID)
}
