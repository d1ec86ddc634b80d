package trader

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/exchange"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

func TestSnapshotRoundTrip(t *testing.T) {
	gw := exchange.NewMockGateway()
	tr := newTestTrader(gw, testOpts())
	openLong(t, tr, gw)

	path := filepath.Join(t.TempDir(), "status.json")
	w := NewSnapshotWriter(path, time.Hour, tr, zap.NewNop())
	require.NoError(t, w.Write(context.Background()))

	status, err := ReadSnapshot(path, time.Hour)
	require.NoError(t, err)
	require.Len(t, status.Positions, 1)
	assert.Equal(t, "BTCUSDT", status.Positions[0].Symbol)
	assert.True(t, status.Account.Equity.Equal(d(10000)))
	// The two protective legs rest open.
	assert.Len(t, status.Orders, 2)
}

func TestSnapshotOverwriteIsAtomicReplacement(t *testing.T) {
	gw := exchange.NewMockGateway()
	tr := newTestTrader(gw, testOpts())
	gw.SetAccount(d(5000), d(5000))

	path := filepath.Join(t.TempDir(), "status.json")
	w := NewSnapshotWriter(path, time.Hour, tr, zap.NewNop())
	require.NoError(t, w.Write(context.Background()))
	require.NoError(t, w.Write(context.Background()))

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReadSnapshotRejectsStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	old := model.Status{Timestamp: time.Now().Add(-time.Hour)}
	data, err := json.Marshal(old)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = ReadSnapshot(path, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale")
}
