package signal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

func TestStoreDefaultsToFlat(t *testing.T) {
	s := NewStore(0)
	sig, err := s.GetSignal(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, model.DirectionFlat, sig.Direction)
}

func TestStoreReturnsLatest(t *testing.T) {
	s := NewStore(0)
	s.Set("BTCUSDT", model.Signal{Direction: model.DirectionLong, Confidence: 0.4})
	s.Set("BTCUSDT", model.Signal{Direction: model.DirectionShort, Confidence: 0.9})

	sig, err := s.GetSignal(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, model.DirectionShort, sig.Direction)
	assert.Equal(t, 0.9, sig.Confidence)
}

func TestStoreExpiresStaleSignals(t *testing.T) {
	s := NewStore(10 * time.Millisecond)
	s.Set("BTCUSDT", model.Signal{Direction: model.DirectionLong})

	sig, err := s.GetSignal(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, model.DirectionLong, sig.Direction)

	time.Sleep(20 * time.Millisecond)
	sig, err = s.GetSignal(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, model.DirectionFlat, sig.Direction)
}
