package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

func longConf(c float64) model.Signal {
	return model.Signal{Direction: model.DirectionLong, Confidence: c}
}

func sweepFixture() ([]model.Bar, []model.Signal) {
	bars := []model.Bar{
		bar(0, 100, 100, 100, 100),
		bar(1, 100, 104, 99, 103),
		bar(2, 103, 105, 102, 104),
		bar(3, 104, 104, 101, 102),
	}
	signals := []model.Signal{longConf(0.6), flat(), flat(), flat()}
	return bars, signals
}

func TestRunSensitivityCoversGridInOrder(t *testing.T) {
	bars, signals := sweepFixture()
	s := NewSweeper(4, zap.NewNop())

	thresholds := []float64{0.4, 0.9}
	slGrid := []float64{0.01, 0.02}
	tpGrid := []float64{0.04, 0.06, 0.08}
	results := s.RunSensitivity(context.Background(), exactConfig(), bars, signals, thresholds, slGrid, tpGrid)

	require.Len(t, results, 12)
	// Deterministic ordering regardless of worker scheduling.
	for i := 1; i < len(results); i++ {
		prev, cur := results[i-1], results[i]
		assert.True(t, prev.Threshold < cur.Threshold ||
			(prev.Threshold == cur.Threshold && prev.SLPct < cur.SLPct) ||
			(prev.Threshold == cur.Threshold && prev.SLPct == cur.SLPct && prev.TPPct < cur.TPPct))
	}
	// The 0.6-confidence entry clears the 0.4 threshold but not 0.9.
	for _, r := range results {
		if r.Threshold > 0.6 {
			assert.Equal(t, 0, r.Report.TotalTrades)
		} else {
			assert.Equal(t, 1, r.Report.TotalTrades)
		}
		assert.Equal(t, "BTCUSDT", r.Report.Symbol)
	}
}

func TestRunOptimizationPicksBestThreshold(t *testing.T) {
	bars, signals := sweepFixture()
	s := NewSweeper(2, zap.NewNop())

	best, ok := s.RunOptimization(context.Background(), exactConfig(), bars, signals,
		0.02, 0.04, []float64{0.4, 0.9})
	require.True(t, ok)

	// At 0.4 the entry happens and the 4% target fills off the 105 peak;
	// at 0.9 the signal is gated and the balance never moves.
	assert.Equal(t, 0.4, best.Threshold)
	assert.True(t, best.Report.FinalBalance.GreaterThan(exactConfig().InitialBalance),
		"final %s", best.Report.FinalBalance)
}

func TestRunOptimizationEmptyGrid(t *testing.T) {
	bars, signals := sweepFixture()
	s := NewSweeper(2, zap.NewNop())
	_, ok := s.RunOptimization(context.Background(), exactConfig(), bars, signals, 0.02, 0.04, nil)
	assert.False(t, ok)
}
