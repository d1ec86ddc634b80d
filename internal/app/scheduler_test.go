package app

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/risk"
)

func TestRolloverLoopReleasedOnShutdown(t *testing.T) {
	a := &App{
		Logger: zap.NewNop(),
		Risk: risk.NewManager(risk.Limits{
			MaxPortfolioLeverage: 3.0,
			MaxDrawdownPct:       0.1,
		}, zap.NewNop()),
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.loops.Add(1)
	go func() {
		defer a.loops.Done()
		a.rolloverLoop(ctx, time.Hour)
	}()

	// Shutdown waits on loops; the rollover loop must be counted among
	// them and exit on cancellation.
	cancel()
	done := make(chan struct{})
	go func() {
		a.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("rollover loop did not stop on shutdown")
	}
}
