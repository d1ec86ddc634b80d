package engine

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

// SweepResult pairs one parameter combination with its backtest report.
type SweepResult struct {
	Threshold float64
	SLPct     float64
	TPPct     float64
	Report    model.BacktestReport
}

// Sweeper fans parameter combinations out over a bounded worker pool. Bars
// and signals are computed once and shared read-only across all runs, so a
// sweep never re-derives predictions per combination.
type Sweeper struct {
	workers int
	logger  *zap.Logger
}

// NewSweeper builds a sweeper with the given concurrency.
func NewSweeper(workers int, logger *zap.Logger) *Sweeper {
	if workers <= 0 {
		workers = 1
	}
	return &Sweeper{workers: workers, logger: logger}
}

// RunSensitivity backtests every (threshold, slPct, tpPct) combination from
// the grids against the same bars and signals. Results come back ordered by
// threshold, then SL, then TP, regardless of worker scheduling.
func (s *Sweeper) RunSensitivity(ctx context.Context, base Config, bars []model.Bar, signals []model.Signal, thresholdGrid, slGrid, tpGrid []float64) []SweepResult {
	jobs := make(chan Config, len(thresholdGrid)*len(slGrid)*len(tpGrid))
	for _, th := range thresholdGrid {
		for _, sl := range slGrid {
			for _, tp := range tpGrid {
				cfg := base
				cfg.ConfidenceThreshold = th
				cfg.SLPct = sl
				cfg.TPPct = tp
				jobs <- cfg
			}
		}
	}
	close(jobs)

	var mu sync.Mutex
	var results []SweepResult
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cfg := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				report, err := NewBacktester(cfg, s.logger).Run(bars, signals)
				if err != nil {
					s.logger.Error("sweep run failed",
						zap.Float64("threshold", cfg.ConfidenceThreshold),
						zap.Float64("sl_pct", cfg.SLPct),
						zap.Float64("tp_pct", cfg.TPPct),
						zap.Error(err))
					continue
				}
				mu.Lock()
				results = append(results, SweepResult{
					Threshold: cfg.ConfidenceThreshold,
					SLPct:     cfg.SLPct,
					TPPct:     cfg.TPPct,
					Report:    report,
				})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Threshold != results[j].Threshold {
			return results[i].Threshold < results[j].Threshold
		}
		if results[i].SLPct != results[j].SLPct {
			return results[i].SLPct < results[j].SLPct
		}
		return results[i].TPPct < results[j].TPPct
	})
	return results
}

// RunOptimization holds the protective distances fixed and sweeps the
// signal-confidence threshold, returning the threshold with the highest
// final balance. ok is false when no run succeeded.
func (s *Sweeper) RunOptimization(ctx context.Context, base Config, bars []model.Bar, signals []model.Signal, fixedSL, fixedTP float64, thresholdGrid []float64) (SweepResult, bool) {
	results := s.RunSensitivity(ctx, base, bars, signals, thresholdGrid, []float64{fixedSL}, []float64{fixedTP})
	if len(results) == 0 {
		return SweepResult{}, false
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.Report.FinalBalance.GreaterThan(best.Report.FinalBalance) {
			best = r
		}
	}
	return best, true
}
