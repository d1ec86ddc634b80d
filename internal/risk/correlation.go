package risk

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"
)

// ReturnTracker keeps a rolling window of percentage returns per symbol and
// computes pairwise Pearson correlation over aligned windows. Ratios drop to
// float64; only prices stay decimal.
type ReturnTracker struct {
	mu      sync.Mutex
	window  int
	last    map[string]decimal.Decimal
	returns map[string][]float64
}

// NewReturnTracker builds a tracker with the given window length.
func NewReturnTracker(window int) *ReturnTracker {
	return &ReturnTracker{
		window:  window,
		last:    make(map[string]decimal.Decimal),
		returns: make(map[string][]float64),
	}
}

// Observe records a new close for symbol, appending a percentage return once
// a previous close exists.
func (t *ReturnTracker) Observe(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.last[symbol]
	t.last[symbol] = price
	if !ok || !prev.IsPositive() {
		return
	}

	ret, _ := price.Sub(prev).Div(prev).Float64()
	rs := append(t.returns[symbol], ret)
	if len(rs) > t.window {
		rs = rs[len(rs)-t.window:]
	}
	t.returns[symbol] = rs
}

// Correlation returns the Pearson correlation of the two symbols' most
// recent aligned returns. ok is false when either side lacks enough history
// (fewer than half the window).
func (t *ReturnTracker) Correlation(a, b string) (float64, bool) {
	t.mu.Lock()
	ra := t.returns[a]
	rb := t.returns[b]
	t.mu.Unlock()

	min := len(ra)
	if len(rb) < min {
		min = len(rb)
	}
	if min < t.window/2 || min < 2 {
		return 0, false
	}
	ra = ra[len(ra)-min:]
	rb = rb[len(rb)-min:]

	return pearson(ra, rb), true
}

func pearson(xs, ys []float64) float64 {
	n := float64(len(xs))
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var cov, varX, varY float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}
