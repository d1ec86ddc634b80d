// Package risk gates new exposure against portfolio-wide limits: equity,
// windowed loss, projected leverage, and cross-symbol correlation.
package risk

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/infrastructure"
)

// Limits are the configured admission thresholds.
type Limits struct {
	MaxPortfolioLeverage float64
	MaxDrawdownPct       float64 // fraction of equity the window may lose
	RiskPerTrade         float64
	CorrelationThreshold float64 // 0 disables the correlation gate
	CorrelationWindow    int
}

// PortfolioView is the equity snapshot an admission check runs against.
// Holdings maps each held symbol to its current notional.
type PortfolioView struct {
	Equity   decimal.Decimal
	Holdings map[string]decimal.Decimal
}

// Manager decides whether new exposure may be taken. Checks are
// side-effect-free and admission reserves nothing: two concurrent checks
// against the same snapshot can race, so callers re-check under the
// per-symbol lock immediately before placing orders.
type Manager struct {
	limits Limits
	logger *zap.Logger

	mu          sync.Mutex
	windowPnL   decimal.Decimal
	correlation *ReturnTracker
}

// NewManager builds a risk manager.
func NewManager(limits Limits, logger *zap.Logger) *Manager {
	window := limits.CorrelationWindow
	if window <= 0 {
		window = 48
	}
	return &Manager{
		limits:      limits,
		logger:      logger,
		correlation: NewReturnTracker(window),
	}
}

// Admit checks whether proposedNotional of new exposure on symbol is
// acceptable. Returns the rejection reason when it is not; a rejection is a
// deliberate no-op, not an error.
func (m *Manager) Admit(symbol string, proposedNotional decimal.Decimal, view PortfolioView) (bool, string) {
	ok, reason := m.check(symbol, proposedNotional, view)
	if !ok {
		m.logger.Warn("risk admission rejected",
			zap.String("symbol", symbol),
			zap.String("notional", proposedNotional.String()),
			zap.String("reason", reason))
		infrastructure.RiskRejections.WithLabelValues(symbol, reason).Inc()
	}
	return ok, reason
}

func (m *Manager) check(symbol string, proposedNotional decimal.Decimal, view PortfolioView) (bool, string) {
	if !view.Equity.IsPositive() {
		return false, "non-positive equity"
	}

	m.mu.Lock()
	windowPnL := m.windowPnL
	m.mu.Unlock()

	lossCap := view.Equity.Mul(decimal.NewFromFloat(m.limits.MaxDrawdownPct))
	if windowPnL.LessThan(lossCap.Neg()) {
		return false, "window loss cap reached"
	}

	total := proposedNotional
	for _, notional := range view.Holdings {
		total = total.Add(notional)
	}
	projected := total.Div(view.Equity)
	if projected.GreaterThan(decimal.NewFromFloat(m.limits.MaxPortfolioLeverage)) {
		return false, "portfolio leverage cap exceeded"
	}

	if m.limits.CorrelationThreshold > 0 {
		for held := range view.Holdings {
			if held == symbol {
				continue
			}
			corr, ok := m.correlation.Correlation(symbol, held)
			if !ok {
				// Insufficient history admits by default.
				continue
			}
			if corr > m.limits.CorrelationThreshold {
				return false, "correlated with held symbol " + held
			}
		}
	}

	return true, ""
}

// RecordPnL folds a realized trade result into the accounting window.
func (m *Manager) RecordPnL(pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowPnL = m.windowPnL.Add(pnl)
}

// WindowPnL returns realized PnL since the window started.
func (m *Manager) WindowPnL() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windowPnL
}

// ResetWindow starts a fresh accounting window (daily rollover).
func (m *Manager) ResetWindow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowPnL = decimal.Zero
}

// ObservePrice feeds the correlation tracker with a fresh close.
func (m *Manager) ObservePrice(symbol string, price decimal.Decimal) {
	m.correlation.Observe(symbol, price)
}
