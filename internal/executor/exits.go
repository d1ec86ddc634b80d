package executor

import (
	"github.com/shopspring/decimal"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/ledger"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

// ExitParams are the trailing-stop and retracement tunables.
type ExitParams struct {
	// TrailTriggerROI: once unrealized ROI crosses this, the stop moves to
	// breakeven plus a fee buffer.
	TrailTriggerROI float64
	// TrailLockROI: once ROI crosses this, the stop locks in
	// TrailLockFraction of the lock threshold.
	TrailLockROI      float64
	TrailLockFraction float64
	FeeBufferPct      float64
	// RetracementPct: fraction of pullback from the high-water mark that
	// closes a profitable position outright.
	RetracementPct float64
}

// TrailingStop decides whether the stop should move given the current mark,
// and where to. Pure decision logic; the caller performs the
// cancel-old/place-new swap. The stop only ever tightens.
func TrailingStop(pos *model.Position, mark decimal.Decimal, p ExitParams) (decimal.Decimal, bool) {
	pnl := ledger.UnrealizedPnl(pos.Side, pos.EntryPrice, mark, pos.Amount)
	roi := ledger.ROI(pnl, pos.Margin)

	var target decimal.Decimal
	switch {
	case roi.GreaterThanOrEqual(decimal.NewFromFloat(p.TrailLockROI)):
		// Lock a fixed fraction of the lock-threshold ROI. Price distance
		// for an ROI of r at leverage L is entry * r / L.
		lockROI := p.TrailLockROI * p.TrailLockFraction
		target = priceAtROI(pos, lockROI)
	case roi.GreaterThanOrEqual(decimal.NewFromFloat(p.TrailTriggerROI)):
		// Breakeven plus a fee buffer on the profitable side.
		buffer := pos.EntryPrice.Mul(decimal.NewFromFloat(p.FeeBufferPct))
		if pos.Side == model.SideShort {
			target = pos.EntryPrice.Sub(buffer)
		} else {
			target = pos.EntryPrice.Add(buffer)
		}
	default:
		return decimal.Zero, false
	}

	if !stopImproves(pos, target) {
		return decimal.Zero, false
	}
	return target, true
}

// priceAtROI returns the mark price at which the position's ROI equals roi.
func priceAtROI(pos *model.Position, roi float64) decimal.Decimal {
	if pos.Leverage <= 0 {
		return pos.EntryPrice
	}
	move := pos.EntryPrice.Mul(decimal.NewFromFloat(roi)).Div(decimal.NewFromInt(int64(pos.Leverage)))
	if pos.Side == model.SideShort {
		return pos.EntryPrice.Sub(move)
	}
	return pos.EntryPrice.Add(move)
}

// stopImproves reports whether target tightens the current stop.
func stopImproves(pos *model.Position, target decimal.Decimal) bool {
	if pos.SLPrice.IsZero() {
		return true
	}
	if pos.Side == model.SideShort {
		return target.LessThan(pos.SLPrice)
	}
	return target.GreaterThan(pos.SLPrice)
}

// ShouldRetrace reports whether a profitable position has pulled back beyond
// the threshold fraction from its high-water mark and should be closed
// outright, regardless of the fixed SL/TP.
func ShouldRetrace(pos *model.Position, mark decimal.Decimal, retracementPct float64) bool {
	if pos.HighWaterMark.IsZero() {
		return false
	}
	pnl := ledger.UnrealizedPnl(pos.Side, pos.EntryPrice, mark, pos.Amount)
	if !pnl.IsPositive() {
		return false
	}

	var retrace decimal.Decimal
	if pos.Side == model.SideShort {
		retrace = mark.Sub(pos.HighWaterMark).Div(pos.HighWaterMark)
	} else {
		retrace = pos.HighWaterMark.Sub(mark).Div(pos.HighWaterMark)
	}
	return retrace.GreaterThanOrEqual(decimal.NewFromFloat(retracementPct))
}
