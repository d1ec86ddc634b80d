package model

// Direction of a strategy decision.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionFlat  Direction = "flat"
)

// Signal is the opaque per-symbol, per-bar strategy decision consumed by the
// execution engine. How it is produced (indicators, ML, pattern analysis) is
// not this engine's concern.
type Signal struct {
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
}

// PositionSide maps a non-flat signal direction to a position side.
func (s Signal) PositionSide() Side {
	if s.Direction == DirectionShort {
		return SideShort
	}
	return SideLong
}

// Opposes reports whether the signal points against an open position.
func (s Signal) Opposes(side Side) bool {
	switch s.Direction {
	case DirectionLong:
		return side == SideShort
	case DirectionShort:
		return side == SideLong
	default:
		return false
	}
}
