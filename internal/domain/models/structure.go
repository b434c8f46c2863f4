package models

import "time"

// Direction is a trade or trend direction.
type Direction int

const (
	Undetermined Direction = 0
	Bullish      Direction = 1
	Bearish      Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Bullish:
		return "bullish"
	case Bearish:
		return "bearish"
	default:
		return "undetermined"
	}
}

// Opposite returns the reversed direction.
func (d Direction) Opposite() Direction {
	return Direction(-int(d))
}

// SwingKind distinguishes swing highs from swing lows.
type SwingKind int

const (
	SwingHigh SwingKind = iota
	SwingLow
)

func (k SwingKind) String() string {
	if k == SwingHigh {
		return "high"
	}
	return "low"
}

// SwingPoint is a confirmed fractal pivot. Once confirmed it is never
// retroactively altered.
type SwingPoint struct {
	Bar   int
	Time  time.Time
	Price float64
	Kind  SwingKind
}

// StructureEventKind labels the outcome of classifying one closed candle.
type StructureEventKind int

const (
	StructureNone StructureEventKind = iota
	StructureBOS
	StructureCHoCH
)

func (k StructureEventKind) String() string {
	switch k {
	case StructureBOS:
		return "bos"
	case StructureCHoCH:
		return "choch"
	default:
		return "none"
	}
}

// StructureEvent is emitted when a close breaks a confirmed swing level.
type StructureEvent struct {
	Kind        StructureEventKind
	Trend       Direction // trend in effect after the event
	BrokenSwing SwingPoint
	Bar         int
	Price       float64 // breaking close
	Time        time.Time
}

// StructureState is the authoritative per-symbol trend record. Only the
// classifier mutates it.
type StructureState struct {
	Trend         Direction
	LastHigh      *SwingPoint
	LastLow       *SwingPoint
	LastEventKind StructureEventKind
	LastEventBar  int
}
