package models

import (
	"fmt"
	"time"
)

// ZoneID is an arena-style identifier handed out by the tracker. Zones,
// candidates and positions reference each other by id, never by pointer.
type ZoneID uint64

// ZoneKind distinguishes first-use blocks from re-armed breakers.
type ZoneKind int

const (
	ZoneFresh ZoneKind = iota
	ZoneBreaker
)

func (k ZoneKind) String() string {
	if k == ZoneBreaker {
		return "breaker"
	}
	return "fresh"
}

// ZoneStatus is the order-block lifecycle state. Transitions are monotonic
// along Armed → Touched → {Mitigated | Invalidated}; the only reset is a
// breaker re-arm, which produces a new zone with a new id.
type ZoneStatus int

const (
	ZoneArmed ZoneStatus = iota
	ZoneTouched
	ZoneMitigated
	ZoneInvalidated
)

func (s ZoneStatus) String() string {
	switch s {
	case ZoneArmed:
		return "armed"
	case ZoneTouched:
		return "touched"
	case ZoneMitigated:
		return "mitigated"
	case ZoneInvalidated:
		return "invalidated"
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s ZoneStatus) Terminal() bool {
	return s == ZoneMitigated || s == ZoneInvalidated
}

// OrderBlock is a supply/demand zone derived from the origin candle of an
// impulsive structural break.
type OrderBlock struct {
	ID          ZoneID
	Symbol      string
	Direction   Direction
	Kind        ZoneKind
	Status      ZoneStatus
	High        float64
	Low         float64
	OriginBar   int
	CreatedBar  int
	CreatedAt   time.Time
	TouchedBar  int
	ResolvedBar int
}

// Validate enforces the zone-bounds invariant.
func (ob *OrderBlock) Validate() error {
	if ob.High <= ob.Low {
		return fmt.Errorf("order block %d: high %.8f <= low %.8f", ob.ID, ob.High, ob.Low)
	}
	if ob.Direction == Undetermined {
		return fmt.Errorf("order block %d: undetermined direction", ob.ID)
	}
	return nil
}

// Depth returns the zone height in price units.
func (ob *OrderBlock) Depth() float64 { return ob.High - ob.Low }

// Mid returns the zone midpoint.
func (ob *OrderBlock) Mid() float64 { return (ob.High + ob.Low) / 2 }

// Intersects reports whether a candle's range overlaps the zone.
func (ob *OrderBlock) Intersects(c *Candle) bool {
	return c.Low <= ob.High && c.High >= ob.Low
}

// NearEdge returns the zone edge on the side price approaches from:
// the top for a bullish (demand) zone, the bottom for a bearish one.
func (ob *OrderBlock) NearEdge() float64 {
	if ob.Direction == Bullish {
		return ob.High
	}
	return ob.Low
}

// FarEdge returns the opposite edge, used for mitigation checks.
func (ob *OrderBlock) FarEdge() float64 {
	if ob.Direction == Bullish {
		return ob.Low
	}
	return ob.High
}

// EntryPrice computes the Mode B limit level: ratio of the zone depth in
// from the near edge. Always strictly inside the zone for 0 < ratio < 1.
func (ob *OrderBlock) EntryPrice(penetrationRatio float64) float64 {
	depth := ob.Depth() * penetrationRatio
	if ob.Direction == Bullish {
		return ob.High - depth
	}
	return ob.Low + depth
}

// Age returns the zone age in bars.
func (ob *OrderBlock) Age(currentBar int) int { return currentBar - ob.CreatedBar }
