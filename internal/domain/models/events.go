package models

import "time"

// EngineEventKind enumerates fire-and-forget notification events.
type EngineEventKind string

const (
	EventZoneCreated    EngineEventKind = "zone_created"
	EventZoneBreaker    EngineEventKind = "zone_breaker"
	EventZoneMitigated  EngineEventKind = "zone_mitigated"
	EventZoneExpired    EngineEventKind = "zone_expired"
	EventEntryFilled    EngineEventKind = "entry_filled"
	EventPositionClosed EngineEventKind = "position_closed"
)

// EngineEvent is published to the notification side channel. Delivery is
// best-effort; the engine never depends on it.
type EngineEvent struct {
	Kind      EngineEventKind `json:"kind"`
	Symbol    string          `json:"symbol"`
	ZoneID    ZoneID          `json:"zone_id,omitempty"`
	Direction string          `json:"direction,omitempty"`
	Price     float64         `json:"price,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
