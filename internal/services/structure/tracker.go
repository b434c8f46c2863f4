package structure

import (
	"time"

	"OBFlow/internal/domain/models"
)

// ZoneEventKind enumerates tracker lifecycle notifications.
type ZoneEventKind int

const (
	ZoneCreated ZoneEventKind = iota
	ZoneTouched
	ZoneMitigated
	ZoneInvalidated
	ZoneExpired
	ZoneSuperseded
	ZoneBreakerArmed
)

func (k ZoneEventKind) String() string {
	switch k {
	case ZoneCreated:
		return "created"
	case ZoneTouched:
		return "touched"
	case ZoneMitigated:
		return "mitigated"
	case ZoneInvalidated:
		return "invalidated"
	case ZoneExpired:
		return "expired"
	case ZoneSuperseded:
		return "superseded"
	case ZoneBreakerArmed:
		return "breaker_armed"
	}
	return "unknown"
}

// ZoneEvent reports a single zone lifecycle change.
type ZoneEvent struct {
	Kind ZoneEventKind
	Zone models.OrderBlock
}

// TrackerConfig controls zone construction and expiry.
type TrackerConfig struct {
	// UseBody selects body bounds for the origin candle instead of wicks.
	UseBody bool
	// MaxAge archives armed zones untouched for this many candles.
	MaxAge int
	// OriginLookback bounds the search for the origin candle.
	OriginLookback int
}

// Tracker owns the order-block arena for one symbol. Zone identity is an
// integer id from a monotonic counter; archived zones leave the live set
// but ids are never reused.
type Tracker struct {
	symbol string
	cfg    TrackerConfig
	buf    *Buffer

	nextID   models.ZoneID
	live     map[models.ZoneID]*models.OrderBlock
	archived []models.OrderBlock
}

func NewTracker(symbol string, buf *Buffer, cfg TrackerConfig) *Tracker {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 120
	}
	if cfg.OriginLookback <= 0 {
		cfg.OriginLookback = 30
	}
	return &Tracker{
		symbol: symbol,
		cfg:    cfg,
		buf:    buf,
		nextID: 1,
		live:   make(map[models.ZoneID]*models.OrderBlock),
	}
}

// Zone returns the live zone with the given id.
func (t *Tracker) Zone(id models.ZoneID) (*models.OrderBlock, bool) {
	ob, ok := t.live[id]
	return ob, ok
}

// Live returns a copy of all live zones.
func (t *Tracker) Live() []models.OrderBlock {
	out := make([]models.OrderBlock, 0, len(t.live))
	for _, ob := range t.live {
		out = append(out, *ob)
	}
	return out
}

// Armed returns live zones still accepting entries.
func (t *Tracker) Armed() []models.OrderBlock {
	out := make([]models.OrderBlock, 0, len(t.live))
	for _, ob := range t.live {
		if ob.Status == models.ZoneArmed || ob.Status == models.ZoneTouched {
			out = append(out, *ob)
		}
	}
	return out
}

// Restore reinstalls zones from a snapshot.
func (t *Tracker) Restore(zones []models.OrderBlock) {
	for i := range zones {
		z := zones[i]
		if z.Status.Terminal() {
			continue
		}
		t.live[z.ID] = &z
		if z.ID >= t.nextID {
			t.nextID = z.ID + 1
		}
	}
}

// OnStructureEvent derives a new zone from the break's origin candle.
// Called before OnCandle for the same candle, so a zone created and
// touched within one candle is observed in order.
func (t *Tracker) OnStructureEvent(ev models.StructureEvent, bar int) []ZoneEvent {
	if ev.Kind == models.StructureNone {
		return nil
	}

	origin, originBar := t.findOriginCandle(ev.Trend)
	if origin == nil {
		return nil
	}

	zoneHigh, zoneLow := origin.High, origin.Low
	if t.cfg.UseBody {
		zoneHigh, zoneLow = origin.BodyHigh(), origin.BodyLow()
	}
	if zoneHigh <= zoneLow {
		// Degenerate doji body; fall back to wicks.
		zoneHigh, zoneLow = origin.High, origin.Low
		if zoneHigh <= zoneLow {
			return nil
		}
	}

	ob := &models.OrderBlock{
		ID:         t.nextID,
		Symbol:     t.symbol,
		Direction:  ev.Trend,
		Kind:       models.ZoneFresh,
		Status:     models.ZoneArmed,
		High:       zoneHigh,
		Low:        zoneLow,
		OriginBar:  originBar,
		CreatedBar: bar,
		CreatedAt:  ev.Time,
	}
	t.nextID++

	events := t.supersede(ob)
	t.live[ob.ID] = ob
	events = append(events, ZoneEvent{Kind: ZoneCreated, Zone: *ob})
	return events
}

// findOriginCandle walks back from the candle preceding the breaking one
// looking for the last candle opposing the break direction.
func (t *Tracker) findOriginCandle(dir models.Direction) (*models.Candle, int) {
	for n := 1; n <= t.cfg.OriginLookback; n++ {
		c := t.buf.FromTail(n)
		if c == nil {
			return nil, 0
		}
		if dir == models.Bullish && c.Bearish() {
			return c, t.buf.Bar() - n
		}
		if dir == models.Bearish && c.Bullish() {
			return c, t.buf.Bar() - n
		}
	}
	return nil, 0
}

// supersede archives older armed zones of the new zone's direction.
// Overlapping bounds are merged into the newcomer.
func (t *Tracker) supersede(newOB *models.OrderBlock) []ZoneEvent {
	var events []ZoneEvent
	for id, ob := range t.live {
		if ob.Direction != newOB.Direction || ob.Status.Terminal() {
			continue
		}
		overlaps := newOB.Low <= ob.High && newOB.High >= ob.Low
		if overlaps {
			if ob.Low < newOB.Low {
				newOB.Low = ob.Low
			}
			if ob.High > newOB.High {
				newOB.High = ob.High
			}
		}
		ob.Status = models.ZoneInvalidated
		ob.ResolvedBar = newOB.CreatedBar
		events = append(events, ZoneEvent{Kind: ZoneSuperseded, Zone: *ob})
		t.archive(id)
	}
	return events
}

// OnCandle advances every live zone through its lifecycle for one closed
// candle. Returns the transitions in the order they were applied.
func (t *Tracker) OnCandle(c *models.Candle, bar int) []ZoneEvent {
	var events []ZoneEvent

	// Stable iteration: gather ids first since breaker conversion
	// inserts new zones.
	ids := make([]models.ZoneID, 0, len(t.live))
	for id := range t.live {
		ids = append(ids, id)
	}

	for _, id := range ids {
		ob, ok := t.live[id]
		if !ok || ob.Status.Terminal() {
			continue
		}

		// Touch before resolution: a zone touched and broken by the same
		// candle records both transitions.
		if ob.Status == models.ZoneArmed && ob.Intersects(c) {
			ob.Status = models.ZoneTouched
			ob.TouchedBar = bar
			events = append(events, ZoneEvent{Kind: ZoneTouched, Zone: *ob})
		}

		if t.closedThroughFarEdge(ob, c) {
			if ob.Kind == models.ZoneFresh {
				ob.Status = models.ZoneInvalidated
				ob.ResolvedBar = bar
				events = append(events, ZoneEvent{Kind: ZoneInvalidated, Zone: *ob})
				t.archive(id)

				bb := t.armBreaker(ob, bar, c.StartTime)
				events = append(events, ZoneEvent{Kind: ZoneBreakerArmed, Zone: *bb})
				continue
			}
			// A mitigated breaker never reverses again.
			ob.Status = models.ZoneMitigated
			ob.ResolvedBar = bar
			events = append(events, ZoneEvent{Kind: ZoneMitigated, Zone: *ob})
			t.archive(id)
			continue
		}

		// Favourable full close through the whole zone consumes it.
		if ob.Status == models.ZoneTouched && t.closedBeyondNearEdge(ob, c) {
			ob.Status = models.ZoneMitigated
			ob.ResolvedBar = bar
			events = append(events, ZoneEvent{Kind: ZoneMitigated, Zone: *ob})
			t.archive(id)
			continue
		}

		if ob.Status == models.ZoneArmed && ob.Age(bar) > t.cfg.MaxAge {
			ob.Status = models.ZoneInvalidated
			ob.ResolvedBar = bar
			events = append(events, ZoneEvent{Kind: ZoneExpired, Zone: *ob})
			t.archive(id)
		}
	}
	return events
}

// OnTrendFlip reviews zones aligned with the old trend after a CHoCH.
// They stay live but a deep subsequent break converts them; nothing is
// invalidated purely by the flip.
func (t *Tracker) OnTrendFlip(oldTrend models.Direction) []models.ZoneID {
	var affected []models.ZoneID
	for id, ob := range t.live {
		if ob.Direction == oldTrend && !ob.Status.Terminal() {
			affected = append(affected, id)
		}
	}
	return affected
}

// closedThroughFarEdge reports a full body close beyond the zone's far
// edge, the structural break that flips fresh zones into breakers.
func (t *Tracker) closedThroughFarEdge(ob *models.OrderBlock, c *models.Candle) bool {
	if ob.Direction == models.Bullish {
		return c.BodyHigh() < ob.Low
	}
	return c.BodyLow() > ob.High
}

// closedBeyondNearEdge reports a full body close out of the zone in the
// trade direction after a touch.
func (t *Tracker) closedBeyondNearEdge(ob *models.OrderBlock, c *models.Candle) bool {
	if ob.Direction == models.Bullish {
		return c.BodyLow() > ob.High
	}
	return c.BodyHigh() < ob.Low
}

// armBreaker creates the reversed-direction replacement for a fresh zone
// broken through. The breaker gets a fresh id; the old one stays archived.
func (t *Tracker) armBreaker(old *models.OrderBlock, bar int, at time.Time) *models.OrderBlock {
	bb := &models.OrderBlock{
		ID:         t.nextID,
		Symbol:     t.symbol,
		Direction:  old.Direction.Opposite(),
		Kind:       models.ZoneBreaker,
		Status:     models.ZoneArmed,
		High:       old.High,
		Low:        old.Low,
		OriginBar:  old.OriginBar,
		CreatedBar: bar,
		CreatedAt:  at,
	}
	t.nextID++
	t.live[bb.ID] = bb
	return bb
}

func (t *Tracker) archive(id models.ZoneID) {
	if ob, ok := t.live[id]; ok {
		t.archived = append(t.archived, *ob)
		delete(t.live, id)
		// Bound archive growth; recent history is enough for the API.
		if len(t.archived) > 256 {
			t.archived = t.archived[len(t.archived)-256:]
		}
	}
}

// Archived returns recently resolved zones, newest last.
func (t *Tracker) Archived() []models.OrderBlock {
	out := make([]models.OrderBlock, len(t.archived))
	copy(out, t.archived)
	return out
}
