package execution

import (
	"time"

	"OBFlow/internal/domain/models"
)

// State is the lifecycle stage of one entry candidate.
type State int

const (
	StateArmed State = iota
	StateWaitingClose
	StateLimitPlaced
	StateFilled
	StateCancelled
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "ARMED"
	case StateWaitingClose:
		return "WAITING_CLOSE"
	case StateLimitPlaced:
		return "LIMIT_PLACED"
	case StateFilled:
		return "FILLED"
	case StateCancelled:
		return "CANCELLED"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFilled || s == StateCancelled || s == StateExpired
}

// Mode selects the entry style.
type Mode string

const (
	// ModeCandleClose waits for a candle that touches the zone and
	// closes beyond its near edge, then enters at market.
	ModeCandleClose Mode = "A"
	// ModeLimit rests a limit order at the penetration level.
	ModeLimit Mode = "B"
)

// ActionKind identifies an order action the owner must carry out. The
// machine itself never talks to the broker.
type ActionKind int

const (
	ActionPlaceMarket ActionKind = iota
	ActionPlaceLimit
	ActionCancelOrder
)

// Action is an order instruction emitted by a transition. Backoff is
// nonzero when the action should be delayed before submission.
type Action struct {
	Kind    ActionKind
	Intent  models.OrderIntent
	OrderID string
	Backoff time.Duration
}

// Config carries the knobs one candidate needs.
type Config struct {
	Mode             Mode
	PenetrationRatio float64
	Timeout          time.Duration
	RetryBackoff     time.Duration
	Size             float64
}

// Candidate drives a single entry attempt against one armed zone. All
// methods run on the owning lane goroutine; there is no internal locking.
type Candidate struct {
	cfg       Config
	zone      *models.OrderBlock
	state     State
	deadline  time.Time
	orderID   string
	submitted bool
	retried   bool
	fillPrice float64
}

// NewCandidate arms a candidate for the given zone. The returned actions
// must be executed by the caller (Mode B places its limit immediately).
func NewCandidate(cfg Config, zone *models.OrderBlock, now time.Time) (*Candidate, []Action) {
	c := &Candidate{
		cfg:      cfg,
		zone:     zone,
		deadline: now.Add(cfg.Timeout),
	}
	if cfg.Mode == ModeLimit {
		c.state = StateLimitPlaced
		return c, []Action{c.limitAction(0)}
	}
	c.state = StateWaitingClose
	return c, nil
}

func (c *Candidate) State() State             { return c.state }
func (c *Candidate) ZoneID() models.ZoneID    { return c.zone.ID }
func (c *Candidate) Zone() *models.OrderBlock { return c.zone }

// FillPrice is valid only once the state is FILLED.
func (c *Candidate) FillPrice() float64 { return c.fillPrice }

func (c *Candidate) limitAction(backoff time.Duration) Action {
	return Action{
		Kind: ActionPlaceLimit,
		Intent: models.OrderIntent{
			Symbol:     c.zone.Symbol,
			Side:       models.SideFor(c.zone.Direction),
			Type:       models.OrderLimit,
			Size:       c.cfg.Size,
			LimitPrice: c.zone.EntryPrice(c.cfg.PenetrationRatio),
			ZoneID:     c.zone.ID,
		},
		Backoff: backoff,
	}
}

// OnCandle evaluates the Mode A entry condition on a closed candle:
// the candle's range touched the zone and price closed beyond the near
// edge in the trade direction. Same-candle zone creation and touch is a
// valid entry condition.
func (c *Candidate) OnCandle(candle models.Candle) []Action {
	if c.state != StateWaitingClose || c.submitted {
		return nil
	}
	if !c.zone.Intersects(&candle) {
		return nil
	}
	favorable := false
	if c.zone.Direction == models.Bullish {
		favorable = candle.Close > c.zone.High
	} else {
		favorable = candle.Close < c.zone.Low
	}
	if !favorable {
		return nil
	}
	c.submitted = true
	return []Action{{
		Kind: ActionPlaceMarket,
		Intent: models.OrderIntent{
			Symbol: c.zone.Symbol,
			Side:   models.SideFor(c.zone.Direction),
			Type:   models.OrderMarket,
			Size:   c.cfg.Size,
			ZoneID: c.zone.ID,
		},
	}}
}

// OnZoneResolved is called when the owning zone leaves ARMED status.
func (c *Candidate) OnZoneResolved() []Action {
	switch c.state {
	case StateWaitingClose:
		if c.submitted {
			// A market order is already in flight for this candle;
			// let the ack or fill decide the outcome.
			return nil
		}
		c.state = StateExpired
		return nil
	case StateLimitPlaced:
		c.state = StateCancelled
		return c.cancelActions()
	default:
		return nil
	}
}

// OnClock enforces the candidate's own deadline without relying on the
// broker to report expiry.
func (c *Candidate) OnClock(now time.Time) []Action {
	if c.state.Terminal() || now.Before(c.deadline) {
		return nil
	}
	switch c.state {
	case StateWaitingClose:
		c.state = StateExpired
		return nil
	case StateLimitPlaced:
		c.state = StateCancelled
		return c.cancelActions()
	}
	return nil
}

// OnAck processes the broker's accept/reject response for the last
// submitted order.
func (c *Candidate) OnAck(ack models.OrderAck) []Action {
	if c.state.Terminal() {
		return nil
	}
	if ack.Accepted {
		c.orderID = ack.OrderID
		return nil
	}
	switch c.state {
	case StateWaitingClose:
		// Market rejection is terminal: the triggering candle has passed.
		c.state = StateExpired
		return nil
	case StateLimitPlaced:
		if !c.retried {
			c.retried = true
			return []Action{c.limitAction(c.cfg.RetryBackoff)}
		}
		c.state = StateCancelled
		return nil
	}
	return nil
}

// OnFill processes a fill or broker-side cancel confirmation.
func (c *Candidate) OnFill(fill models.FillEvent) []Action {
	if c.state.Terminal() && c.state != StateCancelled {
		return nil
	}
	switch fill.Kind {
	case models.FillConfirmed:
		c.state = StateFilled
		c.fillPrice = fill.Price
	case models.FillCancelled, models.FillRejected:
		if c.state == StateLimitPlaced {
			c.state = StateCancelled
		} else if c.state == StateWaitingClose {
			c.state = StateExpired
		}
	}
	return nil
}

func (c *Candidate) cancelActions() []Action {
	if c.orderID == "" {
		return nil
	}
	return []Action{{Kind: ActionCancelOrder, OrderID: c.orderID, Intent: models.OrderIntent{Symbol: c.zone.Symbol}}}
}
