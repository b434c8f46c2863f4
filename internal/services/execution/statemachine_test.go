package execution

import (
	"math"
	"testing"
	"time"

	"OBFlow/internal/domain/models"
)

func bullishZone() *models.OrderBlock {
	return &models.OrderBlock{
		ID:        7,
		Symbol:    "BTCUSD",
		Direction: models.Bullish,
		Kind:      models.ZoneFresh,
		Status:    models.ZoneArmed,
		High:      110,
		Low:       100,
	}
}

func modeAConfig() Config {
	return Config{Mode: ModeCandleClose, PenetrationRatio: 0.2, Timeout: 4 * time.Hour, RetryBackoff: time.Second, Size: 80}
}

func modeBConfig() Config {
	cfg := modeAConfig()
	cfg.Mode = ModeLimit
	return cfg
}

func TestModeAEntersOnFavorableClose(t *testing.T) {
	c, actions := NewCandidate(modeAConfig(), bullishZone(), time.Now())
	if len(actions) != 0 {
		t.Fatalf("mode A must not place an order on arm")
	}
	if c.State() != StateWaitingClose {
		t.Fatalf("expected WAITING_CLOSE, got %v", c.State())
	}

	// Pullback into the zone closing above the near edge.
	actions = c.OnCandle(models.Candle{Open: 112, High: 113, Low: 105, Close: 111, Closed: true})
	if len(actions) != 1 || actions[0].Kind != ActionPlaceMarket {
		t.Fatalf("expected one market order action, got %+v", actions)
	}
	if actions[0].Intent.Side != models.SideBuy {
		t.Fatalf("expected buy side, got %s", actions[0].Intent.Side)
	}

	c.OnAck(models.OrderAck{OrderID: "o1", Accepted: true})
	c.OnFill(models.FillEvent{OrderID: "o1", Kind: models.FillConfirmed, Price: 111})
	if c.State() != StateFilled {
		t.Fatalf("expected FILLED, got %v", c.State())
	}
	if c.FillPrice() != 111 {
		t.Fatalf("expected fill price 111, got %f", c.FillPrice())
	}
}

func TestModeAIgnoresUnfavorableClose(t *testing.T) {
	c, _ := NewCandidate(modeAConfig(), bullishZone(), time.Now())

	// Touches the zone but closes inside it.
	if actions := c.OnCandle(models.Candle{Open: 112, High: 113, Low: 104, Close: 107, Closed: true}); len(actions) != 0 {
		t.Fatalf("close inside the zone must not trigger entry")
	}
	// Favorable close without touching.
	if actions := c.OnCandle(models.Candle{Open: 112, High: 115, Low: 111, Close: 114, Closed: true}); len(actions) != 0 {
		t.Fatalf("candle that never touched the zone must not trigger entry")
	}
	if c.State() != StateWaitingClose {
		t.Fatalf("expected WAITING_CLOSE, got %v", c.State())
	}
}

func TestModeAExpiresWhenZoneResolves(t *testing.T) {
	c, _ := NewCandidate(modeAConfig(), bullishZone(), time.Now())
	c.OnZoneResolved()
	if c.State() != StateExpired {
		t.Fatalf("expected EXPIRED, got %v", c.State())
	}
}

func TestModeAMarketRejectionIsTerminal(t *testing.T) {
	c, _ := NewCandidate(modeAConfig(), bullishZone(), time.Now())
	actions := c.OnCandle(models.Candle{Open: 112, High: 113, Low: 105, Close: 111, Closed: true})
	if len(actions) != 1 {
		t.Fatalf("expected market order")
	}
	if more := c.OnAck(models.OrderAck{Accepted: false, Reason: "insufficient margin"}); len(more) != 0 {
		t.Fatalf("market rejection must not retry")
	}
	if c.State() != StateExpired {
		t.Fatalf("expected EXPIRED after market rejection, got %v", c.State())
	}
}

func TestModeBPlacesLimitAtPenetrationLevel(t *testing.T) {
	c, actions := NewCandidate(modeBConfig(), bullishZone(), time.Now())
	if c.State() != StateLimitPlaced {
		t.Fatalf("expected LIMIT_PLACED, got %v", c.State())
	}
	if len(actions) != 1 || actions[0].Kind != ActionPlaceLimit {
		t.Fatalf("expected one limit order action, got %+v", actions)
	}
	// zone [100,110], ratio 0.2, bullish: 110 - 0.2*10 = 108.
	if got := actions[0].Intent.LimitPrice; math.Abs(got-108) > 1e-9 {
		t.Fatalf("expected limit at 108, got %f", got)
	}
	if got := actions[0].Intent.LimitPrice; got <= 100 || got >= 110 {
		t.Fatalf("limit price %f must lie strictly inside the zone", got)
	}
}

func TestModeBCancelsOnZoneResolution(t *testing.T) {
	c, _ := NewCandidate(modeBConfig(), bullishZone(), time.Now())
	c.OnAck(models.OrderAck{OrderID: "o2", Accepted: true})
	actions := c.OnZoneResolved()
	if c.State() != StateCancelled {
		t.Fatalf("expected CANCELLED, got %v", c.State())
	}
	if len(actions) != 1 || actions[0].Kind != ActionCancelOrder || actions[0].OrderID != "o2" {
		t.Fatalf("expected cancel of o2, got %+v", actions)
	}
}

func TestModeBDeadlineExpiry(t *testing.T) {
	now := time.Now()
	c, _ := NewCandidate(modeBConfig(), bullishZone(), now)
	c.OnAck(models.OrderAck{OrderID: "o3", Accepted: true})

	if actions := c.OnClock(now.Add(time.Hour)); len(actions) != 0 {
		t.Fatalf("deadline not reached, expected no actions")
	}
	actions := c.OnClock(now.Add(5 * time.Hour))
	if c.State() != StateCancelled {
		t.Fatalf("expected CANCELLED after timeout, got %v", c.State())
	}
	if len(actions) != 1 || actions[0].Kind != ActionCancelOrder {
		t.Fatalf("expected cancel action, got %+v", actions)
	}
}

func TestModeBRetriesRejectionOnce(t *testing.T) {
	c, _ := NewCandidate(modeBConfig(), bullishZone(), time.Now())

	actions := c.OnAck(models.OrderAck{Accepted: false, Reason: "rate limited"})
	if len(actions) != 1 || actions[0].Kind != ActionPlaceLimit {
		t.Fatalf("expected one retry, got %+v", actions)
	}
	if actions[0].Backoff == 0 {
		t.Fatalf("retry must carry a backoff")
	}
	if c.State() != StateLimitPlaced {
		t.Fatalf("expected still LIMIT_PLACED, got %v", c.State())
	}

	actions = c.OnAck(models.OrderAck{Accepted: false, Reason: "rate limited"})
	if len(actions) != 0 {
		t.Fatalf("second rejection must not retry")
	}
	if c.State() != StateCancelled {
		t.Fatalf("expected CANCELLED after second rejection, got %v", c.State())
	}
}

func TestModeBFillBeatsCancel(t *testing.T) {
	c, _ := NewCandidate(modeBConfig(), bullishZone(), time.Now())
	c.OnAck(models.OrderAck{OrderID: "o4", Accepted: true})
	c.OnZoneResolved()
	if c.State() != StateCancelled {
		t.Fatalf("expected CANCELLED, got %v", c.State())
	}
	// The broker filled before the cancel landed.
	c.OnFill(models.FillEvent{OrderID: "o4", Kind: models.FillConfirmed, Price: 108})
	if c.State() != StateFilled {
		t.Fatalf("a confirmed fill overrides a pending cancel, got %v", c.State())
	}
}

func TestBearishModeBEntryInsideZone(t *testing.T) {
	zone := bullishZone()
	zone.Direction = models.Bearish
	_, actions := NewCandidate(modeBConfig(), zone, time.Now())
	// Bearish: 100 + 0.2*10 = 102.
	if got := actions[0].Intent.LimitPrice; math.Abs(got-102) > 1e-9 {
		t.Fatalf("expected limit at 102, got %f", got)
	}
	if actions[0].Intent.Side != models.SideSell {
		t.Fatalf("expected sell side")
	}
}
