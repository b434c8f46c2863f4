package position

import (
	"math"
	"testing"
	"time"

	"OBFlow/internal/domain/models"
)

func longPosition() models.Position {
	return models.Position{
		Symbol:      "BTCUSD",
		Direction:   models.Bullish,
		ZoneKind:    models.ZoneFresh,
		Size:        80,
		Leverage:    20,
		CapitalUsed: 400,
		EntryPrice:  100,
		StopPrice:   95,
		TargetPrice: 110,
		Liquidation: 95.25,
	}
}

func newTracked(t *testing.T, p models.Position) *Manager {
	t.Helper()
	m := NewManager(Config{TrailingTriggerPct: 0.01, TrailingDistancePct: 0.005})
	if err := m.Track(p); err != nil {
		t.Fatalf("track: %v", err)
	}
	return m
}

func TestTargetExit(t *testing.T) {
	m := newTracked(t, longPosition())
	if intent := m.OnTick(108); intent != nil {
		t.Fatalf("no exit expected below target, got %+v", intent)
	}
	intent := m.OnTick(110.5)
	if intent == nil || intent.Cause != models.ExitTarget {
		t.Fatalf("expected target exit, got %+v", intent)
	}
}

func TestStopExit(t *testing.T) {
	// Liquidation well below the stop, so the stop is reachable.
	p := longPosition()
	p.Liquidation = 90
	m := newTracked(t, p)
	if intent := m.OnTick(95.5); intent != nil {
		t.Fatalf("no exit expected above the stop, got %+v", intent)
	}
	intent := m.OnTick(94.8)
	if intent == nil || intent.Cause != models.ExitStop {
		t.Fatalf("expected stop exit, got %+v", intent)
	}
}

func TestLiquidationBeatsStop(t *testing.T) {
	// At 20x the liquidation level (95.25) sits above the zone stop
	// (95): any print between the two is a liquidation, and a print
	// through both still reports the liquidation cause.
	m := newTracked(t, longPosition())
	intent := m.OnTick(95.1)
	if intent == nil || intent.Cause != models.ExitLiquidation {
		t.Fatalf("expected liquidation exit between levels, got %+v", intent)
	}

	m2 := newTracked(t, longPosition())
	intent = m2.OnTick(94.8)
	if intent == nil || intent.Cause != models.ExitLiquidation {
		t.Fatalf("expected liquidation exit through both levels, got %+v", intent)
	}
}

func TestShortStopExit(t *testing.T) {
	p := longPosition()
	p.Direction = models.Bearish
	p.StopPrice = 105
	p.TargetPrice = 90
	p.Liquidation = 109.5
	m := newTracked(t, p)
	intent := m.OnTick(105.2)
	if intent == nil || intent.Cause != models.ExitStop {
		t.Fatalf("expected short stop exit, got %+v", intent)
	}
}

func TestTrailingStopRatchetsOnly(t *testing.T) {
	m := newTracked(t, longPosition())
	p := m.Open()

	// 0.5% up: below the 1% trigger, stop untouched.
	m.OnTick(100.5)
	if p.TrailingArmed {
		t.Fatalf("trailing must not arm below the trigger")
	}
	if p.StopPrice != 95 {
		t.Fatalf("stop moved before trailing armed: %f", p.StopPrice)
	}

	// 2% up arms trailing and lifts the stop.
	m.OnTick(102)
	if !p.TrailingArmed {
		t.Fatalf("trailing should be armed at 2%% profit")
	}
	armedStop := p.StopPrice
	if armedStop <= 95 {
		t.Fatalf("trailing stop should have tightened, got %f", armedStop)
	}

	// Pullback that stays above the stop must not loosen it.
	m.OnTick(101.6)
	if p.StopPrice < armedStop {
		t.Fatalf("trailing stop loosened from %f to %f", armedStop, p.StopPrice)
	}

	// New high tightens further.
	m.OnTick(103)
	if p.StopPrice <= armedStop {
		t.Fatalf("trailing stop should tighten on new high")
	}

	// Falling through the trailing stop exits with the trailing cause.
	intent := m.OnTick(p.StopPrice - 0.01)
	if intent == nil || intent.Cause != models.ExitTrailing {
		t.Fatalf("expected trailing exit, got %+v", intent)
	}
}

func TestSettleOutcomes(t *testing.T) {
	now := time.Now()

	m := newTracked(t, longPosition())
	closed, err := m.Settle(110, models.ExitTarget, now)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if closed.Outcome != models.OutcomeWin {
		t.Fatalf("expected win, got %s", closed.Outcome)
	}
	if math.Abs(closed.PnL-800) > 1e-9 {
		t.Fatalf("expected pnl 800, got %f", closed.PnL)
	}
	if m.HasOpen() {
		t.Fatalf("settle must clear the open position")
	}

	m = newTracked(t, longPosition())
	closed, _ = m.Settle(95, models.ExitStop, now)
	if closed.Outcome != models.OutcomeLoss {
		t.Fatalf("expected loss, got %s", closed.Outcome)
	}

	m = newTracked(t, longPosition())
	closed, _ = m.Settle(100, models.ExitStop, now)
	if closed.Outcome != models.OutcomeBreakeven {
		t.Fatalf("expected breakeven, got %s", closed.Outcome)
	}
}

func TestForceCloseFlagsPosition(t *testing.T) {
	m := newTracked(t, longPosition())
	intent := m.ForceClose(99)
	if intent == nil || intent.Cause != models.ExitForced {
		t.Fatalf("expected forced exit, got %+v", intent)
	}
	closed, err := m.Settle(99, models.ExitForced, time.Now())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !closed.Flagged {
		t.Fatalf("forced close must be flagged for review")
	}
}

func TestTrackRejectsSecondPosition(t *testing.T) {
	m := newTracked(t, longPosition())
	if err := m.Track(longPosition()); err == nil {
		t.Fatalf("expected error tracking a second position")
	}
}

func TestSettleWithoutPosition(t *testing.T) {
	m := NewManager(Config{TrailingTriggerPct: 0.01})
	if _, err := m.Settle(100, models.ExitStop, time.Now()); err != ErrNoPosition {
		t.Fatalf("expected ErrNoPosition, got %v", err)
	}
}
