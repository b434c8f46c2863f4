package marketdata

import (
	"testing"
	"time"

	"OBFlow/internal/domain/models"
)

func tick(t time.Time, price, vol float64) models.Tick {
	return models.Tick{Symbol: "BTCUSD", Price: price, Volume: vol, Timestamp: t}
}

func TestBuilderAggregatesBucket(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBuilder("BTCUSD", time.Minute)

	for _, tk := range []models.Tick{
		tick(base, 100, 1),
		tick(base.Add(10*time.Second), 103, 2),
		tick(base.Add(30*time.Second), 99, 1),
		tick(base.Add(50*time.Second), 101, 1),
	} {
		closed, err := b.OnTick(tk)
		if err != nil {
			t.Fatalf("on tick: %v", err)
		}
		if closed != nil {
			t.Fatalf("no candle should close inside the bucket")
		}
	}

	cur := b.Current()
	if cur == nil {
		t.Fatalf("expected an in-progress candle")
	}
	if cur.Open != 100 || cur.High != 103 || cur.Low != 99 || cur.Close != 101 {
		t.Fatalf("bad OHLC: %+v", cur)
	}
	if cur.Volume != 5 {
		t.Fatalf("expected volume 5, got %f", cur.Volume)
	}
}

func TestBuilderClosesOnNextBucket(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBuilder("BTCUSD", time.Minute)

	b.OnTick(tick(base.Add(5*time.Second), 100, 1))
	closed, err := b.OnTick(tick(base.Add(61*time.Second), 105, 1))
	if err != nil {
		t.Fatalf("on tick: %v", err)
	}
	if closed == nil || !closed.Closed {
		t.Fatalf("expected the first bucket to close")
	}
	if closed.Close != 100 {
		t.Fatalf("expected close 100, got %f", closed.Close)
	}
	if !closed.StartTime.Equal(base) {
		t.Fatalf("expected start %v, got %v", base, closed.StartTime)
	}

	cur := b.Current()
	if cur == nil || cur.Open != 105 {
		t.Fatalf("expected new bucket opening at 105, got %+v", cur)
	}
}

func TestBuilderDropsLateTick(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBuilder("BTCUSD", time.Minute)

	b.OnTick(tick(base.Add(61*time.Second), 100, 1))
	closed, err := b.OnTick(tick(base.Add(30*time.Second), 500, 1))
	if err != nil || closed != nil {
		t.Fatalf("late tick must be silently dropped, got %v %v", closed, err)
	}
	if cur := b.Current(); cur.High != 100 {
		t.Fatalf("late tick must not touch the current candle")
	}
}

func TestBuilderRejectsBadTick(t *testing.T) {
	b := NewBuilder("BTCUSD", time.Minute)
	if _, err := b.OnTick(models.Tick{Symbol: "BTCUSD", Price: -1, Timestamp: time.Now()}); err == nil {
		t.Fatalf("expected validation error for negative price")
	}
}

func TestBuilderFlush(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBuilder("BTCUSD", time.Minute)
	b.OnTick(tick(base, 100, 1))

	closed := b.Flush()
	if closed == nil || !closed.Closed {
		t.Fatalf("flush must return the closed partial candle")
	}
	if b.Current() != nil {
		t.Fatalf("flush must clear the builder")
	}
	if b.Flush() != nil {
		t.Fatalf("second flush must return nil")
	}
}
