package structure

import (
	"errors"
	"testing"
	"time"

	"OBFlow/internal/domain/models"
)

var testStart = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func candleAt(i int, o, h, l, c float64) *models.Candle {
	return &models.Candle{
		Symbol:    "BTCUSD",
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    1,
		StartTime: testStart.Add(time.Duration(i) * time.Minute),
		Closed:    true,
	}
}

func TestBufferAppendAndWindow(t *testing.T) {
	b := NewBuffer(3)
	for i := 0; i < 5; i++ {
		p := 100 + float64(i)
		bar, err := b.Append(candleAt(i, p, p+1, p-1, p))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if bar != i {
			t.Fatalf("expected bar %d, got %d", i, bar)
		}
	}
	if b.Len() != 3 {
		t.Fatalf("window must be bounded at 3, got %d", b.Len())
	}
	if b.Bar() != 4 {
		t.Fatalf("absolute bar must keep counting, got %d", b.Bar())
	}
	if b.Last().Open != 104 {
		t.Fatalf("last candle wrong: %+v", b.Last())
	}
	if b.FromTail(2).Open != 102 {
		t.Fatalf("tail offset 2 wrong: %+v", b.FromTail(2))
	}
	if b.FromTail(3) != nil {
		t.Fatalf("offset past the window must return nil")
	}
	if b.AtBar(3).Open != 103 {
		t.Fatalf("absolute lookup wrong: %+v", b.AtBar(3))
	}
	if b.AtBar(0) != nil {
		t.Fatalf("evicted bar must return nil")
	}
}

func TestBufferRejectsBadCandles(t *testing.T) {
	b := NewBuffer(10)
	if _, err := b.Append(candleAt(0, 100, 101, 99, 100)); err != nil {
		t.Fatalf("append: %v", err)
	}

	open := candleAt(1, 100, 101, 99, 100)
	open.Closed = false
	if _, err := b.Append(open); !errors.Is(err, models.ErrBadCandle) {
		t.Fatalf("open candle must be rejected, got %v", err)
	}

	inverted := candleAt(1, 100, 98, 99, 100)
	if _, err := b.Append(inverted); !errors.Is(err, models.ErrBadCandle) {
		t.Fatalf("high below low must be rejected, got %v", err)
	}

	stale := candleAt(0, 100, 101, 99, 100)
	if _, err := b.Append(stale); !errors.Is(err, models.ErrBadCandle) {
		t.Fatalf("non-increasing start time must be rejected, got %v", err)
	}

	// A rejected candle must not advance the bar counter.
	if b.Bar() != 0 {
		t.Fatalf("bar advanced on rejected candle: %d", b.Bar())
	}
}
