package structure

import (
	"errors"
	"testing"

	"OBFlow/internal/domain/models"
)

func swing(kind models.SwingKind, price float64, bar int) models.SwingPoint {
	return models.SwingPoint{Bar: bar, Price: price, Kind: kind}
}

func TestFirstBreakIsCHoCH(t *testing.T) {
	cl := NewClassifier()
	cl.OnSwing(swing(models.SwingHigh, 105, 2))

	ev, err := cl.Classify(candleAt(5, 104, 107, 103, 106), 5)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.Kind != models.StructureCHoCH {
		t.Fatalf("break from undetermined trend must be CHoCH, got %v", ev.Kind)
	}
	if ev.Trend != models.Bullish {
		t.Fatalf("expected bullish trend, got %v", ev.Trend)
	}
	if ev.BrokenSwing.Price != 105 {
		t.Fatalf("expected broken swing 105, got %+v", ev.BrokenSwing)
	}
}

func TestBOSContinuesTrend(t *testing.T) {
	cl := NewClassifier()
	cl.OnSwing(swing(models.SwingHigh, 105, 2))
	if _, err := cl.Classify(candleAt(5, 104, 107, 103, 106), 5); err != nil {
		t.Fatalf("classify: %v", err)
	}

	cl.OnSwing(swing(models.SwingHigh, 110, 8))
	ev, err := cl.Classify(candleAt(11, 109, 112, 108, 111), 11)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.Kind != models.StructureBOS {
		t.Fatalf("break with the trend must be BOS, got %v", ev.Kind)
	}
	if cl.State().Trend != models.Bullish {
		t.Fatalf("BOS must not change trend")
	}
}

func TestCHoCHFlipsTrend(t *testing.T) {
	cl := NewClassifier()
	cl.OnSwing(swing(models.SwingHigh, 105, 2))
	if _, err := cl.Classify(candleAt(5, 104, 107, 103, 106), 5); err != nil {
		t.Fatalf("classify: %v", err)
	}

	cl.OnSwing(swing(models.SwingLow, 100, 8))
	ev, err := cl.Classify(candleAt(11, 101, 102, 98, 99), 11)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.Kind != models.StructureCHoCH {
		t.Fatalf("break against the trend must be CHoCH, got %v", ev.Kind)
	}
	if cl.State().Trend != models.Bearish {
		t.Fatalf("CHoCH must flip trend to bearish, got %v", cl.State().Trend)
	}
}

func TestCloseAtSwingLevelDoesNotBreak(t *testing.T) {
	cl := NewClassifier()
	cl.OnSwing(swing(models.SwingHigh, 105, 2))

	ev, err := cl.Classify(candleAt(5, 104, 106, 103, 105), 5)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.Kind != models.StructureNone {
		t.Fatalf("close exactly at the level must not break, got %v", ev.Kind)
	}
}

func TestWickBeyondSwingDoesNotBreak(t *testing.T) {
	cl := NewClassifier()
	cl.OnSwing(swing(models.SwingHigh, 105, 2))

	// High pierces the level but the close stays under it.
	ev, err := cl.Classify(candleAt(5, 103, 107, 102, 104), 5)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.Kind != models.StructureNone {
		t.Fatalf("wick through the level must not break, got %v", ev.Kind)
	}
}

func TestDoubleBreakIsCorrupt(t *testing.T) {
	cl := NewClassifier()
	// Inverted bookkeeping: the armed low sits above the armed high, so
	// one close can break both. The lane must treat this as fatal.
	cl.OnSwing(swing(models.SwingHigh, 100, 2))
	cl.OnSwing(swing(models.SwingLow, 105, 3))

	_, err := cl.Classify(candleAt(5, 102, 104, 101, 103), 5)
	if !errors.Is(err, ErrStateCorrupt) {
		t.Fatalf("expected ErrStateCorrupt, got %v", err)
	}
}

func TestTrendOnlyChangesOnCHoCH(t *testing.T) {
	cl := NewClassifier()

	type step struct {
		swings []models.SwingPoint
		candle *models.Candle
		bar    int
	}
	steps := []step{
		{[]models.SwingPoint{swing(models.SwingHigh, 105, 2)}, candleAt(5, 104, 107, 103, 106), 5},
		{[]models.SwingPoint{swing(models.SwingHigh, 110, 8)}, candleAt(11, 109, 112, 108, 111), 11},
		{[]models.SwingPoint{swing(models.SwingLow, 104, 14)}, candleAt(17, 105, 106, 102, 103), 17},
		{[]models.SwingPoint{swing(models.SwingLow, 100, 20)}, candleAt(23, 101, 102, 98, 99), 23},
	}

	prev := cl.State().Trend
	for i, s := range steps {
		for _, sp := range s.swings {
			cl.OnSwing(sp)
		}
		ev, err := cl.Classify(s.candle, s.bar)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		cur := cl.State().Trend
		if cur != prev && ev.Kind != models.StructureCHoCH {
			t.Fatalf("step %d: trend changed on %v", i, ev.Kind)
		}
		prev = cur
	}
	if prev != models.Bearish {
		t.Fatalf("expected bearish trend at the end, got %v", prev)
	}
}
