package structure

import (
	"testing"

	"OBFlow/internal/domain/models"
)

// appendOHLC grows the buffer with candles whose highs/lows are derived
// from a single price track: high = p+1, low = p-1.
func appendOHLC(t *testing.T, b *Buffer, prices ...float64) {
	t.Helper()
	start := b.Len()
	for i, p := range prices {
		if _, err := b.Append(candleAt(start+i, p, p+1, p-1, p)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}

func TestSwingHighConfirmation(t *testing.T) {
	b := NewBuffer(50)
	d := NewSwingDetector(b, 2)

	// Highs: 101 102 106 103 102; the pivot at 106 (bar 2) needs two
	// candles on each side.
	appendOHLC(t, b, 100, 101, 105, 102)
	if sw := d.Detect(); len(sw) != 0 {
		t.Fatalf("pivot cannot confirm before right side completes, got %+v", sw)
	}

	appendOHLC(t, b, 101)
	sw := d.Detect()
	if len(sw) != 1 {
		t.Fatalf("expected one swing, got %+v", sw)
	}
	if sw[0].Kind != models.SwingHigh || sw[0].Price != 106 || sw[0].Bar != 2 {
		t.Fatalf("bad swing high: %+v", sw[0])
	}
}

func TestSwingLowConfirmation(t *testing.T) {
	b := NewBuffer(50)
	d := NewSwingDetector(b, 2)

	appendOHLC(t, b, 105, 103, 98, 102, 104)
	sw := d.Detect()
	if len(sw) != 1 {
		t.Fatalf("expected one swing, got %+v", sw)
	}
	if sw[0].Kind != models.SwingLow || sw[0].Price != 97 || sw[0].Bar != 2 {
		t.Fatalf("bad swing low: %+v", sw[0])
	}
}

func TestEqualLeftHighDisqualifiesPivot(t *testing.T) {
	b := NewBuffer(50)
	d := NewSwingDetector(b, 2)

	// Left neighbour equals the candidate high: not a pivot.
	appendOHLC(t, b, 100, 105, 105, 102, 101)
	for _, sw := range d.Detect() {
		if sw.Kind == models.SwingHigh {
			t.Fatalf("equal left high must disqualify the pivot: %+v", sw)
		}
	}
}

func TestNoSwingInMonotonicData(t *testing.T) {
	b := NewBuffer(50)
	d := NewSwingDetector(b, 2)

	appendOHLC(t, b, 100, 101, 102, 103, 104, 105, 106)
	if sw := d.Detect(); len(sw) != 0 {
		t.Fatalf("monotonic data has no pivots, got %+v", sw)
	}
}
