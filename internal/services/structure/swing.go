package structure

import "OBFlow/internal/domain/models"

// SwingDetector confirms fractal pivots over the buffer tail. A pivot at
// bar N is confirmed only once `bars` candles on each side are present,
// so confirmation lags the live edge by `bars` candles.
type SwingDetector struct {
	bars int
	buf  *Buffer
}

// NewSwingDetector creates a detector requiring `bars` confirming candles
// on each side of a pivot.
func NewSwingDetector(buf *Buffer, bars int) *SwingDetector {
	if bars < 1 {
		bars = 1
	}
	return &SwingDetector{bars: bars, buf: buf}
}

// Detect inspects the candidate pivot that became confirmable with the
// latest append and returns zero, one or two confirmed swing points
// (a single candle can be both a swing high and a swing low only in
// degenerate data; in practice at most one is returned).
func (d *SwingDetector) Detect() []models.SwingPoint {
	n := d.buf.Len()
	if n < 2*d.bars+1 {
		return nil
	}

	// Candidate sits `bars` candles back from the tail.
	center := d.bars
	cc := d.buf.FromTail(center)
	centerBar := d.buf.Bar() - center

	var out []models.SwingPoint

	if d.isPivotHigh(center, cc.High) {
		out = append(out, models.SwingPoint{
			Bar:   centerBar,
			Time:  cc.StartTime,
			Price: cc.High,
			Kind:  models.SwingHigh,
		})
	}
	if d.isPivotLow(center, cc.Low) {
		out = append(out, models.SwingPoint{
			Bar:   centerBar,
			Time:  cc.StartTime,
			Price: cc.Low,
			Kind:  models.SwingLow,
		})
	}
	return out
}

// isPivotHigh requires the candidate high to exceed every high on the
// left side and to be unexceeded on the right side.
func (d *SwingDetector) isPivotHigh(center int, high float64) bool {
	for i := center + 1; i <= center+d.bars; i++ {
		c := d.buf.FromTail(i)
		if c == nil || c.High >= high {
			return false
		}
	}
	for i := center - 1; i >= 0; i-- {
		if d.buf.FromTail(i).High > high {
			return false
		}
	}
	return true
}

func (d *SwingDetector) isPivotLow(center int, low float64) bool {
	for i := center + 1; i <= center+d.bars; i++ {
		c := d.buf.FromTail(i)
		if c == nil || c.Low <= low {
			return false
		}
	}
	for i := center - 1; i >= 0; i-- {
		if d.buf.FromTail(i).Low < low {
			return false
		}
	}
	return true
}
