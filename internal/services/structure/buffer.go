package structure

import (
	"fmt"

	"OBFlow/internal/domain/models"
)

// Buffer is a bounded rolling window of closed candles for one symbol.
// Appends are validated; a rejected candle never advances the window.
type Buffer struct {
	candles []models.Candle
	max     int
	bar     int // index of the most recent candle, -1 when empty
}

// NewBuffer creates a buffer holding at most max candles.
func NewBuffer(max int) *Buffer {
	if max < 1 {
		max = 1
	}
	return &Buffer{candles: make([]models.Candle, 0, max), max: max, bar: -1}
}

// Append validates and stores a closed candle. The oldest candle is
// evicted once the window is full.
func (b *Buffer) Append(c *models.Candle) (int, error) {
	if err := c.Validate(); err != nil {
		return b.bar, err
	}
	if !c.Closed {
		return b.bar, fmt.Errorf("%w: candle not closed", models.ErrBadCandle)
	}
	if last := b.Last(); last != nil && !c.StartTime.After(last.StartTime) {
		return b.bar, fmt.Errorf("%w: non-increasing start time %s", models.ErrBadCandle, c.StartTime)
	}

	if len(b.candles) == b.max {
		copy(b.candles, b.candles[1:])
		b.candles[len(b.candles)-1] = *c
	} else {
		b.candles = append(b.candles, *c)
	}
	b.bar++
	return b.bar, nil
}

// Len returns the number of buffered candles.
func (b *Buffer) Len() int { return len(b.candles) }

// Bar returns the absolute index of the most recent candle.
func (b *Buffer) Bar() int { return b.bar }

// Last returns the most recent candle, or nil when empty.
func (b *Buffer) Last() *models.Candle {
	if len(b.candles) == 0 {
		return nil
	}
	return &b.candles[len(b.candles)-1]
}

// FromTail returns the candle n positions back from the most recent
// (n=0 is the latest). Nil when out of range.
func (b *Buffer) FromTail(n int) *models.Candle {
	i := len(b.candles) - 1 - n
	if i < 0 {
		return nil
	}
	return &b.candles[i]
}

// AtBar returns the candle with the given absolute bar index, or nil if
// it has been evicted or not yet seen.
func (b *Buffer) AtBar(bar int) *models.Candle {
	n := b.bar - bar
	if n < 0 || n >= len(b.candles) {
		return nil
	}
	return b.FromTail(n)
}
