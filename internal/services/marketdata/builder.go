package marketdata

import (
	"time"

	"OBFlow/internal/domain/models"
)

// Builder aggregates ticks into fixed-interval candles for one symbol.
// A candle closes when the first tick of the next bucket arrives, so a
// quiet market keeps the last candle open until trading resumes.
type Builder struct {
	symbol   string
	interval time.Duration
	current  *models.Candle
}

func NewBuilder(symbol string, interval time.Duration) *Builder {
	return &Builder{symbol: symbol, interval: interval}
}

func (b *Builder) bucket(ts time.Time) time.Time {
	return ts.Truncate(b.interval)
}

// OnTick folds a tick into the current candle. When the tick opens a
// new bucket, the previous candle is returned closed; otherwise the
// returned candle is nil.
func (b *Builder) OnTick(t models.Tick) (*models.Candle, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	start := b.bucket(t.Timestamp)

	if b.current == nil {
		b.current = b.newCandle(start, t)
		return nil, nil
	}

	if start.After(b.current.StartTime) {
		closed := *b.current
		closed.Closed = true
		b.current = b.newCandle(start, t)
		return &closed, nil
	}

	// Late ticks from an already-closed bucket are dropped; they would
	// rewrite history the structure engine has consumed.
	if start.Before(b.current.StartTime) {
		return nil, nil
	}

	c := b.current
	if t.Price > c.High {
		c.High = t.Price
	}
	if t.Price < c.Low {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume += t.Volume
	return nil, nil
}

// Flush closes and returns the in-progress candle, if any. Used on
// shutdown so the archive sees the partial candle.
func (b *Builder) Flush() *models.Candle {
	if b.current == nil {
		return nil
	}
	closed := *b.current
	closed.Closed = true
	b.current = nil
	return &closed
}

// Current returns a copy of the in-progress candle, if any.
func (b *Builder) Current() *models.Candle {
	if b.current == nil {
		return nil
	}
	c := *b.current
	return &c
}

func (b *Builder) newCandle(start time.Time, t models.Tick) *models.Candle {
	return &models.Candle{
		Symbol:    b.symbol,
		Open:      t.Price,
		High:      t.Price,
		Low:       t.Price,
		Close:     t.Price,
		Volume:    t.Volume,
		StartTime: start,
	}
}
