package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrBadCandle marks candles that fail integrity validation.
var ErrBadCandle = errors.New("malformed candle")

// Candle is a single OHLCV bar. Immutable once Closed is set.
type Candle struct {
	Symbol    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	StartTime time.Time
	Closed    bool
}

// Validate checks OHLC relationships and positive prices.
func (c *Candle) Validate() error {
	if c.High < c.Low {
		return fmt.Errorf("%w: high %.8f < low %.8f", ErrBadCandle, c.High, c.Low)
	}
	if c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("%w: high %.8f below open/close", ErrBadCandle, c.High)
	}
	if c.Low > c.Open || c.Low > c.Close {
		return fmt.Errorf("%w: low %.8f above open/close", ErrBadCandle, c.Low)
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("%w: non-positive price", ErrBadCandle)
	}
	if c.StartTime.IsZero() {
		return fmt.Errorf("%w: zero start time", ErrBadCandle)
	}
	return nil
}

// Bullish reports whether the candle closed above its open.
func (c *Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports whether the candle closed below its open.
func (c *Candle) Bearish() bool { return c.Close < c.Open }

// BodyHigh returns the upper bound of the candle body.
func (c *Candle) BodyHigh() float64 {
	if c.Open > c.Close {
		return c.Open
	}
	return c.Close
}

// BodyLow returns the lower bound of the candle body.
func (c *Candle) BodyLow() float64 {
	if c.Open < c.Close {
		return c.Open
	}
	return c.Close
}

// Tick is a single mark-price update.
type Tick struct {
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp time.Time
}

// Validate rejects empty or non-positive ticks.
func (t *Tick) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrBadCandle)
	}
	if t.Price <= 0 {
		return fmt.Errorf("%w: non-positive price %.8f", ErrBadCandle, t.Price)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrBadCandle)
	}
	return nil
}
