package models

import "time"

// ExitCause records why a position left the book.
type ExitCause string

const (
	ExitTarget      ExitCause = "target"
	ExitStop        ExitCause = "stop"
	ExitTrailing    ExitCause = "trailing_stop"
	ExitLiquidation ExitCause = "liquidation"
	ExitForced      ExitCause = "forced"
)

// Outcome is the realized result of a closed position.
type Outcome string

const (
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
)

// Position is an open trade owned exclusively by the position manager
// from fill confirmation until close.
type Position struct {
	Symbol        string
	Direction     Direction
	ZoneID        ZoneID
	ZoneKind      ZoneKind
	Size          float64
	Leverage      float64
	CapitalUsed   float64
	EntryPrice    float64
	StopPrice     float64
	TargetPrice   float64
	Liquidation   float64
	TrailingArmed bool
	OpenedAt      time.Time
	OpenedBar     int

	// Watermarks for trailing-stop ratcheting.
	BestPrice float64
}

// ClosedPosition is the archived record of a finished trade.
type ClosedPosition struct {
	Position
	ExitPrice float64
	ExitCause ExitCause
	Outcome   Outcome
	PnL       float64
	ClosedAt  time.Time
	Flagged   bool // true when closed by reconciliation fallback
}

// Unrealized returns mark-to-market PnL at the given price.
func (p *Position) Unrealized(price float64) float64 {
	if p.Direction == Bullish {
		return (price - p.EntryPrice) * p.Size
	}
	return (p.EntryPrice - price) * p.Size
}

// InProfitBy reports whether the position is in profit by at least the
// given fraction of entry price.
func (p *Position) InProfitBy(price, fraction float64) bool {
	if p.Direction == Bullish {
		return price >= p.EntryPrice*(1+fraction)
	}
	return price <= p.EntryPrice*(1-fraction)
}
