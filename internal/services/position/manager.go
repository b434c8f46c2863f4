package position

import (
	"errors"
	"time"

	"OBFlow/internal/domain/models"
)

// ErrNoPosition is returned when an operation references a symbol with
// no open position.
var ErrNoPosition = errors.New("no open position")

// Config carries the exit parameters for one symbol.
type Config struct {
	// TrailingTriggerPct is the unrealized-profit fraction that arms the
	// trailing stop.
	TrailingTriggerPct float64
	// TrailingDistancePct is the stop distance from the best price once
	// trailing is armed.
	TrailingDistancePct float64
}

// ExitIntent asks the owner to close the position at market.
type ExitIntent struct {
	Position models.Position
	Cause    models.ExitCause
	Price    float64
}

// Manager tracks at most one open position per symbol lane. All methods
// run on the owning lane goroutine.
type Manager struct {
	cfg  Config
	open *models.Position
}

func NewManager(cfg Config) *Manager {
	if cfg.TrailingDistancePct <= 0 {
		cfg.TrailingDistancePct = cfg.TrailingTriggerPct / 2
	}
	return &Manager{cfg: cfg}
}

// HasOpen reports whether a position is currently tracked.
func (m *Manager) HasOpen() bool { return m.open != nil }

// Open returns the tracked position, or nil.
func (m *Manager) Open() *models.Position { return m.open }

// Track takes ownership of a freshly filled position.
func (m *Manager) Track(p models.Position) error {
	if m.open != nil {
		return errors.New("position already open")
	}
	p.BestPrice = p.EntryPrice
	m.open = &p
	return nil
}

// OnTick evaluates exit conditions against a live price. Check order:
// liquidation, stop, target, trailing. The trailing stop ratchets with
// the best price seen and never moves against the position.
func (m *Manager) OnTick(price float64) *ExitIntent {
	if m.open == nil || price <= 0 {
		return nil
	}
	p := m.open

	if hitAgainst(p.Direction, price, p.Liquidation) {
		return m.exit(models.ExitLiquidation, price)
	}
	if hitAgainst(p.Direction, price, p.StopPrice) {
		cause := models.ExitStop
		if p.TrailingArmed {
			cause = models.ExitTrailing
		}
		return m.exit(cause, price)
	}
	if hitFor(p.Direction, price, p.TargetPrice) {
		return m.exit(models.ExitTarget, price)
	}

	m.ratchet(price)
	if p.TrailingArmed && hitAgainst(p.Direction, price, p.StopPrice) {
		return m.exit(models.ExitTrailing, price)
	}
	return nil
}

// ratchet advances the best price and, once the profit trigger is hit,
// arms and tightens the trailing stop. The stop only ever moves in the
// position's favor.
func (m *Manager) ratchet(price float64) {
	p := m.open
	if p.Direction == models.Bullish {
		if price > p.BestPrice {
			p.BestPrice = price
		}
	} else if price < p.BestPrice {
		p.BestPrice = price
	}

	if !p.TrailingArmed {
		if !p.InProfitBy(p.BestPrice, m.cfg.TrailingTriggerPct) {
			return
		}
		p.TrailingArmed = true
	}

	var candidate float64
	if p.Direction == models.Bullish {
		candidate = p.BestPrice * (1 - m.cfg.TrailingDistancePct)
		if candidate > p.StopPrice {
			p.StopPrice = candidate
		}
	} else {
		candidate = p.BestPrice * (1 + m.cfg.TrailingDistancePct)
		if candidate < p.StopPrice {
			p.StopPrice = candidate
		}
	}
}

// ForceClose closes the position at the last known price, flagging it
// for manual review. Used when exit-order reconciliation fails.
func (m *Manager) ForceClose(lastPrice float64) *ExitIntent {
	if m.open == nil {
		return nil
	}
	return m.exit(models.ExitForced, lastPrice)
}

func (m *Manager) exit(cause models.ExitCause, price float64) *ExitIntent {
	intent := &ExitIntent{Position: *m.open, Cause: cause, Price: price}
	return intent
}

// Settle finalizes the tracked position once the exit fill is confirmed
// and returns the closed record with realized PnL and outcome.
func (m *Manager) Settle(exitPrice float64, cause models.ExitCause, now time.Time) (models.ClosedPosition, error) {
	if m.open == nil {
		return models.ClosedPosition{}, ErrNoPosition
	}
	p := *m.open
	m.open = nil

	pnl := p.Unrealized(exitPrice)
	outcome := models.OutcomeBreakeven
	switch {
	case pnl > 0:
		outcome = models.OutcomeWin
	case pnl < 0:
		outcome = models.OutcomeLoss
	}

	return models.ClosedPosition{
		Position:  p,
		ExitPrice: exitPrice,
		ExitCause: cause,
		Outcome:   outcome,
		PnL:       pnl,
		ClosedAt:  now,
		Flagged:   cause == models.ExitForced,
	}, nil
}

func hitAgainst(d models.Direction, price, level float64) bool {
	if level <= 0 {
		return false
	}
	if d == models.Bullish {
		return price <= level
	}
	return price >= level
}

func hitFor(d models.Direction, price, level float64) bool {
	if level <= 0 {
		return false
	}
	if d == models.Bullish {
		return price >= level
	}
	return price <= level
}
