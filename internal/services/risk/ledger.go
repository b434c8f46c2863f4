package risk

import (
	"fmt"
	"sync"
)

// Ledger tracks free and reserved equity shared by all symbol lanes.
// Reserve is a single atomic check-and-commit under the lock, so two
// lanes racing for the last slice of equity cannot both win it.
type Ledger struct {
	mu       sync.Mutex
	equity   float64
	reserved float64
}

// NewLedger creates a ledger seeded with the account equity.
func NewLedger(equity float64) *Ledger {
	return &Ledger{equity: equity}
}

// Equity returns total equity including reserved capital.
func (l *Ledger) Equity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.equity
}

// Free returns equity not committed to open positions.
func (l *Ledger) Free() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.equity - l.reserved
}

// Reserve commits amount of free equity or fails without side effects.
func (l *Ledger) Reserve(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("invalid reserve amount %.2f", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount > l.equity-l.reserved {
		return fmt.Errorf("%w: need %.2f, free %.2f", ErrInsufficientCapital, amount, l.equity-l.reserved)
	}
	l.reserved += amount
	return nil
}

// Release returns a reservation without touching equity. Used when an
// entry is cancelled or rejected before any fill.
func (l *Ledger) Release(amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserved -= amount
	if l.reserved < 0 {
		l.reserved = 0
	}
}

// Settle releases the reservation and applies realized PnL to equity.
func (l *Ledger) Settle(reserved, pnl float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserved -= reserved
	if l.reserved < 0 {
		l.reserved = 0
	}
	l.equity += pnl
	if l.equity < 0 {
		l.equity = 0
	}
}
