package risk

import (
	"errors"
	"math"
	"sync"
	"testing"

	"OBFlow/internal/domain/models"
)

func testConfig() SizerConfig {
	return SizerConfig{
		Fresh:             Params{AllocationPct: 0.4, Leverage: 20},
		Breaker:           Params{AllocationPct: 0.3, Leverage: 10},
		MinNotional:       10,
		TargetRR:          2.0,
		LiquidationSafety: 0.95,
	}
}

func TestComputeSizeFresh(t *testing.T) {
	s, err := ComputeSize(testConfig(), 1000, models.ZoneFresh, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(s.Size-80) > 1e-9 {
		t.Fatalf("expected size 80, got %f", s.Size)
	}
	if math.Abs(s.CapitalUsed-400) > 1e-9 {
		t.Fatalf("expected capital used 400, got %f", s.CapitalUsed)
	}
	if math.Abs(s.Notional-8000) > 1e-9 {
		t.Fatalf("expected notional 8000, got %f", s.Notional)
	}
}

func TestComputeSizeBreaker(t *testing.T) {
	s, err := ComputeSize(testConfig(), 1000, models.ZoneBreaker, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(s.Size-30) > 1e-9 {
		t.Fatalf("expected size 30, got %f", s.Size)
	}
	if s.Leverage != 10 {
		t.Fatalf("expected leverage 10, got %f", s.Leverage)
	}
}

func TestComputeSizeBelowMinNotional(t *testing.T) {
	cfg := testConfig()
	cfg.MinNotional = 100
	_, err := ComputeSize(cfg, 10, models.ZoneFresh, 100)
	if !errors.Is(err, ErrInsufficientCapital) {
		t.Fatalf("expected ErrInsufficientCapital, got %v", err)
	}
}

func TestComputeSizeZeroEquity(t *testing.T) {
	_, err := ComputeSize(testConfig(), 0, models.ZoneFresh, 100)
	if !errors.Is(err, ErrInsufficientCapital) {
		t.Fatalf("expected ErrInsufficientCapital, got %v", err)
	}
}

func TestTargetPrice(t *testing.T) {
	// Bullish: entry 100, stop 95, RR 2 -> 110.
	if got := TargetPrice(models.Bullish, 100, 95, 2); math.Abs(got-110) > 1e-9 {
		t.Fatalf("bullish target: expected 110, got %f", got)
	}
	// Bearish: entry 100, stop 105, RR 2 -> 90.
	if got := TargetPrice(models.Bearish, 100, 105, 2); math.Abs(got-90) > 1e-9 {
		t.Fatalf("bearish target: expected 90, got %f", got)
	}
}

func TestLiquidationPrice(t *testing.T) {
	// 20x long at 100: 100 * (1 - 0.05*0.95) = 95.25.
	if got := LiquidationPrice(models.Bullish, 100, 20, 0.95); math.Abs(got-95.25) > 1e-9 {
		t.Fatalf("long liquidation: expected 95.25, got %f", got)
	}
	// 10x short at 100: 100 * (1 + 0.1*0.95) = 109.5.
	if got := LiquidationPrice(models.Bearish, 100, 10, 0.95); math.Abs(got-109.5) > 1e-9 {
		t.Fatalf("short liquidation: expected 109.5, got %f", got)
	}
}

func TestBuildPosition(t *testing.T) {
	ob := &models.OrderBlock{
		ID:        1,
		Symbol:    "BTCUSD",
		Direction: models.Bullish,
		Kind:      models.ZoneFresh,
		High:      110,
		Low:       100,
	}
	s, err := ComputeSize(testConfig(), 1000, ob.Kind, 108)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos := BuildPosition(testConfig(), ob, s, 108, 42)
	if pos.StopPrice != 100 {
		t.Fatalf("expected stop at far edge 100, got %f", pos.StopPrice)
	}
	// risk = 8, RR 2 -> target 124.
	if math.Abs(pos.TargetPrice-124) > 1e-9 {
		t.Fatalf("expected target 124, got %f", pos.TargetPrice)
	}
	if pos.Liquidation >= pos.EntryPrice {
		t.Fatalf("long liquidation %f must be below entry %f", pos.Liquidation, pos.EntryPrice)
	}
	if pos.BestPrice != pos.EntryPrice {
		t.Fatalf("best price must start at entry")
	}
}

func TestLedgerReserveRelease(t *testing.T) {
	l := NewLedger(1000)
	if err := l.Reserve(400); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if free := l.Free(); math.Abs(free-600) > 1e-9 {
		t.Fatalf("expected free 600, got %f", free)
	}
	if err := l.Reserve(700); !errors.Is(err, ErrInsufficientCapital) {
		t.Fatalf("expected ErrInsufficientCapital, got %v", err)
	}
	l.Release(400)
	if free := l.Free(); math.Abs(free-1000) > 1e-9 {
		t.Fatalf("expected free 1000 after release, got %f", free)
	}
}

func TestLedgerSettleAppliesPnL(t *testing.T) {
	l := NewLedger(1000)
	if err := l.Reserve(400); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Settle(400, 50)
	if eq := l.Equity(); math.Abs(eq-1050) > 1e-9 {
		t.Fatalf("expected equity 1050, got %f", eq)
	}
	if free := l.Free(); math.Abs(free-1050) > 1e-9 {
		t.Fatalf("expected free 1050, got %f", free)
	}
}

func TestLedgerNoDoubleSpend(t *testing.T) {
	l := NewLedger(1000)
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Reserve(400); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 2 {
		t.Fatalf("expected exactly 2 grants of 400 from 1000, got %d", granted)
	}
}
