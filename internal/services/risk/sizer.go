package risk

import (
	"errors"
	"fmt"

	"OBFlow/internal/domain/models"
)

// ErrInsufficientCapital is returned when the computed notional falls
// below the configured minimum. The candidate is dropped, not retried.
var ErrInsufficientCapital = errors.New("insufficient capital")

// Params are the configured allocation knobs for one zone kind.
type Params struct {
	AllocationPct float64
	Leverage      float64
}

// SizerConfig carries the per-symbol sizing configuration.
type SizerConfig struct {
	Fresh              Params
	Breaker            Params
	MinNotional        float64
	TargetRR           float64
	TrailingTriggerPct float64
	// LiquidationSafety shrinks the theoretical liquidation distance to
	// leave room for fees. 0.95 leaves a 5% buffer.
	LiquidationSafety float64
}

// Sizing is the computed result for one entry.
type Sizing struct {
	Size        float64
	Notional    float64
	CapitalUsed float64
	Leverage    float64
	Allocation  float64
}

// ParamsFor returns the allocation parameters for a zone kind.
func (c SizerConfig) ParamsFor(kind models.ZoneKind) Params {
	if kind == models.ZoneBreaker {
		return c.Breaker
	}
	return c.Fresh
}

// ComputeSize is a pure function of equity, zone kind and entry price.
// size = equity * allocation * leverage / entryPrice.
func ComputeSize(cfg SizerConfig, equity float64, kind models.ZoneKind, entryPrice float64) (Sizing, error) {
	if equity <= 0 {
		return Sizing{}, fmt.Errorf("%w: equity %.2f", ErrInsufficientCapital, equity)
	}
	if entryPrice <= 0 {
		return Sizing{}, fmt.Errorf("invalid entry price %.8f", entryPrice)
	}

	p := cfg.ParamsFor(kind)
	capitalUsed := equity * p.AllocationPct
	notional := capitalUsed * p.Leverage
	if notional < cfg.MinNotional {
		return Sizing{}, fmt.Errorf("%w: notional %.2f below minimum %.2f",
			ErrInsufficientCapital, notional, cfg.MinNotional)
	}

	return Sizing{
		Size:        notional / entryPrice,
		Notional:    notional,
		CapitalUsed: capitalUsed,
		Leverage:    p.Leverage,
		Allocation:  p.AllocationPct,
	}, nil
}

// StopPrice places the protective stop at the zone's far edge.
func StopPrice(ob *models.OrderBlock) float64 {
	return ob.FarEdge()
}

// TargetPrice projects the configured reward multiple of the entry-stop
// distance in the trade direction.
func TargetPrice(dir models.Direction, entry, stop, rr float64) float64 {
	riskDist := entry - stop
	if dir == models.Bearish {
		riskDist = stop - entry
	}
	if dir == models.Bullish {
		return entry + rr*riskDist
	}
	return entry - rr*riskDist
}

// LiquidationPrice estimates the forced-close level for the leverage used.
func LiquidationPrice(dir models.Direction, entry, leverage, safety float64) float64 {
	if leverage <= 0 {
		return 0
	}
	if safety <= 0 || safety > 1 {
		safety = 0.95
	}
	threshold := (1.0 / leverage) * safety
	if dir == models.Bullish {
		return entry * (1 - threshold)
	}
	return entry * (1 + threshold)
}

// BuildPosition assembles the Position handed to the position manager on
// fill. Target, trailing and stop parameters come straight from config;
// no price-path logic happens here.
func BuildPosition(cfg SizerConfig, ob *models.OrderBlock, s Sizing, fillPrice float64, bar int) models.Position {
	stop := StopPrice(ob)
	return models.Position{
		Symbol:      ob.Symbol,
		Direction:   ob.Direction,
		ZoneID:      ob.ID,
		ZoneKind:    ob.Kind,
		Size:        s.Size,
		Leverage:    s.Leverage,
		CapitalUsed: s.CapitalUsed,
		EntryPrice:  fillPrice,
		StopPrice:   stop,
		TargetPrice: TargetPrice(ob.Direction, fillPrice, stop, cfg.TargetRR),
		Liquidation: LiquidationPrice(ob.Direction, fillPrice, s.Leverage, cfg.LiquidationSafety),
		OpenedBar:   bar,
		BestPrice:   fillPrice,
	}
}
