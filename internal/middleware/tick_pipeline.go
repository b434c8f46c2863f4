package middleware

import (
	"sync"
	"time"

	"OBFlow/internal/domain/models"
	domrepo "OBFlow/internal/domain/repository"
)

// TickSink receives validated ticks, keyed by symbol upstream.
type TickSink interface {
	DeliverTick(t *models.Tick)
}

// TickPipeline sits between the WebSocket stream and the symbol lanes.
// It validates ticks and throttles the mark-price firehose per symbol:
// position checks only need price resolution, not every update, and an
// unthrottled feed would crowd candle events out of the lane inboxes.
// Throttled ticks are conflated, keeping the latest price per symbol so
// a quiet interval ends with the freshest value delivered.
type TickPipeline struct {
	sink    TickSink
	metrics domrepo.Metrics
	maxRPS  int

	mu       sync.Mutex
	lastSeen map[string]time.Time
	pending  map[string]*models.Tick
}

type PipelineOption func(*TickPipeline)

// WithMaxRPS sets the max ticks per second forwarded per symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// NewTickPipeline creates a pipeline in front of the given sink.
func NewTickPipeline(sink TickSink, metrics domrepo.Metrics, opts ...PipelineOption) *TickPipeline {
	p := &TickPipeline{
		sink:     sink,
		metrics:  metrics,
		maxRPS:   20,
		lastSeen: make(map[string]time.Time),
		pending:  make(map[string]*models.Tick),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process validates and forwards one tick, conflating under throttle.
func (p *TickPipeline) Process(t *models.Tick) error {
	if err := t.Validate(); err != nil {
		p.metrics.RecordError("tick_validate")
		return err
	}
	now := time.Now()

	p.mu.Lock()
	if !p.allowLocked(t.Symbol, now) {
		p.pending[t.Symbol] = t
		p.mu.Unlock()
		return nil
	}
	// Forward the conflated tick if one is newer than this one.
	if held := p.pending[t.Symbol]; held != nil && held.Timestamp.After(t.Timestamp) {
		t = held
	}
	delete(p.pending, t.Symbol)
	p.mu.Unlock()

	p.sink.DeliverTick(t)
	return nil
}

// Flush delivers any ticks held back by the throttle. Called on a timer
// so a symbol that goes quiet still gets its last price out.
func (p *TickPipeline) Flush() {
	p.mu.Lock()
	held := make([]*models.Tick, 0, len(p.pending))
	for sym, t := range p.pending {
		held = append(held, t)
		delete(p.pending, sym)
	}
	p.mu.Unlock()

	for _, t := range held {
		p.sink.DeliverTick(t)
	}
}

func (p *TickPipeline) allowLocked(symbol string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	last := p.lastSeen[symbol]
	if last.IsZero() || now.Sub(last) >= time.Second/time.Duration(p.maxRPS) {
		p.lastSeen[symbol] = now
		return true
	}
	return false
}
