package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"OBFlow/internal/domain/models"
	drepo "OBFlow/internal/domain/repository"
	"OBFlow/internal/middleware"
	"OBFlow/internal/services/risk"
	"OBFlow/pkg/config"
	"OBFlow/pkg/logger"
)

// clockInterval drives candidate deadline checks in every lane.
const clockInterval = 5 * time.Second

// Engine owns one lane per configured symbol and routes stream events to
// them. Lanes never talk to each other; the only shared state is the
// capital ledger.
type Engine struct {
	cfg      *config.Config
	stream   drepo.MarketStream
	broker   drepo.Broker
	notifier drepo.Notifier
	archive  drepo.CandleArchive
	states   drepo.StateStore
	metrics  drepo.Metrics
	log      *logger.Logger

	ledger *risk.Ledger
	lanes  map[string]*Lane
	ticks  *middleware.TickPipeline
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewEngine builds the engine and its lanes. Optional collaborators
// (notifier, archive, states) may be nil.
func NewEngine(
	cfg *config.Config,
	stream drepo.MarketStream,
	broker drepo.Broker,
	notifier drepo.Notifier,
	archive drepo.CandleArchive,
	states drepo.StateStore,
	metrics drepo.Metrics,
	log *logger.Logger,
) *Engine {
	ledger := risk.NewLedger(cfg.Account.Equity)
	lanes := make(map[string]*Lane, len(cfg.Symbols))
	for _, sc := range cfg.Symbols {
		lanes[sc.Name] = NewLane(sc, ledger, cfg.Account.MinNotional, broker, notifier, archive, metrics, log)
	}
	e := &Engine{
		cfg:      cfg,
		stream:   stream,
		broker:   broker,
		notifier: notifier,
		archive:  archive,
		states:   states,
		metrics:  metrics,
		log:      log,
		ledger:   ledger,
		lanes:    lanes,
	}
	e.ticks = middleware.NewTickPipeline(e, metrics)
	return e
}

// DeliverTick routes a validated tick to its owning lane. Satisfies
// middleware.TickSink; ticks for unconfigured symbols are dropped.
func (e *Engine) DeliverTick(t *models.Tick) {
	if lane, ok := e.lanes[t.Symbol]; ok {
		lane.DeliverTick(t)
	}
}

// Start warms up every lane, connects the stream and begins routing.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.warmup(runCtx)
	e.restore(runCtx)

	if err := e.stream.Connect(runCtx); err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	if err := e.stream.Subscribe(runCtx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for _, lane := range e.lanes {
		e.wg.Add(1)
		go func(l *Lane) {
			defer e.wg.Done()
			l.Run(runCtx)
		}(lane)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.route(runCtx)
	}()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.clockLoop(runCtx)
	}()
	if e.states != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.snapshotLoop(runCtx)
		}()
	}

	e.log.Info("engine started",
		logger.Int("lanes", len(e.lanes)),
		logger.Float64("equity", e.ledger.Equity()))
	return nil
}

// warmup loads historical candles from the archive for symbols that
// request backfill.
func (e *Engine) warmup(ctx context.Context) {
	if e.archive == nil {
		return
	}
	for _, sc := range e.cfg.Symbols {
		if sc.BackfillCandles <= 0 {
			continue
		}
		span := time.Duration(sc.BackfillCandles*sc.TimeframeMinutes) * time.Minute
		candles, err := e.archive.LoadCandles(ctx, sc.Name, time.Now().Add(-span), time.Now(), sc.BackfillCandles)
		if err != nil {
			e.log.Warn("backfill failed",
				logger.String("symbol", sc.Name), logger.Error(err))
			e.metrics.RecordError("backfill")
			continue
		}
		e.lanes[sc.Name].Warmup(candles)
	}
}

func (e *Engine) restore(ctx context.Context) {
	if e.states == nil {
		return
	}
	for name, lane := range e.lanes {
		snap, err := e.states.LoadSnapshot(ctx, name)
		if err != nil {
			e.log.Warn("snapshot load failed",
				logger.String("symbol", name), logger.Error(err))
			continue
		}
		lane.Restore(snap)
	}
}

// route fans stream events out to the owning lanes. Unknown symbols are
// dropped; a stream error triggers reconnection with backoff.
func (e *Engine) route(ctx context.Context) {
	ticks, errs := e.stream.Ticks(ctx)
	candles := e.stream.Candles(ctx)
	fills := e.stream.Fills(ctx)

	// Drains ticks held back by the pipeline's throttle.
	flush := time.NewTicker(time.Second)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticks:
			if t == nil {
				continue
			}
			if err := e.ticks.Process(t); err != nil {
				e.log.Debug("tick rejected", logger.String("symbol", t.Symbol), logger.Error(err))
			}
		case <-flush.C:
			e.ticks.Flush()
		case c := <-candles:
			if c == nil {
				continue
			}
			if lane, ok := e.lanes[c.Symbol]; ok {
				lane.DeliverCandle(c)
			}
		case f := <-fills:
			if f == nil {
				continue
			}
			if lane, ok := e.lanes[f.Symbol]; ok {
				lane.DeliverFill(f)
			}
		case err := <-errs:
			if err == nil {
				continue
			}
			e.metrics.RecordError("stream")
			e.log.Warn("stream error, reconnecting", logger.Error(err))
			if rerr := e.stream.Reconnect(ctx); rerr != nil {
				e.log.Error("reconnect failed", logger.Error(rerr))
				select {
				case <-ctx.Done():
					return
				case <-time.After(e.cfg.Delta.ReconnectDelay):
				}
			}
		}
	}
}

func (e *Engine) clockLoop(ctx context.Context) {
	ticker := time.NewTicker(clockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, lane := range e.lanes {
				lane.DeliverClock(now)
			}
		}
	}
}

func (e *Engine) snapshotLoop(ctx context.Context) {
	interval := e.cfg.Redis.SnapshotInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.saveSnapshots(ctx)
		}
	}
}

func (e *Engine) saveSnapshots(ctx context.Context) {
	for name, lane := range e.lanes {
		snap, err := lane.Snapshot(ctx)
		if err != nil {
			continue
		}
		if err := e.states.SaveSnapshot(ctx, name, snap); err != nil {
			e.metrics.RecordError("snapshot")
			e.log.Warn("snapshot save failed",
				logger.String("symbol", name), logger.Error(err))
		}
	}
}

// IsConnected reports the market stream health for readiness probes.
func (e *Engine) IsConnected() bool { return e.stream.IsConnected() }

// Equity returns the current total equity.
func (e *Engine) Equity() float64 { return e.ledger.Equity() }

// FreeCapital returns equity not reserved by open positions.
func (e *Engine) FreeCapital() float64 { return e.ledger.Free() }

// LaneStatus returns the API view of one symbol, or false if unknown.
func (e *Engine) LaneStatus(ctx context.Context, symbol string) (Status, bool) {
	lane, ok := e.lanes[symbol]
	if !ok {
		return Status{}, false
	}
	st := Status{
		Symbol: symbol,
		Failed: lane.Failed(),
		Stats:  lane.Stats(),
	}
	snap, err := lane.Snapshot(ctx)
	if err == nil {
		st.Trend = snap.Trend.String()
		st.Bar = snap.Bar
		st.LiveZones = snap.Zones
		if len(snap.Positions) > 0 {
			p := snap.Positions[0]
			st.Position = &p
		}
	}
	return st, true
}

// Statuses returns the API view of every lane.
func (e *Engine) Statuses(ctx context.Context) []Status {
	out := make([]Status, 0, len(e.lanes))
	for name := range e.lanes {
		if st, ok := e.LaneStatus(ctx, name); ok {
			out = append(out, st)
		}
	}
	return out
}

// Stop drains the engine: final snapshots, stream teardown, lanes.
func (e *Engine) Stop(ctx context.Context) error {
	if e.states != nil {
		e.saveSnapshots(ctx)
	}
	if e.cancel != nil {
		e.cancel()
	}
	err := e.stream.Close()
	e.wg.Wait()

	if e.notifier != nil {
		_ = e.notifier.Close()
	}
	if e.archive != nil {
		_ = e.archive.Close()
	}
	if e.states != nil {
		_ = e.states.Close()
	}
	e.log.Info("engine stopped")
	return err
}

// ForceCloseAll is the operator escape hatch: every open position closes
// at market immediately.
func (e *Engine) ForceCloseAll(ctx context.Context) int {
	n := 0
	for _, lane := range e.lanes {
		snap, err := lane.Snapshot(ctx)
		if err != nil || len(snap.Positions) == 0 {
			continue
		}
		for _, p := range snap.Positions {
			go lane.closeAtMarket(ctx, p, models.ExitForced)
			n++
		}
	}
	return n
}
