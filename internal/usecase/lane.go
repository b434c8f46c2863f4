package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"OBFlow/internal/domain/models"
	drepo "OBFlow/internal/domain/repository"
	"OBFlow/internal/services/execution"
	"OBFlow/internal/services/marketdata"
	"OBFlow/internal/services/position"
	"OBFlow/internal/services/risk"
	"OBFlow/internal/services/structure"
	"OBFlow/pkg/config"
	"OBFlow/pkg/logger"
)

// laneEvent is one message on a lane's inbox. Exactly one field is set.
type laneEvent struct {
	candle *models.Candle
	tick   *models.Tick
	fill   *models.FillEvent
	ack    *ackEvent
	clock  *time.Time
	snap   chan *drepo.LaneSnapshot
}

// ackEvent carries a broker placement response back onto the lane.
type ackEvent struct {
	zoneID models.ZoneID
	ack    models.OrderAck
	exit   bool
	cause  models.ExitCause
	err    error
}

// LaneStats accumulates per-symbol trading results.
type LaneStats struct {
	Symbol        string  `json:"symbol"`
	CandlesSeen   int     `json:"candles_seen"`
	StructureEvts int     `json:"structure_events"`
	ZonesCreated  int     `json:"zones_created"`
	Entries       int     `json:"entries"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	RealizedPnL   float64 `json:"realized_pnl"`
	DroppedEvents int     `json:"dropped_events"`
}

// Lane owns all mutable state for one symbol. A single goroutine drains
// the inbox, so no entity inside the lane needs locking; only the shared
// capital ledger is touched across lanes.
type Lane struct {
	symbol string
	cfg    config.SymbolConfig

	buf        *structure.Buffer
	swings     *structure.SwingDetector
	classifier *structure.Classifier
	tracker    *structure.Tracker
	builder    *marketdata.Builder
	positions  *position.Manager

	candidates map[models.ZoneID]*execution.Candidate
	reserved   map[models.ZoneID]float64
	orderZones map[string]models.ZoneID
	exitOrders map[string]models.ExitCause
	// Fills that arrived before the placement ack registered their order
	// id; replayed once the ack lands.
	pendingFills map[string]*models.FillEvent
	exitInFly    bool

	ledger   *risk.Ledger
	sizerCfg risk.SizerConfig
	execCfg  execution.Config

	broker   drepo.Broker
	notifier drepo.Notifier
	archive  drepo.CandleArchive
	metrics  drepo.Metrics
	log      *logger.Logger

	inbox     chan laneEvent
	done      chan struct{}
	failed    bool
	lastPrice float64

	// Counters are written by the lane goroutine and by producers that
	// hit a full inbox, and read from the API.
	statsMu sync.Mutex
	stats   LaneStats
}

// NewLane wires a lane from its collaborators. Call Run to start it.
func NewLane(
	cfg config.SymbolConfig,
	ledger *risk.Ledger,
	minNotional float64,
	broker drepo.Broker,
	notifier drepo.Notifier,
	archive drepo.CandleArchive,
	metrics drepo.Metrics,
	log *logger.Logger,
) *Lane {
	buf := structure.NewBuffer(cfg.BufferSize)
	interval := time.Duration(cfg.TimeframeMinutes) * time.Minute

	l := &Lane{
		symbol:     cfg.Name,
		cfg:        cfg,
		buf:        buf,
		swings:     structure.NewSwingDetector(buf, cfg.SwingConfirmationBars),
		classifier: structure.NewClassifier(),
		tracker: structure.NewTracker(cfg.Name, buf, structure.TrackerConfig{
			UseBody:        cfg.ZoneSource == "body",
			MaxAge:         cfg.MaxZoneAgeCandles,
			OriginLookback: 30,
		}),
		builder: marketdata.NewBuilder(cfg.Name, interval),
		positions: position.NewManager(position.Config{
			TrailingTriggerPct: cfg.TrailingTriggerPct,
		}),
		candidates:   make(map[models.ZoneID]*execution.Candidate),
		reserved:     make(map[models.ZoneID]float64),
		orderZones:   make(map[string]models.ZoneID),
		exitOrders:   make(map[string]models.ExitCause),
		pendingFills: make(map[string]*models.FillEvent),
		ledger:     ledger,
		sizerCfg: risk.SizerConfig{
			Fresh:              risk.Params{AllocationPct: cfg.FreshAllocationPct, Leverage: cfg.FreshLeverage},
			Breaker:            risk.Params{AllocationPct: cfg.BreakerAllocationPct, Leverage: cfg.BreakerLeverage},
			MinNotional:        minNotional,
			TargetRR:           cfg.TargetRR,
			TrailingTriggerPct: cfg.TrailingTriggerPct,
			LiquidationSafety:  0.95,
		},
		execCfg: execution.Config{
			Mode:             execution.Mode(cfg.Mode),
			PenetrationRatio: cfg.PenetrationRatio,
			Timeout:          cfg.ModeBTimeout,
			RetryBackoff:     2 * time.Second,
		},
		broker:   broker,
		notifier: notifier,
		archive:  archive,
		metrics:  metrics,
		log:      log,
		inbox:    make(chan laneEvent, 512),
		done:     make(chan struct{}),
		stats:    LaneStats{Symbol: cfg.Name},
	}
	return l
}

func (l *Lane) Symbol() string { return l.symbol }

// Failed reports whether the lane hit a fatal structural error.
func (l *Lane) Failed() bool {
	select {
	case <-l.done:
		return l.failed
	default:
		return false
	}
}

// Warmup seeds the buffer with historical candles before live events
// flow. Must be called before Run.
func (l *Lane) Warmup(candles []*models.Candle) {
	for _, c := range candles {
		if _, err := l.buf.Append(c); err != nil {
			l.log.Warn("skipping backfill candle",
				logger.String("symbol", l.symbol), logger.Error(err))
			continue
		}
		for _, sp := range l.swings.Detect() {
			l.classifier.OnSwing(sp)
		}
		// Structure replays without order flow: no candidates are armed
		// during warmup.
		ev, err := l.classifier.Classify(c, l.buf.Bar())
		if err != nil {
			l.log.Warn("classifier error during warmup",
				logger.String("symbol", l.symbol), logger.Error(err))
			continue
		}
		if ev.Kind != models.StructureNone {
			l.tracker.OnStructureEvent(ev, l.buf.Bar())
		}
		l.tracker.OnCandle(c, l.buf.Bar())
	}
	l.log.Info("lane warmed up",
		logger.String("symbol", l.symbol),
		logger.Int("candles", l.buf.Len()),
		logger.Int("live_zones", len(l.tracker.Live())))
}

// Restore reapplies a persisted snapshot. Must be called before Run.
func (l *Lane) Restore(snap *drepo.LaneSnapshot) {
	if snap == nil {
		return
	}
	l.tracker.Restore(snap.Zones)
	for _, p := range snap.Positions {
		if err := l.positions.Track(p); err != nil {
			l.log.Warn("snapshot position not restored",
				logger.String("symbol", l.symbol), logger.Error(err))
		}
	}
	l.log.Info("lane restored from snapshot",
		logger.String("symbol", l.symbol),
		logger.Int("zones", len(snap.Zones)),
		logger.Int("positions", len(snap.Positions)))
}

// Deliver routes an external event into the lane without blocking the
// caller. Overflow drops the event and counts it.
func (l *Lane) Deliver(ev laneEvent) {
	select {
	case <-l.done:
	case l.inbox <- ev:
	default:
		l.statsMu.Lock()
		l.stats.DroppedEvents++
		l.statsMu.Unlock()
		l.metrics.RecordError("lane_overflow")
	}
}

func (l *Lane) DeliverCandle(c *models.Candle)  { l.Deliver(laneEvent{candle: c}) }
func (l *Lane) DeliverTick(t *models.Tick)      { l.Deliver(laneEvent{tick: t}) }
func (l *Lane) DeliverFill(f *models.FillEvent) { l.Deliver(laneEvent{fill: f}) }
func (l *Lane) DeliverClock(now time.Time)      { l.Deliver(laneEvent{clock: &now}) }

// Snapshot asks the lane goroutine for a consistent snapshot.
func (l *Lane) Snapshot(ctx context.Context) (*drepo.LaneSnapshot, error) {
	reply := make(chan *drepo.LaneSnapshot, 1)
	select {
	case l.inbox <- laneEvent{snap: reply}:
	case <-l.done:
		return nil, errors.New("lane stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-l.done:
		return nil, errors.New("lane stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run drains the inbox until the context ends or a fatal structural
// error poisons the lane. Only this goroutine mutates lane state.
func (l *Lane) Run(ctx context.Context) {
	defer close(l.done)
	l.log.Info("lane started",
		logger.String("symbol", l.symbol),
		logger.String("mode", string(l.cfg.Mode)),
		logger.Int("timeframe_minutes", l.cfg.TimeframeMinutes))

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return
		case ev := <-l.inbox:
			if err := l.handle(ctx, ev); err != nil {
				l.failed = true
				l.metrics.RecordError("lane_fatal")
				l.log.Error("lane failed, halting symbol",
					logger.String("symbol", l.symbol), logger.Error(err))
				return
			}
		}
	}
}

func (l *Lane) handle(ctx context.Context, ev laneEvent) error {
	switch {
	case ev.candle != nil:
		return l.onCandle(ctx, ev.candle)
	case ev.tick != nil:
		l.onTick(ctx, ev.tick)
	case ev.fill != nil:
		l.onFill(ctx, ev.fill)
	case ev.ack != nil:
		l.onAck(ctx, ev.ack)
	case ev.clock != nil:
		l.onClock(ctx, *ev.clock)
	case ev.snap != nil:
		ev.snap <- l.snapshotLocked()
	}
	return nil
}

// onCandle applies the full per-candle sequence. Structural events and
// zone transitions from this candle land before entry evaluation, so a
// zone created and touched by the same candle is a valid entry.
func (l *Lane) onCandle(ctx context.Context, c *models.Candle) error {
	start := time.Now()
	defer func() {
		l.metrics.RecordLatency("candle", time.Since(start).Seconds())
	}()

	bar, err := l.buf.Append(c)
	if err != nil {
		// Malformed candles are logged and skipped, never fatal.
		l.metrics.RecordError("bad_candle")
		l.log.Warn("rejected candle",
			logger.String("symbol", l.symbol), logger.Error(err))
		return nil
	}
	l.statsMu.Lock()
	l.stats.CandlesSeen++
	l.statsMu.Unlock()

	if l.archive != nil {
		if err := l.archive.StoreCandle(ctx, c); err != nil {
			l.metrics.RecordError("archive_candle")
		}
	}

	for _, sp := range l.swings.Detect() {
		l.classifier.OnSwing(sp)
	}

	ev, err := l.classifier.Classify(c, bar)
	if err != nil {
		return err
	}
	if ev.Kind != models.StructureNone {
		l.statsMu.Lock()
		l.stats.StructureEvts++
		l.statsMu.Unlock()
		l.metrics.RecordStructureEvent(l.symbol, ev.Kind.String())
		l.log.Info("structure event",
			logger.String("symbol", l.symbol),
			logger.String("kind", ev.Kind.String()),
			logger.String("trend", ev.Trend.String()),
			logger.Float64("price", ev.Price))
		l.applyZoneEvents(ctx, l.tracker.OnStructureEvent(ev, bar), c)
		if ev.Kind == models.StructureCHoCH {
			l.onTrendFlip(ev.Trend.Opposite())
		}
	}

	l.applyZoneEvents(ctx, l.tracker.OnCandle(c, bar), c)

	// Mode A candidates evaluate the same candle, after zone transitions.
	for _, cand := range l.candidates {
		l.execute(ctx, cand, cand.OnCandle(*c))
	}
	l.reapCandidates()

	// The close acts as a price observation for exits.
	l.checkExits(ctx, c.Close)
	return nil
}

func (l *Lane) onTick(ctx context.Context, t *models.Tick) {
	if err := t.Validate(); err != nil {
		l.metrics.RecordError("bad_tick")
		return
	}
	l.lastPrice = t.Price
	l.metrics.RecordLastPrice(l.symbol, t.Price)

	if closed, err := l.builder.OnTick(*t); err == nil && closed != nil {
		// Locally built candle, used when the stream has no candle feed.
		l.Deliver(laneEvent{candle: closed})
	}

	l.checkExits(ctx, t.Price)
}

// applyZoneEvents reacts to zone lifecycle transitions: notifying,
// spawning entry candidates for newly armed zones and resolving the
// candidates of finished zones.
func (l *Lane) applyZoneEvents(ctx context.Context, events []structure.ZoneEvent, c *models.Candle) {
	for _, ze := range events {
		l.metrics.RecordZoneTransition(l.symbol, ze.Kind.String())
		switch ze.Kind {
		case structure.ZoneCreated:
			l.statsMu.Lock()
			l.stats.ZonesCreated++
			l.statsMu.Unlock()
			l.notify(ctx, models.EventZoneCreated, ze.Zone, "")
			l.spawnCandidate(ctx, ze.Zone, c.StartTime)
		case structure.ZoneBreakerArmed:
			l.notify(ctx, models.EventZoneBreaker, ze.Zone, "re-armed reversed")
			l.spawnCandidate(ctx, ze.Zone, c.StartTime)
		case structure.ZoneMitigated:
			l.notify(ctx, models.EventZoneMitigated, ze.Zone, "")
			l.resolveCandidate(ctx, ze.Zone.ID)
		case structure.ZoneInvalidated, structure.ZoneExpired, structure.ZoneSuperseded:
			if ze.Kind == structure.ZoneExpired {
				l.notify(ctx, models.EventZoneExpired, ze.Zone, "")
			}
			l.resolveCandidate(ctx, ze.Zone.ID)
		}
	}
}

// onTrendFlip surveys zones left aligned with the pre-CHoCH trend. They
// stay live, but flag them so operators can see which zones now trade
// against structure.
func (l *Lane) onTrendFlip(oldTrend models.Direction) {
	affected := l.tracker.OnTrendFlip(oldTrend)
	if len(affected) == 0 {
		return
	}
	for _, id := range affected {
		l.log.Info("zone against new trend",
			logger.String("symbol", l.symbol),
			logger.Uint64("zone", uint64(id)),
			logger.String("old_trend", oldTrend.String()))
	}
}

// spawnCandidate arms an execution state machine for a new zone, after
// reserving capital atomically against the shared ledger.
func (l *Lane) spawnCandidate(ctx context.Context, zone models.OrderBlock, at time.Time) {
	if l.positions.HasOpen() || len(l.candidates) > 0 {
		return
	}
	z := zone

	// Reference price for sizing: the worst acceptable entry.
	refPrice := z.NearEdge()
	if l.execCfg.Mode == execution.ModeLimit {
		refPrice = z.EntryPrice(l.execCfg.PenetrationRatio)
	}
	sizing, err := risk.ComputeSize(l.sizerCfg, l.ledger.Equity(), z.Kind, refPrice)
	if err != nil {
		if errors.Is(err, risk.ErrInsufficientCapital) {
			l.log.Info("candidate dropped",
				logger.String("symbol", l.symbol),
				logger.Uint64("zone", uint64(z.ID)),
				logger.Error(err))
			l.metrics.RecordError("insufficient_capital")
			return
		}
		l.log.Error("sizing failed",
			logger.String("symbol", l.symbol), logger.Error(err))
		return
	}
	if err := l.ledger.Reserve(sizing.CapitalUsed); err != nil {
		l.log.Info("candidate dropped",
			logger.String("symbol", l.symbol),
			logger.Uint64("zone", uint64(z.ID)),
			logger.Error(err))
		l.metrics.RecordError("insufficient_capital")
		return
	}

	cfg := l.execCfg
	cfg.Size = sizing.Size
	cand, actions := execution.NewCandidate(cfg, &z, at)
	l.candidates[z.ID] = cand
	l.reserved[z.ID] = sizing.CapitalUsed
	l.log.Info("entry candidate armed",
		logger.String("symbol", l.symbol),
		logger.Uint64("zone", uint64(z.ID)),
		logger.String("zone_kind", z.Kind.String()),
		logger.String("state", cand.State().String()))
	l.execute(ctx, cand, actions)
}

func (l *Lane) resolveCandidate(ctx context.Context, id models.ZoneID) {
	cand, ok := l.candidates[id]
	if !ok {
		return
	}
	l.execute(ctx, cand, cand.OnZoneResolved())
	l.reapCandidates()
}

// execute carries out order actions on behalf of a candidate. Broker
// calls run off-lane; their acks come back through the inbox.
func (l *Lane) execute(ctx context.Context, cand *execution.Candidate, actions []execution.Action) {
	for _, a := range actions {
		switch a.Kind {
		case execution.ActionPlaceMarket:
			go l.placeOrder(ctx, cand.ZoneID(), a, true)
		case execution.ActionPlaceLimit:
			go l.placeOrder(ctx, cand.ZoneID(), a, false)
		case execution.ActionCancelOrder:
			go func(symbol, orderID string) {
				if err := l.broker.CancelOrder(ctx, symbol, orderID); err != nil {
					l.metrics.RecordError("cancel_order")
					l.log.Warn("cancel failed",
						logger.String("symbol", symbol),
						logger.String("order_id", orderID),
						logger.Error(err))
				}
			}(a.Intent.Symbol, a.OrderID)
		}
	}
}

func (l *Lane) placeOrder(ctx context.Context, zoneID models.ZoneID, a execution.Action, market bool) {
	if a.Backoff > 0 {
		timer := time.NewTimer(a.Backoff)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
	var (
		ack models.OrderAck
		err error
	)
	if market {
		ack, err = l.broker.PlaceMarketOrder(ctx, a.Intent)
	} else {
		ack, err = l.broker.PlaceLimitOrder(ctx, a.Intent)
	}
	l.Deliver(laneEvent{ack: &ackEvent{zoneID: zoneID, ack: ack, err: err}})
}

func (l *Lane) onAck(ctx context.Context, ae *ackEvent) {
	if ae.exit {
		l.onExitAck(ctx, ae)
		return
	}
	cand, ok := l.candidates[ae.zoneID]
	if !ok {
		// The candidate resolved before its placement ack arrived; an
		// accepted order would rest orphaned, so cancel it.
		if ae.err == nil && ae.ack.Accepted && ae.ack.OrderID != "" {
			go func(orderID string) {
				_ = l.broker.CancelOrder(ctx, l.symbol, orderID)
			}(ae.ack.OrderID)
		}
		return
	}
	ack := ae.ack
	if ae.err != nil {
		// Transport failure counts as a rejection.
		ack = models.OrderAck{Accepted: false, Reason: ae.err.Error()}
		l.metrics.RecordError("broker_place")
	}
	if ack.Accepted && ack.OrderID != "" {
		l.orderZones[ack.OrderID] = ae.zoneID
	}
	l.execute(ctx, cand, cand.OnAck(ack))
	l.reapCandidates()
	l.replayPendingFill(ctx, ack.OrderID)
}

func (l *Lane) replayPendingFill(ctx context.Context, orderID string) {
	if f, ok := l.pendingFills[orderID]; ok {
		delete(l.pendingFills, orderID)
		l.onFill(ctx, f)
	}
}

func (l *Lane) onFill(ctx context.Context, f *models.FillEvent) {
	if cause, ok := l.exitOrders[f.OrderID]; ok {
		l.settleExit(ctx, f, cause)
		return
	}

	zoneID, ok := l.orderZones[f.OrderID]
	if !ok {
		// The placement ack has not landed yet; keep the fill until the
		// order id is known.
		if f.OrderID != "" {
			l.pendingFills[f.OrderID] = f
		}
		return
	}
	cand, ok := l.candidates[zoneID]
	if !ok {
		return
	}
	cand.OnFill(*f)

	if cand.State() == execution.StateFilled {
		l.openPosition(ctx, cand, f)
	}
	l.reapCandidates()
}

func (l *Lane) openPosition(ctx context.Context, cand *execution.Candidate, f *models.FillEvent) {
	sizing := risk.Sizing{
		Size:        f.Size,
		CapitalUsed: l.reserved[cand.ZoneID()],
		Leverage:    l.sizerCfg.ParamsFor(cand.Zone().Kind).Leverage,
	}
	pos := risk.BuildPosition(l.sizerCfg, cand.Zone(), sizing, f.Price, l.buf.Bar())
	pos.OpenedAt = f.Timestamp

	if err := l.positions.Track(pos); err != nil {
		// Should be impossible with the single-candidate gate; close at
		// market rather than carry an untracked position.
		l.log.Error("untracked fill, forcing close",
			logger.String("symbol", l.symbol), logger.Error(err))
		go l.closeAtMarket(ctx, pos, models.ExitForced)
		return
	}

	// The reservation now belongs to the open position.
	delete(l.reserved, cand.ZoneID())
	l.statsMu.Lock()
	l.stats.Entries++
	l.statsMu.Unlock()
	mode := string(l.cfg.Mode)
	l.metrics.RecordEntry(l.symbol, mode, pos.ZoneKind.String())
	l.notify(ctx, models.EventEntryFilled, *cand.Zone(), "")
	l.log.Info("entry filled",
		logger.String("symbol", l.symbol),
		logger.String("mode", mode),
		logger.Float64("price", f.Price),
		logger.Float64("size", pos.Size),
		logger.Float64("stop", pos.StopPrice),
		logger.Float64("target", pos.TargetPrice))
}

func (l *Lane) onClock(ctx context.Context, now time.Time) {
	for _, cand := range l.candidates {
		l.execute(ctx, cand, cand.OnClock(now))
	}
	l.reapCandidates()
}

// checkExits evaluates the open position against a price observation and
// dispatches the exit order when a level is hit.
func (l *Lane) checkExits(ctx context.Context, price float64) {
	if l.exitInFly {
		return
	}
	intent := l.positions.OnTick(price)
	if intent == nil {
		return
	}
	l.exitInFly = true
	l.log.Info("exit triggered",
		logger.String("symbol", l.symbol),
		logger.String("cause", string(intent.Cause)),
		logger.Float64("price", price))
	go l.closeAtMarket(ctx, intent.Position, intent.Cause)
}

// closeAtMarket submits a reduce-only market order for the full size.
func (l *Lane) closeAtMarket(ctx context.Context, pos models.Position, cause models.ExitCause) {
	side := models.SideSell
	if pos.Direction == models.Bearish {
		side = models.SideBuy
	}
	ack, err := l.broker.PlaceMarketOrder(ctx, models.OrderIntent{
		Symbol:     pos.Symbol,
		Side:       side,
		Type:       models.OrderMarket,
		Size:       pos.Size,
		ReduceOnly: true,
	})
	l.Deliver(laneEvent{ack: &ackEvent{ack: ack, err: err, exit: true, cause: cause}})
}

func (l *Lane) onExitAck(ctx context.Context, ae *ackEvent) {
	if ae.err != nil || !ae.ack.Accepted {
		// Exit order reconciliation failed: force-close at the last
		// known price so the position is never left open indefinitely.
		l.metrics.RecordError("exit_reconcile")
		l.log.Error("exit order failed, forcing local close",
			logger.String("symbol", l.symbol),
			logger.String("reason", ae.ack.Reason),
			logger.Error(ae.err))
		l.settleExit(ctx, &models.FillEvent{
			Symbol:    l.symbol,
			Kind:      models.FillConfirmed,
			Price:     l.lastKnownPrice(),
			Timestamp: time.Now().UTC(),
		}, models.ExitForced)
		return
	}
	l.exitOrders[ae.ack.OrderID] = ae.cause
	l.replayPendingFill(ctx, ae.ack.OrderID)
}

func (l *Lane) settleExit(ctx context.Context, f *models.FillEvent, cause models.ExitCause) {
	delete(l.exitOrders, f.OrderID)
	l.exitInFly = false
	if f.Kind != models.FillConfirmed {
		l.metrics.RecordError("exit_reconcile")
		cause = models.ExitForced
		f.Price = l.lastKnownPrice()
	}

	closed, err := l.positions.Settle(f.Price, cause, f.Timestamp)
	if err != nil {
		return
	}
	l.ledger.Settle(closed.CapitalUsed, closed.PnL)
	l.metrics.RecordExit(l.symbol, string(closed.Outcome))
	l.metrics.RecordEquity(l.ledger.Equity())

	l.statsMu.Lock()
	switch closed.Outcome {
	case models.OutcomeWin:
		l.stats.Wins++
	case models.OutcomeLoss:
		l.stats.Losses++
	}
	l.stats.RealizedPnL += closed.PnL
	l.statsMu.Unlock()

	if l.archive != nil {
		if err := l.archive.StoreTrade(ctx, &closed); err != nil {
			l.metrics.RecordError("archive_trade")
		}
	}
	detail := string(closed.ExitCause)
	if closed.Flagged {
		detail += " (flagged for review)"
	}
	l.notify(ctx, models.EventPositionClosed, models.OrderBlock{
		ID: closed.ZoneID, Symbol: l.symbol, Direction: closed.Direction,
	}, detail)
	l.log.Info("position closed",
		logger.String("symbol", l.symbol),
		logger.String("cause", string(closed.ExitCause)),
		logger.String("outcome", string(closed.Outcome)),
		logger.Float64("pnl", closed.PnL),
		logger.Float64("equity", l.ledger.Equity()),
		logger.Bool("flagged", closed.Flagged))
}

func (l *Lane) lastKnownPrice() float64 {
	if l.lastPrice > 0 {
		return l.lastPrice
	}
	if c := l.buf.Last(); c != nil {
		return c.Close
	}
	return 0
}

// reapCandidates releases reservations of terminal, unfilled candidates
// and drops them from the active set.
func (l *Lane) reapCandidates() {
	for id, cand := range l.candidates {
		st := cand.State()
		if !st.Terminal() {
			continue
		}
		if st != execution.StateFilled {
			if amt, ok := l.reserved[id]; ok {
				l.ledger.Release(amt)
			}
			l.log.Info("candidate resolved",
				logger.String("symbol", l.symbol),
				logger.Uint64("zone", uint64(id)),
				logger.String("state", st.String()))
		}
		delete(l.reserved, id)
		delete(l.candidates, id)
	}
}

func (l *Lane) notify(ctx context.Context, kind models.EngineEventKind, zone models.OrderBlock, detail string) {
	if l.notifier == nil {
		return
	}
	l.notifier.Notify(ctx, models.EngineEvent{
		Kind:      kind,
		Symbol:    l.symbol,
		ZoneID:    zone.ID,
		Direction: strings.ToLower(zone.Direction.String()),
		Price:     zone.Mid(),
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

func (l *Lane) snapshotLocked() *drepo.LaneSnapshot {
	snap := &drepo.LaneSnapshot{
		Symbol:  l.symbol,
		Trend:   l.classifier.State().Trend,
		Zones:   l.tracker.Live(),
		Bar:     l.buf.Bar(),
		Equity:  l.ledger.Equity(),
		SavedAt: time.Now().UTC(),
	}
	if p := l.positions.Open(); p != nil {
		snap.Positions = []models.Position{*p}
	}
	return snap
}

// Stats returns a copy of the lane counters.
func (l *Lane) Stats() LaneStats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.stats
}

// Status is the API-facing view of the lane.
type Status struct {
	Symbol    string              `json:"symbol"`
	Trend     string              `json:"trend"`
	Bar       int                 `json:"bar"`
	LiveZones []models.OrderBlock `json:"live_zones"`
	Position  *models.Position    `json:"position,omitempty"`
	Failed    bool                `json:"failed"`
	Stats     LaneStats           `json:"stats"`
}

func (l *Lane) shutdown() {
	if c := l.builder.Flush(); c != nil && l.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.archive.StoreCandle(ctx, c)
	}
	l.log.Info("lane stopped", logger.String("symbol", l.symbol))
}
