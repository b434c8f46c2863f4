package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"OBFlow/internal/domain/models"
	"OBFlow/internal/services/risk"
	"OBFlow/pkg/config"
	"OBFlow/pkg/logger"
)

type nopMetrics struct{}

func (nopMetrics) RecordStructureEvent(string, string) {}
func (nopMetrics) RecordZoneTransition(string, string) {}
func (nopMetrics) RecordEntry(string, string, string)  {}
func (nopMetrics) RecordExit(string, string)           {}
func (nopMetrics) RecordLastPrice(string, float64)     {}
func (nopMetrics) RecordEquity(float64)                {}
func (nopMetrics) RecordError(string)                  {}
func (nopMetrics) RecordLatency(string, float64)       {}

type captureMetrics struct {
	nopMetrics
	mu      sync.Mutex
	entries [][3]string
	latency []string
}

func (m *captureMetrics) RecordEntry(symbol, mode, zoneKind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, [3]string{symbol, mode, zoneKind})
}

func (m *captureMetrics) RecordLatency(operation string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = append(m.latency, operation)
}

func (m *captureMetrics) recordedEntries() [][3]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][3]string, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *captureMetrics) recordedLatencies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.latency))
	copy(out, m.latency)
	return out
}

type fakeBroker struct {
	mu      sync.Mutex
	nextID  int
	orders  []models.OrderIntent
	cancels []string
	reject  bool
}

func (b *fakeBroker) place(intent models.OrderIntent) (models.OrderAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reject {
		return models.OrderAck{Accepted: false, Reason: "rejected"}, nil
	}
	b.nextID++
	b.orders = append(b.orders, intent)
	return models.OrderAck{OrderID: fmt.Sprintf("o%d", b.nextID), Accepted: true}, nil
}

func (b *fakeBroker) PlaceMarketOrder(_ context.Context, intent models.OrderIntent) (models.OrderAck, error) {
	return b.place(intent)
}

func (b *fakeBroker) PlaceLimitOrder(_ context.Context, intent models.OrderIntent) (models.OrderAck, error) {
	return b.place(intent)
}

func (b *fakeBroker) CancelOrder(_ context.Context, _ string, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels = append(b.cancels, orderID)
	return nil
}

func (b *fakeBroker) placed() []models.OrderIntent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.OrderIntent, len(b.orders))
	copy(out, b.orders)
	return out
}

func (b *fakeBroker) cancelled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.cancels))
	copy(out, b.cancels)
	return out
}

func testSymbolConfig(mode string) config.SymbolConfig {
	return config.SymbolConfig{
		Name:                  "BTCUSD",
		TimeframeMinutes:      1,
		Mode:                  mode,
		SwingConfirmationBars: 2,
		MaxZoneAgeCandles:     120,
		PenetrationRatio:      0.2,
		ModeBTimeout:          time.Hour,
		FreshAllocationPct:    0.4,
		FreshLeverage:         20,
		BreakerAllocationPct:  0.3,
		BreakerLeverage:       10,
		TargetRR:              2.0,
		TrailingTriggerPct:    0.01,
		ZoneSource:            "wick",
		BufferSize:            300,
	}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func laneCandle(i int, o, h, l, c float64) *models.Candle {
	return &models.Candle{
		Symbol:    "BTCUSD",
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    1,
		StartTime: time.Date(2025, 6, 1, 0, i, 0, 0, time.UTC),
		Closed:    true,
	}
}

// chochSequence sets up a confirmed swing high at 108 and the candle
// that breaks it. The origin candle preceding the break spans [101,104].
func chochSequence() []*models.Candle {
	return []*models.Candle{
		laneCandle(0, 100, 101, 99, 100),
		laneCandle(1, 101, 103, 100, 102),
		laneCandle(2, 104, 108, 103, 106),
		laneCandle(3, 105, 106, 102, 103),
		laneCandle(4, 103, 104, 101, 102),
		laneCandle(5, 103, 110, 103, 109),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startLane(t *testing.T, mode string, broker *fakeBroker) (*Lane, *risk.Ledger, context.CancelFunc) {
	t.Helper()
	ledger := risk.NewLedger(1000)
	lane := NewLane(testSymbolConfig(mode), ledger, 10, broker, nil, nil, nopMetrics{}, testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go lane.Run(ctx)
	t.Cleanup(cancel)
	return lane, ledger, cancel
}

func TestModeAEndToEnd(t *testing.T) {
	broker := &fakeBroker{}
	lane, ledger, _ := startLane(t, "A", broker)

	for _, c := range chochSequence() {
		lane.DeliverCandle(c)
	}

	// The breaking candle creates the zone, touches it and closes
	// favorably, so the entry fires off the same candle.
	waitFor(t, "market entry order", func() bool {
		orders := broker.placed()
		return len(orders) == 1 && orders[0].Type == models.OrderMarket
	})
	order := broker.placed()[0]
	if order.Side != models.SideBuy {
		t.Fatalf("expected buy entry, got %s", order.Side)
	}
	// Reference price is the zone near edge 104: 1000*0.4*20/104.
	if math.Abs(order.Size-8000.0/104.0) > 1e-6 {
		t.Fatalf("unexpected size %f", order.Size)
	}

	waitFor(t, "capital reservation", func() bool {
		return math.Abs(ledger.Free()-600) < 1e-9
	})

	lane.DeliverFill(&models.FillEvent{
		OrderID: "o1", Symbol: "BTCUSD", Kind: models.FillConfirmed,
		Price: 109, Size: order.Size, Timestamp: time.Now(),
	})
	waitFor(t, "open position", func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		snap, err := lane.Snapshot(ctx)
		return err == nil && len(snap.Positions) == 1
	})

	// Stop at the zone far edge, target two risk units above entry.
	ctx := context.Background()
	snap, _ := lane.Snapshot(ctx)
	pos := snap.Positions[0]
	if pos.StopPrice != 101 {
		t.Fatalf("expected stop 101, got %f", pos.StopPrice)
	}
	if math.Abs(pos.TargetPrice-125) > 1e-9 {
		t.Fatalf("expected target 125, got %f", pos.TargetPrice)
	}

	// A tick through the target triggers the exit order.
	lane.DeliverTick(&models.Tick{Symbol: "BTCUSD", Price: 126, Volume: 1, Timestamp: time.Now()})
	waitFor(t, "exit order", func() bool {
		orders := broker.placed()
		return len(orders) == 2 && orders[1].ReduceOnly
	})

	lane.DeliverFill(&models.FillEvent{
		OrderID: "o2", Symbol: "BTCUSD", Kind: models.FillConfirmed,
		Price: 126, Size: order.Size, Timestamp: time.Now(),
	})
	waitFor(t, "settled equity", func() bool {
		return ledger.Equity() > 1000
	})

	wantPnL := (126 - 109) * order.Size
	waitFor(t, "win recorded", func() bool {
		s := lane.Stats()
		return s.Wins == 1 && math.Abs(s.RealizedPnL-wantPnL) < 1e-6
	})
	if math.Abs(ledger.Free()-ledger.Equity()) > 1e-9 {
		t.Fatalf("reservation must be fully released after exit")
	}
}

func TestModeBLimitThenTimeout(t *testing.T) {
	broker := &fakeBroker{}
	lane, ledger, _ := startLane(t, "B", broker)

	for _, c := range chochSequence() {
		lane.DeliverCandle(c)
	}

	// Zone [101,104], ratio 0.2, bullish: limit at 104 - 0.2*3 = 103.4.
	waitFor(t, "limit order", func() bool {
		orders := broker.placed()
		return len(orders) == 1 && orders[0].Type == models.OrderLimit
	})
	order := broker.placed()[0]
	if math.Abs(order.LimitPrice-103.4) > 1e-9 {
		t.Fatalf("expected limit 103.4, got %f", order.LimitPrice)
	}
	if order.LimitPrice <= 101 || order.LimitPrice >= 104 {
		t.Fatalf("limit %f must lie strictly inside the zone", order.LimitPrice)
	}

	waitFor(t, "capital reservation", func() bool {
		return math.Abs(ledger.Free()-600) < 1e-9
	})
	// Let the placement ack land before the deadline check.
	time.Sleep(100 * time.Millisecond)

	// Lane clock past the candidate deadline cancels the resting order.
	lane.DeliverClock(time.Now().Add(2 * time.Hour))
	waitFor(t, "cancel", func() bool {
		return len(broker.cancelled()) == 1
	})
	waitFor(t, "reservation released", func() bool {
		return math.Abs(ledger.Free()-1000) < 1e-9
	})
}

func TestInsufficientCapitalDropsCandidate(t *testing.T) {
	broker := &fakeBroker{}
	ledger := risk.NewLedger(1000)
	cfg := testSymbolConfig("B")
	// Minimum notional above anything this equity can reach.
	lane := NewLane(cfg, ledger, 1e9, broker, nil, nil, nopMetrics{}, testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go lane.Run(ctx)

	for _, c := range chochSequence() {
		lane.DeliverCandle(c)
	}
	waitFor(t, "zone creation", func() bool {
		return lane.Stats().ZonesCreated >= 1
	})
	time.Sleep(50 * time.Millisecond)
	if len(broker.placed()) != 0 {
		t.Fatalf("no order expected when capital is insufficient")
	}
	if math.Abs(ledger.Free()-1000) > 1e-9 {
		t.Fatalf("no capital may be reserved for a dropped candidate")
	}
}

func TestBadCandleDoesNotPoisonLane(t *testing.T) {
	broker := &fakeBroker{}
	lane, _, _ := startLane(t, "A", broker)

	seq := chochSequence()
	lane.DeliverCandle(seq[0])
	// High below low: rejected, lane continues.
	lane.DeliverCandle(&models.Candle{
		Symbol: "BTCUSD", Open: 100, High: 90, Low: 99, Close: 100,
		Volume: 1, StartTime: seq[0].StartTime.Add(30 * time.Second), Closed: true,
	})
	for _, c := range seq[1:] {
		lane.DeliverCandle(c)
	}

	waitFor(t, "lane still processing", func() bool {
		return lane.Stats().CandlesSeen == len(seq)
	})
	if lane.Failed() {
		t.Fatalf("a malformed candle must not kill the lane")
	}
}

func TestEntryMetricsUseNamedLabels(t *testing.T) {
	broker := &fakeBroker{}
	capture := &captureMetrics{}
	lane := NewLane(testSymbolConfig("A"), risk.NewLedger(1000), 10, broker, nil, nil, capture, testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go lane.Run(ctx)

	for _, c := range chochSequence() {
		lane.DeliverCandle(c)
	}
	waitFor(t, "market entry order", func() bool {
		return len(broker.placed()) == 1
	})
	order := broker.placed()[0]
	lane.DeliverFill(&models.FillEvent{
		OrderID: "o1", Symbol: "BTCUSD", Kind: models.FillConfirmed,
		Price: 109, Size: order.Size, Timestamp: time.Now(),
	})

	waitFor(t, "entry metric", func() bool {
		return len(capture.recordedEntries()) == 1
	})
	if got := capture.recordedEntries()[0]; got != [3]string{"BTCUSD", "A", "fresh"} {
		t.Fatalf("unexpected entry labels %v", got)
	}

	// One processing-latency sample per candle, under the candle
	// operation name.
	ops := capture.recordedLatencies()
	if len(ops) < 6 {
		t.Fatalf("expected a latency sample per candle, got %d", len(ops))
	}
	for _, op := range ops {
		if op != "candle" {
			t.Fatalf("unexpected latency operation %q", op)
		}
	}
}

func TestStatsSafeUnderConcurrentDelivery(t *testing.T) {
	broker := &fakeBroker{}
	lane := NewLane(testSymbolConfig("A"), risk.NewLedger(1000), 10, broker, nil, nil, nopMetrics{}, testLogger(t))

	// The lane is never started, so the inbox fills and producers take
	// the overflow path while another goroutine reads the counters.
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 400; i++ {
				lane.DeliverTick(&models.Tick{Symbol: "BTCUSD", Price: 100, Volume: 1, Timestamp: time.Now()})
			}
		}()
	}
	readsDone := make(chan struct{})
	go func() {
		defer close(readsDone)
		for i := 0; i < 1000; i++ {
			_ = lane.Stats()
		}
	}()
	wg.Wait()
	<-readsDone

	if lane.Stats().DroppedEvents == 0 {
		t.Fatalf("expected overflow drops with a stalled lane")
	}
}

func TestSnapshotRoundTripRestoresZones(t *testing.T) {
	broker := &fakeBroker{}
	lane, _, _ := startLane(t, "A", broker)

	for _, c := range chochSequence() {
		lane.DeliverCandle(c)
	}
	waitFor(t, "candles processed", func() bool { return lane.Stats().CandlesSeen == 6 })

	ctx := context.Background()
	snap, err := lane.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Zones) == 0 {
		t.Fatalf("expected a live zone in the snapshot")
	}

	restored := NewLane(testSymbolConfig("A"), risk.NewLedger(1000), 10, broker, nil, nil, nopMetrics{}, testLogger(t))
	restored.Restore(snap)
	rctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go restored.Run(rctx)

	snap2, err := restored.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot after restore: %v", err)
	}
	if len(snap2.Zones) != len(snap.Zones) {
		t.Fatalf("zones did not survive the round trip: %d != %d", len(snap2.Zones), len(snap.Zones))
	}
	for i := range snap.Zones {
		if snap2.Zones[i].ID != snap.Zones[i].ID {
			t.Fatalf("zone id changed across restore: %v != %v", snap2.Zones[i].ID, snap.Zones[i].ID)
		}
		if snap2.Zones[i].High != snap.Zones[i].High || snap2.Zones[i].Low != snap.Zones[i].Low {
			t.Fatalf("zone bounds changed across restore")
		}
	}
}
