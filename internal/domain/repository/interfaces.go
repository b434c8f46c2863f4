package repository

import (
	"context"
	"time"

	"OBFlow/internal/domain/models"
)

// MarketStream supplies live ticks, closed candles and asynchronous order
// confirmations. Implementations never assume synchronous delivery.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Ticks(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Candles(ctx context.Context) <-chan *models.Candle
	Fills(ctx context.Context) <-chan *models.FillEvent
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Broker places and cancels orders. Placement acks are synchronous;
// fills and cancellations arrive asynchronously on the MarketStream.
type Broker interface {
	PlaceMarketOrder(ctx context.Context, intent models.OrderIntent) (models.OrderAck, error)
	PlaceLimitOrder(ctx context.Context, intent models.OrderIntent) (models.OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// Notifier receives fire-and-forget engine events.
type Notifier interface {
	Notify(ctx context.Context, ev models.EngineEvent)
	Close() error
}

// CandleArchive persists closed candles and finished trades and serves
// historical backfill on startup.
type CandleArchive interface {
	StoreCandle(ctx context.Context, c *models.Candle) error
	StoreTrade(ctx context.Context, cp *models.ClosedPosition) error
	LoadCandles(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Candle, error)
	Health(ctx context.Context) error
	Close() error
}

// StateStore snapshots per-symbol engine state so a restart resumes
// without replaying the full history.
type StateStore interface {
	SaveSnapshot(ctx context.Context, symbol string, snap *LaneSnapshot) error
	LoadSnapshot(ctx context.Context, symbol string) (*LaneSnapshot, error)
	Close() error
}

// LaneSnapshot is the persisted view of one symbol lane.
type LaneSnapshot struct {
	Symbol    string              `json:"symbol"`
	Trend     models.Direction    `json:"trend"`
	Zones     []models.OrderBlock `json:"zones"`
	Positions []models.Position   `json:"positions"`
	Bar       int                 `json:"bar"`
	Equity    float64             `json:"equity"`
	SavedAt   time.Time           `json:"saved_at"`
}

// Metrics is the domain-facing metrics recorder.
type Metrics interface {
	RecordStructureEvent(symbol, kind string)
	RecordZoneTransition(symbol, status string)
	RecordEntry(symbol, mode, zoneKind string)
	RecordExit(symbol, outcome string)
	RecordLastPrice(symbol string, price float64)
	RecordEquity(equity float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
