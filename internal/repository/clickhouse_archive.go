package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"OBFlow/internal/domain/models"
	domrepo "OBFlow/internal/domain/repository"
	pkgch "OBFlow/pkg/clickhouse"
	applogger "OBFlow/pkg/logger"
)

// CHArchive implements CandleArchive backed by ClickHouse. Candles feed
// startup backfill; trades are append-only history for offline analysis.
type CHArchive struct {
	client *pkgch.Client
	db     *sql.DB
	l      *applogger.Logger
}

func NewCHArchive(client *pkgch.Client, l *applogger.Logger) *CHArchive {
	return &CHArchive{client: client, db: client.DB(), l: l}
}

var _ domrepo.CandleArchive = (*CHArchive)(nil)

// Schema statements are idempotent; ReplacingMergeTree on candles absorbs
// re-inserts after a restart replays the tail of the stream.
var archiveSchema = []string{
	`CREATE TABLE IF NOT EXISTS candles (
        symbol      LowCardinality(String),
        start_time  DateTime64(3, 'UTC'),
        open        Float64,
        high        Float64,
        low         Float64,
        close       Float64,
        volume      Float64
    ) ENGINE = ReplacingMergeTree()
    PARTITION BY toYYYYMM(start_time)
    ORDER BY (symbol, start_time)`,
	`CREATE TABLE IF NOT EXISTS trades (
        symbol       LowCardinality(String),
        zone_id      UInt64,
        zone_kind    LowCardinality(String),
        direction    LowCardinality(String),
        size         Float64,
        leverage     Float64,
        capital_used Float64,
        entry_price  Float64,
        exit_price   Float64,
        exit_cause   LowCardinality(String),
        outcome      LowCardinality(String),
        pnl          Float64,
        flagged      UInt8,
        opened_at    DateTime64(3, 'UTC'),
        closed_at    DateTime64(3, 'UTC')
    ) ENGINE = MergeTree()
    PARTITION BY toYYYYMM(closed_at)
    ORDER BY (symbol, closed_at)`,
}

// Init creates the archive tables if missing.
func (a *CHArchive) Init(ctx context.Context) error {
	return a.client.InitSchema(ctx, archiveSchema)
}

func (a *CHArchive) StoreCandle(ctx context.Context, c *models.Candle) error {
	const q = `INSERT INTO candles (symbol, start_time, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := a.db.ExecContext(ctx, q, c.Symbol, c.StartTime, c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		return fmt.Errorf("store candle: %w", err)
	}
	return nil
}

func (a *CHArchive) StoreTrade(ctx context.Context, cp *models.ClosedPosition) error {
	const q = `INSERT INTO trades
        (symbol, zone_id, zone_kind, direction, size, leverage, capital_used,
         entry_price, exit_price, exit_cause, outcome, pnl, flagged, opened_at, closed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	flagged := uint8(0)
	if cp.Flagged {
		flagged = 1
	}
	_, err := a.db.ExecContext(ctx, q,
		cp.Symbol,
		uint64(cp.ZoneID),
		cp.ZoneKind.String(),
		cp.Direction.String(),
		cp.Size,
		cp.Leverage,
		cp.CapitalUsed,
		cp.EntryPrice,
		cp.ExitPrice,
		string(cp.ExitCause),
		string(cp.Outcome),
		cp.PnL,
		flagged,
		cp.OpenedAt,
		cp.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("store trade: %w", err)
	}
	return nil
}

func (a *CHArchive) LoadCandles(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Candle, error) {
	start := time.Now()
	const q = `
        SELECT symbol, start_time, open, high, low, close, volume
        FROM candles FINAL
        WHERE symbol = ? AND start_time >= ? AND start_time <= ?
        ORDER BY start_time DESC
        LIMIT ?`
	rows, err := a.db.QueryContext(ctx, q, symbol, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("load candles: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Candle, 0, limit)
	for rows.Next() {
		c := &models.Candle{Closed: true}
		if err := rows.Scan(&c.Symbol, &c.StartTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// Query returns newest-first to honor the limit; callers want
	// chronological order for replay.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if a.l != nil {
		a.l.Debug("clickhouse load_candles",
			applogger.String("symbol", symbol),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (a *CHArchive) Health(ctx context.Context) error {
	return a.client.Health(ctx)
}

func (a *CHArchive) Close() error {
	return a.client.Close()
}

// NopArchive discards writes and serves no history. Used when ClickHouse
// is disabled; the engine then warms up from the live stream only.
type NopArchive struct{}

func (NopArchive) StoreCandle(context.Context, *models.Candle) error         { return nil }
func (NopArchive) StoreTrade(context.Context, *models.ClosedPosition) error  { return nil }
func (NopArchive) Health(context.Context) error                              { return nil }
func (NopArchive) Close() error                                              { return nil }
func (NopArchive) LoadCandles(context.Context, string, time.Time, time.Time, int) ([]*models.Candle, error) {
	return nil, nil
}
