package delta

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"OBFlow/internal/domain/models"
	drepo "OBFlow/internal/domain/repository"
	"OBFlow/pkg/logger"

	"github.com/gorilla/websocket"
)

// Stream implements a MarketStream backed by the Delta Exchange
// WebSocket feed: mark-price ticks, closed candlesticks and private
// order updates.
type Stream struct {
	wsURL          string
	apiKey         string
	apiSecret      string
	symbols        []string
	timeframes     map[string]int // symbol -> candle resolution in minutes
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	ticks   chan *models.Tick
	candles chan *models.Candle
	fills   chan *models.FillEvent
	errs    chan error
	readMu  sync.Mutex
	started bool
}

// NewStream creates a Delta MarketStream. timeframes maps each symbol to
// its candlestick channel resolution in minutes.
func NewStream(wsURL, apiKey, apiSecret string, timeframes map[string]int, reconnectDelay, pingInterval time.Duration, log *logger.Logger) drepo.MarketStream {
	symbols := make([]string, 0, len(timeframes))
	for sym := range timeframes {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return &Stream{
		wsURL:          wsURL,
		apiKey:         apiKey,
		apiSecret:      apiSecret,
		symbols:        symbols,
		timeframes:     timeframes,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
		ticks:          make(chan *models.Tick, 1024),
		candles:        make(chan *models.Candle, 256),
		fills:          make(chan *models.FillEvent, 256),
		errs:           make(chan error, 1),
	}
}

// Connect establishes the WebSocket connection and authenticates for
// the private order channel.
func (s *Stream) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("delta connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	if s.apiKey != "" {
		sig, ts := Sign(s.apiSecret, "GET", "/live", "", "")
		auth := map[string]interface{}{
			"type": "auth",
			"payload": map[string]string{
				"api-key":   s.apiKey,
				"signature": sig,
				"timestamp": ts,
			},
		}
		if err := s.writeJSON(auth); err != nil {
			return fmt.Errorf("delta auth: %w", err)
		}
	}
	s.log.Info("delta stream connected", logger.String("url", s.wsURL))
	return nil
}

type subscribePayload struct {
	Type    string `json:"type"`
	Payload struct {
		Channels []channelSub `json:"channels"`
	} `json:"payload"`
}

type channelSub struct {
	Name    string   `json:"name"`
	Symbols []string `json:"symbols,omitempty"`
}

// Subscribe attaches the mark-price, candlestick and order channels.
func (s *Stream) Subscribe(ctx context.Context) error {
	if !s.IsConnected() {
		return fmt.Errorf("delta not connected")
	}
	msg := subscribePayload{Type: "subscribe"}
	msg.Payload.Channels = []channelSub{
		{Name: "mark_price", Symbols: markSymbols(s.symbols)},
	}
	// One candlestick channel per distinct resolution.
	byTF := make(map[int][]string)
	for _, sym := range s.symbols {
		tf := s.timeframes[sym]
		byTF[tf] = append(byTF[tf], sym)
	}
	tfs := make([]int, 0, len(byTF))
	for tf := range byTF {
		tfs = append(tfs, tf)
	}
	sort.Ints(tfs)
	for _, tf := range tfs {
		msg.Payload.Channels = append(msg.Payload.Channels, channelSub{
			Name:    fmt.Sprintf("candlestick_%dm", tf),
			Symbols: byTF[tf],
		})
	}
	if s.apiKey != "" {
		msg.Payload.Channels = append(msg.Payload.Channels, channelSub{Name: "orders", Symbols: s.symbols})
	}
	if err := s.writeJSON(msg); err != nil {
		return fmt.Errorf("delta subscribe: %w", err)
	}
	s.log.Info("delta subscribed", logger.Strings("symbols", s.symbols))
	return nil
}

func markSymbols(symbols []string) []string {
	out := make([]string, len(symbols))
	for i, sym := range symbols {
		out[i] = "MARK:" + sym
	}
	return out
}

// Ticks starts the read pump on first call and returns the tick and
// error channels. Candles and Fills share the same pump.
func (s *Stream) Ticks(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	s.readMu.Lock()
	if !s.started {
		s.started = true
		go s.pingLoop(ctx)
		go s.readLoop(ctx)
	}
	s.readMu.Unlock()
	return s.ticks, s.errs
}

func (s *Stream) Candles(ctx context.Context) <-chan *models.Candle { return s.candles }

func (s *Stream) Fills(ctx context.Context) <-chan *models.FillEvent { return s.fills }

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn != nil {
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}
}

type wsFrame struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`

	// mark_price
	Price     json.Number `json:"price"`
	MarkPrice json.Number `json:"mark_price"`

	// candlestick_*
	Open            json.Number `json:"open"`
	High            json.Number `json:"high"`
	Low             json.Number `json:"low"`
	CloseP          json.Number `json:"close"`
	Volume          json.Number `json:"volume"`
	CandleStartTime int64       `json:"candle_start_time"`
	Resolution      string      `json:"resolution"`

	// orders
	OrderID     json.Number `json:"order_id"`
	State       string      `json:"state"`
	AvgPrice    json.Number `json:"average_fill_price"`
	Size        json.Number `json:"size"`
	Reason      string      `json:"reason"`
	TimestampUs int64       `json:"timestamp"`
}

func (s *Stream) readLoop(ctx context.Context) {
	defer close(s.ticks)
	defer close(s.candles)
	defer close(s.fills)
	defer close(s.errs)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			s.errs <- fmt.Errorf("delta conn nil")
			return
		}
		_, b, err := conn.ReadMessage()
		if err != nil {
			select {
			case s.errs <- fmt.Errorf("delta read: %w", err):
			default:
			}
			// Reconnect swaps the connection; keep pumping.
			time.Sleep(s.reconnectDelay)
			continue
		}
		s.dispatch(b)
	}
}

func (s *Stream) dispatch(b []byte) {
	var f wsFrame
	if err := json.Unmarshal(b, &f); err != nil {
		// Non-JSON frames (heartbeats) are ignored.
		return
	}
	switch {
	case f.Type == "mark_price" || f.Type == "v2/ticker":
		s.emitTick(&f)
	case len(f.Type) > len("candlestick_") && f.Type[:len("candlestick_")] == "candlestick_":
		s.emitCandle(&f)
	case f.Type == "orders":
		s.emitFill(&f)
	}
}

func (s *Stream) emitTick(f *wsFrame) {
	price := num(f.MarkPrice)
	if price == 0 {
		price = num(f.Price)
	}
	if price == 0 {
		return
	}
	sym := f.Symbol
	if len(sym) > 5 && sym[:5] == "MARK:" {
		sym = sym[5:]
	}
	t := &models.Tick{
		Symbol:    sym,
		Price:     price,
		Timestamp: usToTime(f.TimestampUs),
	}
	select {
	case s.ticks <- t:
	default:
		// Drop on backpressure; ticks are observations, not state.
	}
}

func (s *Stream) emitCandle(f *wsFrame) {
	c := &models.Candle{
		Symbol:    f.Symbol,
		Open:      num(f.Open),
		High:      num(f.High),
		Low:       num(f.Low),
		Close:     num(f.CloseP),
		Volume:    num(f.Volume),
		StartTime: usToTime(f.CandleStartTime),
		Closed:    true,
	}
	select {
	case s.candles <- c:
	default:
		s.log.Warn("candle dropped on backpressure", logger.String("symbol", f.Symbol))
	}
}

func (s *Stream) emitFill(f *wsFrame) {
	var kind models.FillEventKind
	switch f.State {
	case "filled", "closed":
		kind = models.FillConfirmed
	case "cancelled":
		kind = models.FillCancelled
	case "rejected":
		kind = models.FillRejected
	default:
		// open/pending updates carry no terminal information.
		return
	}
	fe := &models.FillEvent{
		OrderID:   f.OrderID.String(),
		Symbol:    f.Symbol,
		Kind:      kind,
		Price:     num(f.AvgPrice),
		Size:      num(f.Size),
		Reason:    f.Reason,
		Timestamp: usToTime(f.TimestampUs),
	}
	select {
	case s.fills <- fe:
	default:
		s.log.Error("fill dropped on backpressure",
			logger.String("symbol", f.Symbol),
			logger.String("order_id", fe.OrderID))
	}
}

// Reconnect tears the connection down and dials again after the
// configured delay.
func (s *Stream) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.connected = false
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.reconnectDelay):
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}
	return s.Subscribe(ctx)
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Stream) writeJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("delta conn nil")
	}
	return s.conn.WriteJSON(v)
}

func num(n json.Number) float64 {
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0
	}
	return f
}

func usToTime(us int64) time.Time {
	if us == 0 {
		return time.Now().UTC()
	}
	return time.UnixMicro(us).UTC()
}
