package delta

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"testing"

	"OBFlow/internal/domain/models"
	"OBFlow/pkg/logger"
)

func TestSignMatchesReference(t *testing.T) {
	sig, ts := Sign("secret", "POST", "/v2/orders", "", `{"size":1}`)
	if ts == "" {
		t.Fatalf("timestamp must be set")
	}
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("POST" + ts + "/v2/orders" + `{"size":1}`))
	if want := hex.EncodeToString(mac.Sum(nil)); sig != want {
		t.Fatalf("signature mismatch: got %s want %s", sig, want)
	}
}

func TestRoundToTick(t *testing.T) {
	if got := roundToTick(150.507, 0.01); math.Abs(got-150.51) > 1e-9 {
		t.Fatalf("expected 150.51, got %f", got)
	}
	if got := roundToTick(150.507, 0); got != 150.507 {
		t.Fatalf("zero tick must pass through, got %f", got)
	}
}

func TestContracts(t *testing.T) {
	if got := contracts(76.9); got != 76 {
		t.Fatalf("expected 76 contracts, got %d", got)
	}
	if got := contracts(0.3); got != 1 {
		t.Fatalf("size must floor at one contract, got %d", got)
	}
}

func testStream(t *testing.T) *Stream {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	s := NewStream("wss://example", "", "", map[string]int{"BTCUSD": 15}, 0, 0, log)
	return s.(*Stream)
}

func TestDispatchMarkPrice(t *testing.T) {
	s := testStream(t)
	s.dispatch([]byte(`{"type":"mark_price","symbol":"MARK:BTCUSD","price":"65000.5","timestamp":1717243800000000}`))

	select {
	case tick := <-s.ticks:
		if tick.Symbol != "BTCUSD" {
			t.Fatalf("mark prefix must be stripped, got %q", tick.Symbol)
		}
		if tick.Price != 65000.5 {
			t.Fatalf("expected price 65000.5, got %f", tick.Price)
		}
	default:
		t.Fatalf("expected a tick")
	}
}

func TestDispatchCandle(t *testing.T) {
	s := testStream(t)
	s.dispatch([]byte(`{"type":"candlestick_15m","symbol":"BTCUSD","open":"100","high":"110","low":"99","close":"108","volume":"12.5","candle_start_time":1717243800000000}`))

	select {
	case c := <-s.candles:
		if c.Open != 100 || c.High != 110 || c.Low != 99 || c.Close != 108 {
			t.Fatalf("bad OHLC: %+v", c)
		}
		if !c.Closed {
			t.Fatalf("stream candles are closed candles")
		}
	default:
		t.Fatalf("expected a candle")
	}
}

func TestDispatchOrderStates(t *testing.T) {
	s := testStream(t)

	s.dispatch([]byte(`{"type":"orders","symbol":"BTCUSD","order_id":42,"state":"open"}`))
	select {
	case f := <-s.fills:
		t.Fatalf("open state must not emit a fill: %+v", f)
	default:
	}

	s.dispatch([]byte(`{"type":"orders","symbol":"BTCUSD","order_id":42,"state":"filled","average_fill_price":"108.2","size":"76"}`))
	select {
	case f := <-s.fills:
		if f.Kind != models.FillConfirmed || f.OrderID != "42" || f.Price != 108.2 {
			t.Fatalf("bad fill: %+v", f)
		}
	default:
		t.Fatalf("expected a fill")
	}

	s.dispatch([]byte(`{"type":"orders","symbol":"BTCUSD","order_id":43,"state":"cancelled"}`))
	select {
	case f := <-s.fills:
		if f.Kind != models.FillCancelled {
			t.Fatalf("expected cancel, got %+v", f)
		}
	default:
		t.Fatalf("expected a cancel event")
	}
}

func TestDispatchIgnoresGarbage(t *testing.T) {
	s := testStream(t)
	s.dispatch([]byte("not json"))
	s.dispatch([]byte(`{"type":"heartbeat"}`))
	select {
	case tick := <-s.ticks:
		t.Fatalf("unexpected tick: %+v", tick)
	default:
	}
}
