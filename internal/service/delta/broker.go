package delta

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"OBFlow/internal/domain/models"
	drepo "OBFlow/internal/domain/repository"
	"OBFlow/internal/service/ratelimit"
	pkgcache "OBFlow/pkg/cache"
	phttp "OBFlow/pkg/http"
	"OBFlow/pkg/logger"
)

// Delta allows 10 requests per second per key on the trading endpoints.
const (
	apiRateKey      = "delta_rest"
	apiRateCapacity = 10
	apiRateRefill   = 10
)

// Sign produces the request signature Delta expects: hex HMAC-SHA256 of
// method + timestamp + path + queryString + payload.
func Sign(secret, method, path, query, payload string) (signature, timestamp string) {
	timestamp = strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method + timestamp + path + query + payload))
	return hex.EncodeToString(mac.Sum(nil)), timestamp
}

// Broker places and cancels orders over the Delta REST API.
type Broker struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *phttp.Client
	limiter   *ratelimit.Limiter
	specs     pkgcache.Service
	log       *logger.Logger

	mu sync.Mutex // single-flight for the product list fetch
}

type productSpec struct {
	ID       int64   `json:"id"`
	TickSize float64 `json:"tick_size"`
}

// NewBroker creates a Delta REST broker client. Product metadata is kept
// in the given cache so repeated lookups and restarted processes avoid
// refetching the full product list.
func NewBroker(baseURL, apiKey, apiSecret string, client *phttp.Client, specs pkgcache.Service, log *logger.Logger) *Broker {
	return &Broker{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    client,
		limiter:   ratelimit.New(),
		specs:     specs,
		log:       log,
	}
}

var _ drepo.Broker = (*Broker)(nil)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

type orderResult struct {
	ID    int64  `json:"id"`
	State string `json:"state"`
}

type product struct {
	ID       int64       `json:"id"`
	Symbol   string      `json:"symbol"`
	TickSize json.Number `json:"tick_size"`
}

// request signs and sends one API call, decoding the success envelope.
func (b *Broker) request(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	payload := ""
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		payload = string(raw)
	}
	if err := b.limiter.Wait(ctx, apiRateKey, apiRateCapacity, apiRateRefill); err != nil {
		return err
	}
	sig, ts := Sign(b.apiSecret, method, path, "", payload)

	// Send the exact bytes that were signed.
	var reqBody interface{}
	if payload != "" {
		reqBody = payload
	}

	var env apiEnvelope
	err := b.client.SendAndParse(ctx, &phttp.RequestOptions{
		Method: method,
		URL:    b.baseURL + path,
		Headers: map[string]string{
			"api-key":      b.apiKey,
			"signature":    sig,
			"timestamp":    ts,
			"Content-Type": "application/json",
			"User-Agent":   "obflow/1.0",
		},
		Body: reqBody,
	}, &env)
	if err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("delta api error: %s", string(env.Error))
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// Products rarely change; a day-long TTL keeps tick sizes fresh enough.
const productTTL = 24 * time.Hour

func productKey(symbol string) string {
	return pkgcache.GenerateKey("delta:product", symbol)
}

// productFor resolves the numeric product id and tick size for a symbol,
// fetching and caching the full product list on a miss.
func (b *Broker) productFor(ctx context.Context, symbol string) (productSpec, error) {
	var spec productSpec
	if err := b.specs.Get(ctx, productKey(symbol), &spec); err == nil {
		return spec, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// Another caller may have filled the cache while we waited.
	if err := b.specs.Get(ctx, productKey(symbol), &spec); err == nil {
		return spec, nil
	}

	var list []product
	if err := b.request(ctx, phttp.MethodGet, "/v2/products", nil, &list); err != nil {
		return productSpec{}, fmt.Errorf("load products: %w", err)
	}

	found := false
	for _, p := range list {
		tick, _ := p.TickSize.Float64()
		ps := productSpec{ID: p.ID, TickSize: tick}
		if err := b.specs.Set(ctx, productKey(p.Symbol), ps, productTTL); err != nil && b.log != nil {
			b.log.Warn("product cache set failed", logger.String("symbol", p.Symbol), logger.Error(err))
		}
		if p.Symbol == symbol {
			spec, found = ps, true
		}
	}
	if !found {
		return productSpec{}, fmt.Errorf("unknown product %q", symbol)
	}
	return spec, nil
}

type orderPayload struct {
	ProductID   int64  `json:"product_id"`
	Size        int64  `json:"size"`
	Side        string `json:"side"`
	OrderType   string `json:"order_type"`
	LimitPrice  string `json:"limit_price,omitempty"`
	TimeInForce string `json:"time_in_force,omitempty"`
	ReduceOnly  bool   `json:"reduce_only"`
}

func (b *Broker) PlaceMarketOrder(ctx context.Context, intent models.OrderIntent) (models.OrderAck, error) {
	spec, err := b.productFor(ctx, intent.Symbol)
	if err != nil {
		return models.OrderAck{}, err
	}
	return b.placeOrder(ctx, orderPayload{
		ProductID:  spec.ID,
		Size:       contracts(intent.Size),
		Side:       string(intent.Side),
		OrderType:  "market_order",
		ReduceOnly: intent.ReduceOnly,
	})
}

func (b *Broker) PlaceLimitOrder(ctx context.Context, intent models.OrderIntent) (models.OrderAck, error) {
	spec, err := b.productFor(ctx, intent.Symbol)
	if err != nil {
		return models.OrderAck{}, err
	}
	price := roundToTick(intent.LimitPrice, spec.TickSize)
	return b.placeOrder(ctx, orderPayload{
		ProductID:   spec.ID,
		Size:        contracts(intent.Size),
		Side:        string(intent.Side),
		OrderType:   "limit_order",
		LimitPrice:  strconv.FormatFloat(price, 'f', -1, 64),
		TimeInForce: "gtc",
		ReduceOnly:  intent.ReduceOnly,
	})
}

func (b *Broker) placeOrder(ctx context.Context, p orderPayload) (models.OrderAck, error) {
	var res orderResult
	if err := b.request(ctx, phttp.MethodPost, "/v2/orders", p, &res); err != nil {
		// API-level rejections become unaccepted acks, not transport
		// errors; the caller decides whether to retry.
		return models.OrderAck{Accepted: false, Reason: err.Error()}, nil
	}
	b.log.Info("order placed",
		logger.Int64("order_id", res.ID),
		logger.String("side", p.Side),
		logger.String("type", p.OrderType),
		logger.Int64("size", p.Size))
	return models.OrderAck{OrderID: strconv.FormatInt(res.ID, 10), Accepted: true}, nil
}

func (b *Broker) CancelOrder(ctx context.Context, symbol, orderID string) error {
	spec, err := b.productFor(ctx, symbol)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad order id %q: %w", orderID, err)
	}
	body := map[string]interface{}{"id": id, "product_id": spec.ID}
	if err := b.request(ctx, phttp.MethodDelete, "/v2/orders", body, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	b.log.Info("order cancelled", logger.String("order_id", orderID))
	return nil
}

// contracts converts a fractional size to whole contracts, floor, never
// below one.
func contracts(size float64) int64 {
	n := int64(math.Floor(size))
	if n < 1 {
		n = 1
	}
	return n
}

func roundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}
