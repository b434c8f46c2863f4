package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"OBFlow/internal/domain/repository"
	"OBFlow/internal/handler/api"
	internalrepo "OBFlow/internal/repository"
	"OBFlow/internal/service/delta"
	"OBFlow/internal/usecase"
	pkgcache "OBFlow/pkg/cache"
	pkgch "OBFlow/pkg/clickhouse"
	"OBFlow/pkg/config"
	xhttp "OBFlow/pkg/http"
	pkgkafka "OBFlow/pkg/kafka"
	applogger "OBFlow/pkg/logger"
	"OBFlow/pkg/metrics"
	"OBFlow/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRedisCache creates a Redis cache client, or nil when Redis is
// disabled in config.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	host, portStr, err := net.SplitHostPort(cfg.Redis.Addr)
	if err != nil {
		return nil, fmt.Errorf("redis addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("redis port: %w", err)
	}
	return pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(host),
		pkgcache.WithRedisPort(port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPrefix("obflow"),
	)
}

// ProvideStateStore creates the lane snapshot store. Without Redis every
// start is a cold start.
func ProvideStateStore(rc *pkgcache.RedisCache) repository.StateStore {
	if rc == nil {
		return internalrepo.NopStateStore{}
	}
	return internalrepo.NewRedisStateStore(rc)
}

// ProvideSpecCache creates the broker product-metadata cache: layered
// over Redis when available so restarts skip the product list fetch,
// in-memory otherwise.
func ProvideSpecCache(rc *pkgcache.RedisCache) pkgcache.Service {
	if rc == nil {
		return pkgcache.NewMemoryCache()
	}
	return pkgcache.NewLayeredCache(rc)
}

// ProvideArchive creates the ClickHouse candle and trade archive and
// initializes its schema.
func ProvideArchive(cfg *config.Config, l *applogger.Logger) (repository.CandleArchive, error) {
	if !cfg.ClickHouse.Enabled {
		return internalrepo.NopArchive{}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	archive := internalrepo.NewCHArchive(client, l)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := archive.Init(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return archive, nil
}

// ProvideNotifier creates the Kafka event notifier. Events are
// fire-and-forget so the producer writes async.
func ProvideNotifier(cfg *config.Config, l *applogger.Logger) (repository.Notifier, error) {
	if !cfg.Kafka.Enabled {
		return internalrepo.NopNotifier{}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return internalrepo.NewKafkaNotifier(producer, cfg.Kafka.Topic, l), nil
}

// ProvideStream creates the Delta WebSocket market stream.
func ProvideStream(cfg *config.Config, l *applogger.Logger) repository.MarketStream {
	timeframes := make(map[string]int, len(cfg.Symbols))
	for _, sc := range cfg.Symbols {
		timeframes[sc.Name] = sc.TimeframeMinutes
	}
	return delta.NewStream(
		cfg.Delta.WebSocketURL,
		cfg.Delta.APIKey,
		cfg.Delta.APISecret,
		timeframes,
		cfg.Delta.ReconnectDelay,
		cfg.Delta.PingInterval,
		l,
	)
}

// ProvideBroker creates the Delta REST broker.
func ProvideBroker(cfg *config.Config, specs pkgcache.Service, l *applogger.Logger) repository.Broker {
	client := xhttp.NewClient(xhttp.WithTimeout(10 * time.Second))
	return delta.NewBroker(cfg.Delta.BaseURL, cfg.Delta.APIKey, cfg.Delta.APISecret, client, specs, l)
}

// ProvideEngine creates the trading engine with one lane per symbol.
func ProvideEngine(
	cfg *config.Config,
	stream repository.MarketStream,
	broker repository.Broker,
	notifier repository.Notifier,
	archive repository.CandleArchive,
	states repository.StateStore,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Engine {
	return usecase.NewEngine(cfg, stream, broker, notifier, archive, states, m, l)
}

// ProvideHTTPHandler creates the operational HTTP surface.
func ProvideHTTPHandler(cfg *config.Config, l *applogger.Logger, engine *usecase.Engine, archive repository.CandleArchive) xhttp.Handler {
	return api.NewStatusHandler(cfg, l, engine, archive)
}

// ProvideApp creates the application server.
func ProvideApp(cfg *config.Config, engine *usecase.Engine, handler xhttp.Handler, l *applogger.Logger) *server.App {
	return server.New(cfg, engine, handler, l)
}
