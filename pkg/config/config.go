package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// SymbolConfig holds per-symbol detection and execution parameters.
// One processing lane is started per entry.
type SymbolConfig struct {
	Name                 string        `yaml:"name" validate:"required"`
	TimeframeMinutes     int           `yaml:"timeframe_minutes" default:"15" validate:"gt=0"`
	Mode                 string        `yaml:"mode" default:"A" validate:"oneof=A B"`
	SwingConfirmationBars int          `yaml:"swing_confirmation_bars" default:"5" validate:"gt=0"`
	MaxZoneAgeCandles    int           `yaml:"max_zone_age_candles" default:"120" validate:"gt=0"`
	PenetrationRatio     float64       `yaml:"penetration_ratio" default:"0.2" validate:"gt=0,lt=1"`
	ModeBTimeout         time.Duration `yaml:"mode_b_timeout" default:"4h"`
	FreshAllocationPct   float64       `yaml:"fresh_allocation_pct" default:"0.4" validate:"gt=0,lte=1"`
	FreshLeverage        float64       `yaml:"fresh_leverage" default:"20" validate:"gt=0"`
	BreakerAllocationPct float64       `yaml:"breaker_allocation_pct" default:"0.3" validate:"gt=0,lte=1"`
	BreakerLeverage      float64       `yaml:"breaker_leverage" default:"10" validate:"gt=0"`
	TargetRR             float64       `yaml:"target_rr" default:"2.0" validate:"gt=0"`
	TrailingTriggerPct   float64       `yaml:"trailing_trigger_pct" default:"0.01" validate:"gte=0"`
	ZoneSource           string        `yaml:"zone_source" default:"wick" validate:"oneof=wick body"`
	BufferSize           int           `yaml:"buffer_size" default:"300" validate:"gt=20"`
	BackfillCandles      int           `yaml:"backfill_candles" default:"0" validate:"gte=0"`
}

type Config struct {
	Environment string `yaml:"environment" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Delta struct {
		APIKey         string        `yaml:"api_key"`
		APISecret      string        `yaml:"api_secret"`
		BaseURL        string        `yaml:"base_url" validate:"required"`
		WebSocketURL   string        `yaml:"websocket_url" validate:"required"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"delta"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"obflow.events"`
		RequiredAcks int      `yaml:"required_acks" default:"1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"500ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async" default:"true"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"obflow"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled          bool          `yaml:"enabled"`
		Addr             string        `yaml:"addr" default:"localhost:6379"`
		Password         string        `yaml:"password"`
		DB               int           `yaml:"db"`
		SnapshotInterval time.Duration `yaml:"snapshot_interval" default:"1m"`
	} `yaml:"redis"`
	Account struct {
		Equity      float64 `yaml:"equity" validate:"gt=0"`
		MinNotional float64 `yaml:"min_notional" default:"10"`
	} `yaml:"account"`
	Symbols []SymbolConfig `yaml:"symbols" validate:"required,min=1,dive"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DELTA_API_KEY"); v != "" {
		c.Delta.APIKey = v
	}
	if v := os.Getenv("DELTA_API_SECRET"); v != "" {
		c.Delta.APISecret = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required when kafka is enabled")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host required when clickhouse is enabled")
	}
	seen := map[string]bool{}
	for _, s := range c.Symbols {
		if seen[s.Name] {
			return fmt.Errorf("duplicate symbol: %s", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}
