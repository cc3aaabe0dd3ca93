package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/99minutos/tracking-sync/internal/core/domain"
)

const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

type Config struct {
	Port      string `env:"PORT,       default=8080"`
	Env       string `env:"ENV,        default=development"`
	JWTSecret string `env:"JWT_SECRET"`
	LogLevel  string `env:"LOG_LEVEL,  default=info"`
	LogPretty bool   `env:"LOG_PRETTY, default=false"`

	// StoreBackend selects the record store and locker: "mongo" (with Redis
	// locks) or "memory" for a single instance without external services.
	StoreBackend string `env:"STORE_BACKEND, default=mongo"`

	// NormalizationTable is an optional YAML file replacing the embedded
	// status tables.
	NormalizationTable string `env:"NORMALIZATION_TABLE"`

	Mongo     MongoConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Notifier  NotifierConfig
	Carriers  CarriersConfig
}

type MongoConfig struct {
	URI      string        `env:"MONGO_URI,     default=mongodb://localhost:27017"`
	Database string        `env:"MONGO_DB,      default=tracking_sync"`
	Timeout  time.Duration `env:"MONGO_TIMEOUT, default=10s"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,     default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,       default=0"`
}

type SchedulerConfig struct {
	Tick          time.Duration `env:"SCHEDULER_TICK,           default=5s"`
	MaxBackoff    time.Duration `env:"SCHEDULER_MAX_BACKOFF,    default=24h"`
	TerminalGrace time.Duration `env:"SCHEDULER_TERMINAL_GRACE, default=24h"`
	ETAThreshold  time.Duration `env:"ETA_CHANGE_THRESHOLD,     default=1h"`

	// DefaultCheckFrequency is the polling interval, in minutes, of records
	// registered without one.
	DefaultCheckFrequency int `env:"DEFAULT_CHECK_FREQUENCY, default=60"`

	// StoreUnhealthyAfter is the number of consecutive store failures after
	// which readiness reports the store down.
	StoreUnhealthyAfter int `env:"STORE_UNHEALTHY_AFTER, default=3"`
}

type NotifierConfig struct {
	Buffer         int           `env:"NOTIFIER_BUFFER,          default=256"`
	Workers        int           `env:"NOTIFIER_WORKERS,         default=2"`
	HandlerTimeout time.Duration `env:"NOTIFIER_HANDLER_TIMEOUT, default=10s"`
	Stream         string        `env:"NOTIFIER_STREAM,          default=tracking:triggers"`
	StreamMaxLen   int64         `env:"NOTIFIER_STREAM_MAXLEN,   default=100000"`
	Audit          bool          `env:"NOTIFIER_AUDIT,           default=true"`
}

// CarrierConfig is read once per carrier with its prefix, e.g.
// FEDEX_API_KEY or CANADA_POST_RATE_LIMIT.
type CarrierConfig struct {
	Endpoint      string        `env:"ENDPOINT"`
	APIKey        string        `env:"API_KEY"`
	RateLimit     int           `env:"RATE_LIMIT,     default=100"`
	Timeout       time.Duration `env:"TIMEOUT,        default=30s"`
	RetryAttempts int           `env:"RETRY_ATTEMPTS, default=3"`
	Enabled       bool          `env:"ENABLED,        default=true"`
	Workers       int           `env:"WORKERS,        default=4"`
}

type CarriersConfig struct {
	FedEx      CarrierConfig `env:", prefix=FEDEX_"`
	UPS        CarrierConfig `env:", prefix=UPS_"`
	DHL        CarrierConfig `env:", prefix=DHL_"`
	USPS       CarrierConfig `env:", prefix=USPS_"`
	CanadaPost CarrierConfig `env:", prefix=CANADA_POST_"`
	Purolator  CarrierConfig `env:", prefix=PUROLATOR_"`
}

var defaultEndpoints = map[domain.Carrier]string{
	domain.CarrierFedEx:      "https://apis.fedex.com",
	domain.CarrierUPS:        "https://onlinetools.ups.com",
	domain.CarrierDHL:        "https://api-eu.dhl.com",
	domain.CarrierUSPS:       "https://secure.shippingapis.com",
	domain.CarrierCanadaPost: "https://soa-gw.canadapost.ca",
	domain.CarrierPurolator:  "https://api.purolator.com",
}

// ByCarrier returns every carrier section keyed by carrier, with default
// endpoints filled in.
func (c CarriersConfig) ByCarrier() map[domain.Carrier]CarrierConfig {
	out := map[domain.Carrier]CarrierConfig{
		domain.CarrierFedEx:      c.FedEx,
		domain.CarrierUPS:        c.UPS,
		domain.CarrierDHL:        c.DHL,
		domain.CarrierUSPS:       c.USPS,
		domain.CarrierCanadaPost: c.CanadaPost,
		domain.CarrierPurolator:  c.Purolator,
	}
	for carrier, cc := range out {
		if cc.Endpoint == "" {
			cc.Endpoint = defaultEndpoints[carrier]
			out[carrier] = cc
		}
	}
	return out
}

// MaxTimeout is the longest per-carrier poll timeout, used to size lock TTLs.
func (c CarriersConfig) MaxTimeout() time.Duration {
	var max time.Duration
	for _, cc := range c.ByCarrier() {
		if cc.Enabled && cc.Timeout > max {
			max = cc.Timeout
		}
	}
	return max
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.StoreBackend != StoreMongo && c.StoreBackend != StoreMemory {
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreMongo, StoreMemory, c.StoreBackend))
	}
	if c.Scheduler.Tick <= 0 {
		errs = append(errs, errors.New("SCHEDULER_TICK must be positive"))
	}
	if c.Scheduler.MaxBackoff <= 0 {
		errs = append(errs, errors.New("SCHEDULER_MAX_BACKOFF must be positive"))
	}
	if c.Scheduler.DefaultCheckFrequency < 1 || c.Scheduler.DefaultCheckFrequency > 1440 {
		errs = append(errs, errors.New("DEFAULT_CHECK_FREQUENCY must be between 1 and 1440 minutes"))
	}
	for carrier, cc := range c.Carriers.ByCarrier() {
		if cc.RateLimit < 0 {
			errs = append(errs, fmt.Errorf("%s rate limit must not be negative", carrier))
		}
		if cc.Enabled && cc.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("%s timeout must be positive", carrier))
		}
	}
	return errors.Join(errs...)
}

// Load reads configuration from environment variables using go-envconfig.
func Load() *Config {
	cfg, err := LoadWith(context.Background(), envconfig.OsLookuper())
	if err != nil {
		panic(fmt.Sprintf("config: failed to load configuration: %v", err))
	}
	return cfg
}

// LoadWith reads configuration from lookuper and validates it.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
