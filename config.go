package beacon

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/beaconkit/beacon-go/internal/transport"
)

// Secret is a string type that masks its value when printed or logged.
// Use Value() to get the actual string value. The type lives with the
// sender that puts the key on the wire; the alias keeps it usable here.
type Secret = transport.Secret

// Sentinel errors for client configuration.
var (
	// ErrMissingBaseURL is returned when no collector base URL is set.
	ErrMissingBaseURL = errors.New("base URL is required")

	// ErrMissingAPIKey is returned when no API key is set.
	ErrMissingAPIKey = errors.New("API key is required")
)

// Config holds every tunable of the pipeline. The zero value is not
// usable; start from DefaultConfig or LoadConfig.
type Config struct {
	// BaseURL is the collector endpoint root; events go to
	// POST {BaseURL}/api/events.
	BaseURL string `env:"BEACON_BASE_URL"`
	// APIKey is sent as the X-API-Key header.
	APIKey Secret `env:"BEACON_API_KEY"`
	// StoragePath is the SQLite database file. Empty selects a per-user
	// default under the OS config directory.
	StoragePath string `env:"BEACON_STORAGE_PATH"`
	// Debug enables debug-level logging.
	Debug bool `env:"BEACON_DEBUG" envDefault:"false"`

	// MaxQueueSize is the queued-event count that triggers an automatic
	// flush. Not a cap: enqueue never rejects events.
	MaxQueueSize int `env:"BEACON_MAX_QUEUE_SIZE" envDefault:"100"`
	// MaxStoredEvents is the durable retention hard cap; the oldest
	// events past it are evicted.
	MaxStoredEvents int `env:"BEACON_MAX_STORED_EVENTS" envDefault:"10000"`
	// FlushInterval is the periodic flush cadence.
	FlushInterval time.Duration `env:"BEACON_FLUSH_INTERVAL" envDefault:"10s"`
	// SessionTimeout is the inactivity window after which a session
	// renews.
	SessionTimeout time.Duration `env:"BEACON_SESSION_TIMEOUT" envDefault:"30m"`

	// MaxRetries is the per-batch delivery attempt budget.
	MaxRetries int `env:"BEACON_MAX_RETRIES" envDefault:"3"`
	// BackoffInitial, BackoffMax and BackoffMultiplier shape the delay
	// between retryable attempts:
	// min(BackoffInitial * BackoffMultiplier^attempt, BackoffMax).
	BackoffInitial    time.Duration `env:"BEACON_BACKOFF_INITIAL" envDefault:"1s"`
	BackoffMax        time.Duration `env:"BEACON_BACKOFF_MAX" envDefault:"32s"`
	BackoffMultiplier float64       `env:"BEACON_BACKOFF_MULTIPLIER" envDefault:"2"`

	// MaxEventBytes is the single-event serialized size ceiling; larger
	// events are dropped at Track.
	MaxEventBytes int `env:"BEACON_MAX_EVENT_BYTES" envDefault:"32768"`
	// MaxBatchBytes and MaxBatchEvents bound one network request.
	MaxBatchBytes  int `env:"BEACON_MAX_BATCH_BYTES" envDefault:"512000"`
	MaxBatchEvents int `env:"BEACON_MAX_BATCH_EVENTS" envDefault:"100"`
}

// DefaultConfig returns a Config with the fixed pipeline defaults.
func DefaultConfig(baseURL string, apiKey Secret) Config {
	return Config{
		BaseURL:           baseURL,
		APIKey:            apiKey,
		MaxQueueSize:      100,
		MaxStoredEvents:   10000,
		FlushInterval:     10 * time.Second,
		SessionTimeout:    30 * time.Minute,
		MaxRetries:        3,
		BackoffInitial:    1 * time.Second,
		BackoffMax:        32 * time.Second,
		BackoffMultiplier: 2,
		MaxEventBytes:     32 * 1024,
		MaxBatchBytes:     500 * 1024,
		MaxBatchEvents:    100,
	}
}

// LoadConfig builds a Config from BEACON_* environment variables, reading
// a .env file first when present. Out-of-range values fall back to
// defaults.
func LoadConfig() (Config, error) {
	// The .env file might not exist and that's ok.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg.normalize(), nil
}

// normalize replaces out-of-range values with defaults.
func (c Config) normalize() Config {
	defaults := DefaultConfig(c.BaseURL, c.APIKey)

	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = defaults.MaxQueueSize
	}
	if c.MaxStoredEvents <= 0 {
		c.MaxStoredEvents = defaults.MaxStoredEvents
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaults.FlushInterval
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = defaults.SessionTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = defaults.BackoffInitial
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = defaults.BackoffMax
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if c.MaxEventBytes <= 0 {
		c.MaxEventBytes = defaults.MaxEventBytes
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = defaults.MaxBatchBytes
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaults.MaxBatchEvents
	}

	return c
}

// validate checks the fields that have no usable default.
func (c Config) validate() error {
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	if c.APIKey.IsEmpty() {
		return ErrMissingAPIKey
	}
	return nil
}
