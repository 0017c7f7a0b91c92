// Package config loads the position loader's runtime configuration from a
// YAML file, applies environment-variable overrides, and validates the
// result with struct tags (go-playground/validator), applied to process
// configuration rather than a resource manifest.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CircuitBreakerConfig tunes the sony/gobreaker wrapper in pkg/upstream.
type CircuitBreakerConfig struct {
	FailureThreshold   uint32        `yaml:"failureThreshold" validate:"required,min=1"`
	HalfOpenMaxCalls   uint32        `yaml:"halfOpenMaxCalls" validate:"required,min=1"`
	OpenStateTimeout   time.Duration `yaml:"openStateTimeout" validate:"required"`
}

// RetryConfig tunes cenkalti/backoff in pkg/upstream.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"maxAttempts" validate:"required,min=1"`
	InitialInterval time.Duration `yaml:"initialInterval" validate:"required"`
	MaxInterval     time.Duration `yaml:"maxInterval" validate:"required"`
	Multiplier      float64       `yaml:"multiplier" validate:"required,gt=1"`
}

// RateLimitConfig tunes golang.org/x/time/rate in pkg/upstream.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond" validate:"required,gt=0"`
	Burst             int     `yaml:"burst" validate:"required,min=1"`
}

// BulkheadConfig tunes golang.org/x/sync/semaphore in pkg/upstream.
type BulkheadConfig struct {
	MaxConcurrent int64 `yaml:"maxConcurrent" validate:"required,min=1"`
}

// PostgresConfig configures the pgx connection pool behind pkg/positionstore.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn" validate:"required"`
	MaxConns        int32         `yaml:"maxConns" validate:"required,min=1"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout" validate:"required"`
}

// RedisConfig configures the snapshot stale-cache in pkg/upstream/snapcache.
type RedisConfig struct {
	Addr string        `yaml:"addr" validate:"required"`
	DB   int           `yaml:"db"`
	TTL  time.Duration `yaml:"ttl" validate:"required"`
}

// BusConfig configures the AMQP connection behind pkg/bus.
type BusConfig struct {
	URL              string `yaml:"url" validate:"required"`
	PrefetchCount    int    `yaml:"prefetchCount" validate:"required,min=1"`
	DLQMaxReplayBatch int   `yaml:"dlqMaxReplayBatch" validate:"required,min=1,max=100"`
}

// SlackConfig configures the CRITICAL/PAGE alert fan-out in pkg/eventpublisher.
type SlackConfig struct {
	WebhookURL string `yaml:"webhookURL"`
	Channel    string `yaml:"channel"`
}

// RaftConfig configures the C14 leader-election group in pkg/schedule.
type RaftConfig struct {
	NodeID   string   `yaml:"nodeID" validate:"required"`
	BindAddr string   `yaml:"bindAddr" validate:"required"`
	DataDir  string   `yaml:"dataDir" validate:"required"`
	Peers    []string `yaml:"peers"`
}

// Config is the full set of process options, grouped by component.
type Config struct {
	// C5 orchestrator / C2 upstream timeout ordering, strictly enforced by
	// Validate: OrchestratorTimeout > PerAccountTimeout > upstream HTTP
	// client timeout.
	MaxConcurrency      int           `yaml:"maxConcurrency" validate:"required,min=1"`
	PerAccountTimeout   time.Duration `yaml:"perAccountTimeout" validate:"required"`
	OrchestratorTimeout time.Duration `yaml:"orchestratorTimeout" validate:"required"`
	RetryFailed         bool          `yaml:"retryFailed"`

	// C3 validation
	StrictValidation       bool    `yaml:"strictValidation"`
	ZeroPriceThresholdPct  float64 `yaml:"zeroPriceThresholdPct" validate:"min=0,max=100"`

	// C10/upload limits
	MaxUploadSize       int64 `yaml:"maxUploadSize" validate:"required,min=1"`
	MaxFileSizeMB       int   `yaml:"maxFileSizeMB" validate:"required,min=1"`
	MaxAccountsPerBatch int   `yaml:"maxAccountsPerBatch" validate:"required,min=1"`

	// C1 retention / C9 purge
	ArchiveRetentionDays int `yaml:"archiveRetentionDays" validate:"required,min=1"`
	PurgeAfterDays       int `yaml:"purgeAfterDays" validate:"required,min=1"`
	LateEodMaxDays       int `yaml:"lateEodMaxDays" validate:"required,min=0"`

	UpstreamTimeout time.Duration `yaml:"upstreamTimeout" validate:"required"`
	UpstreamBaseURL string        `yaml:"upstreamBaseURL" validate:"required,url"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
	Retry          RetryConfig          `yaml:"retry"`
	RateLimit      RateLimitConfig      `yaml:"rateLimit"`
	Bulkhead       BulkheadConfig       `yaml:"bulkhead"`
	Postgres       PostgresConfig       `yaml:"postgres"`
	Redis          RedisConfig          `yaml:"redis"`
	Bus            BusConfig            `yaml:"bus"`
	Slack          SlackConfig          `yaml:"slack"`
	Raft           RaftConfig           `yaml:"raft"`

	LogLevel  string `yaml:"logLevel" validate:"omitempty,oneof=debug info warn error"`
	LogJSON   bool   `yaml:"logJSON"`
	MetricsAddr string `yaml:"metricsAddr" validate:"required"`
}

var validate = validator.New()

// Load reads cfg from path, applies POSLOADER_-prefixed environment
// overrides for the handful of secrets operators don't want in a committed
// YAML file, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POSLOADER_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("POSLOADER_BUS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv("POSLOADER_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("POSLOADER_SLACK_WEBHOOK_URL"); v != "" {
		cfg.Slack.WebhookURL = v
	}
	if v := os.Getenv("POSLOADER_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrency = n
		}
	}
}

// Validate runs struct-tag validation and the cross-field invariants that
// validator tags cannot express, chiefly the timeout ordering required
// between layers (orchestratorTimeout > perAccountTimeout > upstream timeout).
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.OrchestratorTimeout <= c.PerAccountTimeout {
		return fmt.Errorf("invalid config: orchestratorTimeout (%s) must exceed perAccountTimeout (%s)",
			c.OrchestratorTimeout, c.PerAccountTimeout)
	}
	if c.PerAccountTimeout <= c.UpstreamTimeout {
		return fmt.Errorf("invalid config: perAccountTimeout (%s) must exceed upstreamTimeout (%s)",
			c.PerAccountTimeout, c.UpstreamTimeout)
	}
	if c.PurgeAfterDays < c.ArchiveRetentionDays {
		return fmt.Errorf("invalid config: purgeAfterDays (%d) must be >= archiveRetentionDays (%d)",
			c.PurgeAfterDays, c.ArchiveRetentionDays)
	}
	return nil
}
