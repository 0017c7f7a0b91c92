package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		MaxConcurrency:      10,
		PerAccountTimeout:   30 * time.Second,
		OrchestratorTimeout: 5 * time.Minute,
		StrictValidation:    true,
		MaxUploadSize:       1 << 20,
		MaxFileSizeMB:       10,
		MaxAccountsPerBatch: 500,
		ArchiveRetentionDays: 90,
		PurgeAfterDays:       365,
		LateEodMaxDays:       2,
		UpstreamTimeout:      5 * time.Second,
		UpstreamBaseURL:      "https://upstream.example.com",
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			HalfOpenMaxCalls: 1,
			OpenStateTimeout: 30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2.0,
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 10, Burst: 20},
		Bulkhead:  BulkheadConfig{MaxConcurrent: 10},
		Postgres: PostgresConfig{
			DSN: "postgres://localhost/posloader", MaxConns: 10, ConnectTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{Addr: "localhost:6379", TTL: time.Hour},
		Bus:   BusConfig{URL: "amqp://localhost", PrefetchCount: 10, DLQMaxReplayBatch: 100},
		Raft:  RaftConfig{NodeID: "node-1", BindAddr: "127.0.0.1:7000", DataDir: "/tmp/raft"},
		MetricsAddr: ":9090",
	}
}

func TestConfig_Validate_Valid(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_OrchestratorTimeoutMustExceedPerAccount(t *testing.T) {
	cfg := validConfig()
	cfg.OrchestratorTimeout = cfg.PerAccountTimeout
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orchestratorTimeout")
}

func TestConfig_Validate_PerAccountTimeoutMustExceedUpstream(t *testing.T) {
	cfg := validConfig()
	cfg.PerAccountTimeout = cfg.UpstreamTimeout
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "perAccountTimeout")
}

func TestConfig_Validate_PurgeMustBeAfterArchiveRetention(t *testing.T) {
	cfg := validConfig()
	cfg.PurgeAfterDays = cfg.ArchiveRetentionDays - 1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "purgeAfterDays")
}

func TestConfig_Validate_RequiredFieldMissing(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.DSN = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_BadLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestLoad_ReadsYamlAndAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	const yamlDoc = `
maxConcurrency: 10
perAccountTimeout: 30s
orchestratorTimeout: 5m
maxUploadSize: 1048576
maxFileSizeMB: 10
maxAccountsPerBatch: 500
archiveRetentionDays: 90
purgeAfterDays: 365
lateEodMaxDays: 2
upstreamTimeout: 5s
upstreamBaseURL: https://upstream.example.com
circuitBreaker:
  failureThreshold: 5
  halfOpenMaxCalls: 1
  openStateTimeout: 30s
retry:
  maxAttempts: 3
  initialInterval: 100ms
  maxInterval: 2s
  multiplier: 2.0
rateLimit:
  requestsPerSecond: 10
  burst: 20
bulkhead:
  maxConcurrent: 10
postgres:
  dsn: postgres://localhost/posloader
  maxConns: 10
  connectTimeout: 5s
redis:
  addr: localhost:6379
  ttl: 1h
bus:
  url: amqp://localhost
  prefetchCount: 10
  dlqMaxReplayBatch: 100
raft:
  nodeID: node-1
  bindAddr: 127.0.0.1:7000
  dataDir: /tmp/raft
metricsAddr: ":9090"
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	t.Setenv("POSLOADER_POSTGRES_DSN", "postgres://override/posloader")
	t.Setenv("POSLOADER_MAX_CONCURRENCY", "25")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://override/posloader", cfg.Postgres.DSN)
	assert.Equal(t, 25, cfg.MaxConcurrency)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidConfigFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maxConcurrency: 1\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
