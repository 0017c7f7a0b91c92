package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerbase/posloader/pkg/config"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		UpstreamTimeout: time.Second,
		UpstreamBaseURL: baseURL,
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold: 2,
			HalfOpenMaxCalls: 1,
			OpenStateTimeout: time.Minute,
		},
		Retry: config.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			Multiplier:      2,
		},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
		Bulkhead:  config.BulkheadConfig{MaxConcurrent: 10},
	}
}

// TestFetchSnapshot_RetriesCountAsOneBreakerFailure asserts the composition
// the resilience pipeline is supposed to have: the breaker wraps the retry
// loop, so one FetchSnapshot call that exhausts all retry attempts against
// a failing upstream registers as ONE consecutive breaker failure, not one
// per attempt. With FailureThreshold=2 and MaxAttempts=3, a single failing
// call must not trip the breaker on its own.
func TestFetchSnapshot_RetriesCountAsOneBreakerFailure(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL), nil, nil)

	_, err := client.FetchSnapshot(context.Background(), "ACC1", time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests), "all retry attempts should have run inside a single breaker call")

	// A second failing call trips the breaker (2 consecutive failed
	// Execute calls, matching FailureThreshold), proving the breaker is
	// still counting at the call level rather than never tripping.
	_, err = client.FetchSnapshot(context.Background(), "ACC1", time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)

	requestsBeforeOpen := atomic.LoadInt32(&requests)
	_, err = client.FetchSnapshot(context.Background(), "ACC1", time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Equal(t, requestsBeforeOpen, atomic.LoadInt32(&requests), "breaker should be open and short-circuit without hitting the server")
}
