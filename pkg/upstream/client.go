// Package upstream is the resilient client (C2) for the Master Security
// Position Manager snapshot feed. It composes, outer to inner: a
// rate-limiter, a bulkhead, a circuit breaker, and a retry policy, wrapping
// a plain net/http call — the same middleware-composition idiom an ingress
// rate limiter uses, generalized from per-client-IP limiting to a single
// upstream-wide pipeline.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ledgerbase/posloader/pkg/config"
	"github.com/ledgerbase/posloader/pkg/errs"
	"github.com/ledgerbase/posloader/pkg/log"
	"github.com/ledgerbase/posloader/pkg/metrics"
	"github.com/ledgerbase/posloader/pkg/types"
	"github.com/ledgerbase/posloader/pkg/upstream/snapcache"
)

// AlertPublisher is the narrow interface the client needs from C6 to emit
// breaker-transition ALERT events without importing pkg/eventpublisher
// directly (avoids a C2 -> C6 -> C2 import cycle).
type AlertPublisher interface {
	PublishAlert(ctx context.Context, a types.Alert) error
}

// Client fetches a single account's end-of-day (or intraday) snapshot from
// the upstream feed through the full resilience pipeline.
type Client struct {
	httpClient *http.Client
	baseURL    string

	limiter   *rate.Limiter
	bulkhead  *semaphore.Weighted
	breaker   *gobreaker.CircuitBreaker
	retryCfg  config.RetryConfig

	cache  *snapcache.Cache
	alerts AlertPublisher
}

// New builds a Client wired per cfg. alerts may be nil in tests that don't
// care about breaker-transition notifications.
func New(cfg *config.Config, cache *snapcache.Cache, alerts AlertPublisher) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: cfg.UpstreamTimeout},
		baseURL:    cfg.UpstreamBaseURL,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst),
		bulkhead:   semaphore.NewWeighted(cfg.Bulkhead.MaxConcurrent),
		retryCfg:   cfg.Retry,
		cache:      cache,
		alerts:     alerts,
	}

	breakerSettings := gobreaker.Settings{
		Name:        "mspm-upstream",
		MaxRequests: cfg.CircuitBreaker.HalfOpenMaxCalls,
		Timeout:     cfg.CircuitBreaker.OpenStateTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CircuitBreaker.FailureThreshold
		},
		OnStateChange: c.onBreakerStateChange,
	}
	c.breaker = gobreaker.NewCircuitBreaker(breakerSettings)

	return c
}

func (c *Client) onBreakerStateChange(name string, from, to gobreaker.State) {
	log.WithComponent("upstream").Warn().
		Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
		Msg("circuit breaker state transition")

	switch to {
	case gobreaker.StateOpen:
		metrics.CircuitBreakerState.Set(2)
	case gobreaker.StateHalfOpen:
		metrics.CircuitBreakerState.Set(1)
	case gobreaker.StateClosed:
		metrics.CircuitBreakerState.Set(0)
	}

	if c.alerts == nil || to != gobreaker.StateOpen {
		return
	}
	_ = c.alerts.PublishAlert(context.Background(), types.Alert{
		Level:     types.AlertCritical,
		Source:    "upstream",
		Type:      "CIRCUIT_BREAKER_OPEN",
		Message:   fmt.Sprintf("circuit breaker %q tripped open", name),
		Timestamp: time.Now(),
	})
}

// FetchSnapshot retrieves accountID's snapshot for businessDate. On upstream
// unavailability after retries/breaker exhaustion, it falls back to the
// last cached snapshot and returns it with Status = STALE_CACHE rather than
// failing the caller outright.
func (c *Client) FetchSnapshot(ctx context.Context, accountID string, businessDate time.Time) (*types.Snapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.New(errs.KindCancelled, accountID, err)
	}

	if err := c.bulkhead.Acquire(ctx, 1); err != nil {
		return nil, errs.New(errs.KindCancelled, accountID, err)
	}
	defer c.bulkhead.Release(1)

	snap, err := c.callBreaker(ctx, accountID, businessDate)
	if err == nil {
		if c.cache != nil {
			_ = c.cache.Store(ctx, accountID, businessDate, snap)
		}
		return snap, nil
	}

	if c.cache != nil {
		if cached, cacheErr := c.cache.Load(ctx, accountID, businessDate); cacheErr == nil {
			cached.Status = types.SnapshotStaleCache
			log.WithAccountID(accountID).Warn().Err(err).Msg("upstream unavailable, serving stale cache")
			return cached, nil
		}
	}

	return nil, err
}

// callBreaker is the outermost of the two remaining pipeline stages: the
// breaker wraps the retry loop so every retry attempt counts toward the
// same breaker call, not one breaker-tracked call per attempt.
func (c *Client) callBreaker(ctx context.Context, accountID string, businessDate time.Time) (*types.Snapshot, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchWithRetry(ctx, accountID, businessDate)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, errs.New(errs.KindUpstreamUnavailable, accountID, err)
		}
		return nil, err
	}
	return result.(*types.Snapshot), nil
}

// fetchWithRetry retries only transient faults, inside the breaker's
// accounting: each backoff.Retry call here is a single Execute invocation
// as far as the breaker's failure counting is concerned.
func (c *Client) fetchWithRetry(ctx context.Context, accountID string, businessDate time.Time) (*types.Snapshot, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryCfg.InitialInterval
	policy.MaxInterval = c.retryCfg.MaxInterval
	policy.Multiplier = c.retryCfg.Multiplier
	bo := backoff.WithMaxRetries(policy, uint64(c.retryCfg.MaxAttempts-1))
	bo = backoff.WithContext(bo, ctx)

	var snap *types.Snapshot
	operation := func() error {
		s, err := c.doRequest(ctx, accountID, businessDate)
		if err != nil {
			if !errs.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		snap = s
		return nil
	}

	if err := backoff.Retry(operation, bo); err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.UpstreamRequestsTotal.WithLabelValues("success").Inc()
	return snap, nil
}

func (c *Client) doRequest(ctx context.Context, accountID string, businessDate time.Time) (*types.Snapshot, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.UpstreamRequestDuration)

	url := fmt.Sprintf("%s/accounts/%s/snapshots/%s", c.baseURL, accountID, businessDate.Format("2006-01-02"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.New(errs.KindInternal, accountID, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.New(errs.KindUpstreamTimeout, accountID, err)
		}
		return nil, errs.New(errs.KindUpstreamUnavailable, accountID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.New(errs.KindUpstreamRateLimited, accountID, fmt.Errorf("upstream returned 429"))
	case resp.StatusCode >= 500:
		return nil, errs.New(errs.KindUpstreamUnavailable, accountID, fmt.Errorf("upstream returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, errs.New(errs.KindInvalidArgument, accountID, fmt.Errorf("upstream returned %d", resp.StatusCode))
	}

	var snap types.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, errs.New(errs.KindUpstreamUnavailable, accountID, fmt.Errorf("decode snapshot: %w", err))
	}
	snap.Status = types.SnapshotAvailable
	return &snap, nil
}
