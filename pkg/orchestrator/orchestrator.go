// Package orchestrator is the parallel orchestrator (C5): it fans a single
// EOD run out across every account in a client (or the whole book) with
// bounded concurrency, tracks per-account progress, and, when built with
// retryFailed set, retries a failed account once before giving up on it.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ledgerbase/posloader/pkg/eodengine"
	"github.com/ledgerbase/posloader/pkg/log"
	"github.com/ledgerbase/posloader/pkg/metrics"
)

// AccountState is one account's progress within a run.
type AccountState string

const (
	AccountPending   AccountState = "PENDING"
	AccountRunning   AccountState = "RUNNING"
	AccountSucceeded AccountState = "SUCCEEDED"
	AccountFailed    AccountState = "FAILED"
	AccountRetrying  AccountState = "RETRYING"
)

// Progress is one account's current state within a run, returned by
// Snapshot() without blocking the run itself.
type Progress struct {
	AccountID string
	State     AccountState
	Result    *eodengine.Result
	Err       error
}

// Orchestrator bounds fan-out via a weighted semaphore (acquired before a
// worker starts, released via defer so a panic or early return never leaks
// a slot) and exposes progress through a lock-protected map, the same
// guarded-map pattern used for per-worker progress tracking elsewhere,
// adapted from a perpetual loop to a single bounded run.
type Orchestrator struct {
	engine      *eodengine.Engine
	sem         *semaphore.Weighted
	retryFailed bool

	mu       sync.RWMutex
	progress map[string]*Progress
}

// New builds an Orchestrator bounded to maxConcurrency simultaneous
// accounts.
func New(engine *eodengine.Engine, maxConcurrency int64, retryFailed bool) *Orchestrator {
	return &Orchestrator{
		engine:      engine,
		sem:         semaphore.NewWeighted(maxConcurrency),
		retryFailed: retryFailed,
		progress:    make(map[string]*Progress),
	}
}

// Run processes every account in accountIDs for businessDate, honoring
// ctx's deadline as the run's global cutoff: orchestratorTimeout bounds
// the whole run, perAccountTimeout bounds each worker.
func (o *Orchestrator) Run(ctx context.Context, accountIDs []string, businessDate time.Time, perAccountTimeout time.Duration) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.OrchestratorRunDuration)

	logger := log.WithComponent("orchestrator")
	logger.Info().Int("account_count", len(accountIDs)).Msg("starting orchestration run")

	o.mu.Lock()
	o.progress = make(map[string]*Progress, len(accountIDs))
	for _, id := range accountIDs {
		o.progress[id] = &Progress{AccountID: id, State: AccountPending}
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, accountID := range accountIDs {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			o.setState(accountID, AccountFailed, nil, err)
			continue
		}
		metrics.OrchestratorAccountsInFlight.Inc()

		wg.Add(1)
		go func(accountID string) {
			defer wg.Done()
			defer o.sem.Release(1)
			defer metrics.OrchestratorAccountsInFlight.Dec()

			o.processOne(ctx, accountID, businessDate, perAccountTimeout)
		}(accountID)
	}
	wg.Wait()

	logger.Info().Msg("orchestration run complete")
}

func (o *Orchestrator) processOne(ctx context.Context, accountID string, businessDate time.Time, perAccountTimeout time.Duration) {
	o.setState(accountID, AccountRunning, nil, nil)

	result, err := o.attemptOnce(ctx, accountID, businessDate, perAccountTimeout)
	if err != nil && o.retryFailed {
		o.setState(accountID, AccountRetrying, nil, err)
		result, err = o.attemptOnce(ctx, accountID, businessDate, perAccountTimeout)
	}

	if err != nil {
		o.setState(accountID, AccountFailed, nil, err)
		return
	}
	o.setState(accountID, AccountSucceeded, result, nil)
}

func (o *Orchestrator) attemptOnce(ctx context.Context, accountID string, businessDate time.Time, perAccountTimeout time.Duration) (*eodengine.Result, error) {
	accountCtx, cancel := context.WithTimeout(ctx, perAccountTimeout)
	defer cancel()
	return o.engine.ProcessEod(accountCtx, accountID, businessDate)
}

func (o *Orchestrator) setState(accountID string, state AccountState, result *eodengine.Result, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress[accountID] = &Progress{AccountID: accountID, State: state, Result: result, Err: err}
}

// Snapshot returns a point-in-time copy of every account's progress,
// non-blocking with respect to Run's in-flight workers.
func (o *Orchestrator) Snapshot() []Progress {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Progress, 0, len(o.progress))
	for _, p := range o.progress {
		out = append(out, *p)
	}
	return out
}

// Summary tallies Snapshot() into per-state counts, for the summary that
// `eod trigger` and the nightly EOD job report when a run ends.
func (o *Orchestrator) Summary() map[AccountState]int {
	counts := make(map[AccountState]int)
	for _, p := range o.Snapshot() {
		counts[p.State]++
	}
	return counts
}
