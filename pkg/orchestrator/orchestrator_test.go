package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerbase/posloader/pkg/eodengine"
	"github.com/ledgerbase/posloader/pkg/positionstore"
	"github.com/ledgerbase/posloader/pkg/types"
)

// fakeFetcher implements eodengine's snapshotFetcher. A given account
// ID can be made to fail its first N calls before succeeding, to exercise
// the orchestrator's retry-once behavior.
type fakeFetcher struct {
	mu        sync.Mutex
	failUntil map[string]int
	calls     map[string]int
}

func newFakeFetcher(failUntil map[string]int) *fakeFetcher {
	return &fakeFetcher{failUntil: failUntil, calls: make(map[string]int)}
}

func (f *fakeFetcher) FetchSnapshot(_ context.Context, accountID string, businessDate time.Time) (*types.Snapshot, error) {
	f.mu.Lock()
	f.calls[accountID]++
	n := f.calls[accountID]
	f.mu.Unlock()

	if n <= f.failUntil[accountID] {
		return nil, fmt.Errorf("upstream unavailable (attempt %d)", n)
	}
	return &types.Snapshot{
		AccountID:    accountID,
		ClientID:     "CLIENT1",
		BusinessDate: businessDate,
		Status:       types.SnapshotAvailable,
		Positions: []types.RawPosition{
			{ProductID: "AAPL", Ticker: "AAPL", Quantity: 10, Price: 100, Currency: "USD", MarketValue: 1000},
		},
	}, nil
}

func TestOrchestrator_RunSucceedsAndRetriesFailures(t *testing.T) {
	store := positionstore.NewMemStore()
	fetcher := newFakeFetcher(map[string]int{
		"ACC2": 1, // fails once, then succeeds on retry
	})
	engine := eodengine.New(store, fetcher, nil, eodengine.Options{})
	orc := New(engine, 2, true)

	businessDate := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	orc.Run(context.Background(), []string{"ACC1", "ACC2"}, businessDate, 5*time.Second)

	summary := orc.Summary()
	assert.Equal(t, 2, summary[AccountSucceeded])
	assert.Equal(t, 0, summary[AccountFailed])

	for _, p := range orc.Snapshot() {
		require.NotNil(t, p.Result)
		assert.Equal(t, types.EodCompleted, p.Result.Status)
	}
}

func TestOrchestrator_RunFailsAfterExhaustingRetry(t *testing.T) {
	store := positionstore.NewMemStore()
	fetcher := newFakeFetcher(map[string]int{
		"ACC1": 99, // never succeeds within the retry budget
	})
	engine := eodengine.New(store, fetcher, nil, eodengine.Options{})
	orc := New(engine, 1, true)

	businessDate := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	orc.Run(context.Background(), []string{"ACC1"}, businessDate, 5*time.Second)

	summary := orc.Summary()
	assert.Equal(t, 1, summary[AccountFailed])

	snap := orc.Snapshot()
	require.Len(t, snap, 1)
	assert.Error(t, snap[0].Err)
	assert.Equal(t, 2, fetcher.calls["ACC1"], "expected exactly one retry after the initial attempt")
}

func TestOrchestrator_BoundedPoolCompletesAllAccounts(t *testing.T) {
	store := positionstore.NewMemStore()
	fetcher := newFakeFetcher(nil)
	engine := eodengine.New(store, fetcher, nil, eodengine.Options{})
	orc := New(engine, 3, false)

	accountIDs := make([]string, 10)
	for i := range accountIDs {
		accountIDs[i] = fmt.Sprintf("ACC%d", i)
	}

	businessDate := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	orc.Run(context.Background(), accountIDs, businessDate, 5*time.Second)

	assert.Equal(t, 10, orc.Summary()[AccountSucceeded])
}
