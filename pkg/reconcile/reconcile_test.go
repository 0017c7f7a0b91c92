package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/ledgerbase/posloader/pkg/positionstore"
	"github.com/ledgerbase/posloader/pkg/types"
)

func seedBatch(t *testing.T, store *positionstore.MemStore, accountID string, businessDate time.Time, positions []types.Position, activate bool) int64 {
	t.Helper()
	ctx := context.Background()
	batchID, err := store.CreateBatch(ctx, accountID, businessDate)
	require.NoError(t, err)
	for i := range positions {
		positions[i].BatchID = batchID
	}
	require.NoError(t, store.InsertPositions(ctx, batchID, positions))
	if activate {
		require.NoError(t, store.ActivateBatch(ctx, accountID, batchID))
	}
	return batchID
}

func TestReconcileAccount_FlagsMissingAndNewPositions(t *testing.T) {
	store := positionstore.NewMemStore()
	ctx := context.Background()

	prevDate := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	today := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	seedBatch(t, store, "ACC1", prevDate, []types.Position{
		{AccountID: "ACC1", ProductID: "AAPL", Quantity: 100, MarketValue: 1000},
		{AccountID: "ACC1", ProductID: "MSFT", Quantity: 50, MarketValue: 2000},
	}, false)

	seedBatch(t, store, "ACC1", today, []types.Position{
		{AccountID: "ACC1", ProductID: "AAPL", Quantity: 100, MarketValue: 1000},
		{AccountID: "ACC1", ProductID: "GOOG", Quantity: 10, MarketValue: 500},
	}, true)

	r := New(store, Thresholds{WarningValuePct: 5, CriticalValuePct: 20})
	diffs, err := r.ReconcileAccount(ctx, "ACC1", today)
	require.NoError(t, err)

	type productSeverity struct {
		ProductID string
		Severity  Severity
	}
	var got []productSeverity
	for _, d := range diffs {
		got = append(got, productSeverity{d.ProductID, d.Severity})
	}
	want := []productSeverity{
		{"GOOG", SeverityWarning},
		{"MSFT", SeverityCritical},
	}
	if diff := cmp.Diff(want, got, cmpopts.SortSlices(func(a, b productSeverity) bool { return a.ProductID < b.ProductID })); diff != "" {
		t.Errorf("unexpected diff set (-want +got):\n%s", diff)
	}
}

func TestReconcileAccount_NoDiffWhenUnchanged(t *testing.T) {
	store := positionstore.NewMemStore()
	ctx := context.Background()

	prevDate := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	today := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	positions := []types.Position{{AccountID: "ACC1", ProductID: "AAPL", Quantity: 100, MarketValue: 1000}}
	seedBatch(t, store, "ACC1", prevDate, positions, false)
	seedBatch(t, store, "ACC1", today, positions, true)

	r := New(store, Thresholds{WarningValuePct: 5, CriticalValuePct: 20})
	diffs, err := r.ReconcileAccount(ctx, "ACC1", today)
	require.NoError(t, err)
	require.Empty(t, diffs)
}

func TestClassify_Severity(t *testing.T) {
	r := New(positionstore.NewMemStore(), Thresholds{WarningValuePct: 5, CriticalValuePct: 20})

	sev, flagged := r.classify(1000, 1100)
	require.True(t, flagged)
	require.Equal(t, SeverityWarning, sev)

	sev, flagged = r.classify(1000, 1300)
	require.True(t, flagged)
	require.Equal(t, SeverityCritical, sev)

	_, flagged = r.classify(1000, 1010)
	require.False(t, flagged)
}
