package positionstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerbase/posloader/pkg/errs"
	"github.com/ledgerbase/posloader/pkg/types"
)

func TestMemStore_GetQuantityAsOf_BitemporalReadLaw(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	businessDate := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	batchID, err := store.CreateBatch(ctx, "ACC1", businessDate)
	require.NoError(t, err)

	t1 := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 7, 30, 15, 0, 0, 0, time.UTC)
	farFuture := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertPositions(ctx, batchID, []types.Position{
		{AccountID: "ACC1", ProductID: "AAPL", BusinessDate: businessDate, BatchID: batchID, Quantity: 100, SystemFrom: t1, SystemTo: t2},
		{AccountID: "ACC1", ProductID: "AAPL", BusinessDate: businessDate, BatchID: batchID, Quantity: 150, SystemFrom: t2, SystemTo: farFuture},
	}))

	qty, err := store.GetQuantityAsOf(ctx, "ACC1", "AAPL", businessDate, t1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, qty)

	qty, err = store.GetQuantityAsOf(ctx, "ACC1", "AAPL", businessDate, t1.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 100.0, qty)

	qty, err = store.GetQuantityAsOf(ctx, "ACC1", "AAPL", businessDate, t2)
	require.NoError(t, err)
	assert.Equal(t, 150.0, qty)

	_, err = store.GetQuantityAsOf(ctx, "ACC1", "AAPL", businessDate, t1.Add(-time.Hour))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}
