package snapcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ledgerbase/posloader/pkg/types"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	return &Cache{
		rdb: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		ttl: time.Hour,
	}
}

func TestCache_StoreThenLoad(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	businessDate := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	snap := &types.Snapshot{
		AccountID:    "ACC1",
		ClientID:     "CLIENT1",
		BusinessDate: businessDate,
		Status:       types.SnapshotAvailable,
		Positions: []types.RawPosition{
			{ProductID: "AAPL", Ticker: "AAPL", Quantity: 10, Price: 190, Currency: "USD", MarketValue: 1900},
		},
	}

	require.NoError(t, c.Store(ctx, "ACC1", businessDate, snap))

	loaded, err := c.Load(ctx, "ACC1", businessDate)
	require.NoError(t, err)
	require.Equal(t, snap.AccountID, loaded.AccountID)
	require.Equal(t, snap.Positions, loaded.Positions)
}

func TestCache_LoadMissReturnsError(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Load(context.Background(), "NOBODY", time.Now())
	require.Error(t, err)
}
