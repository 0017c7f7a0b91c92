// Package snapcache is the shared stale-cache fallback for pkg/upstream,
// backed by Redis so every loader instance (this service runs as multiple
// instances, see C14) sees the same last-known-good snapshot, not just the
// process that happened to fetch it.
package snapcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ledgerbase/posloader/pkg/config"
	"github.com/ledgerbase/posloader/pkg/types"
)

// Cache wraps a redis client with the snapshot-specific key scheme and TTL.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to Redis per cfg.
func New(cfg config.RedisConfig) *Cache {
	return &Cache{
		rdb: redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB}),
		ttl: cfg.TTL,
	}
}

func key(accountID string, businessDate time.Time) string {
	return fmt.Sprintf("snapcache:%s:%s", accountID, businessDate.Format("2006-01-02"))
}

// Store persists snap for later STALE_CACHE fallback.
func (c *Cache) Store(ctx context.Context, accountID string, businessDate time.Time, snap *types.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot for cache: %w", err)
	}
	return c.rdb.Set(ctx, key(accountID, businessDate), data, c.ttl).Err()
}

// Load returns the last cached snapshot for accountID/businessDate, or an
// error if nothing is cached.
func (c *Cache) Load(ctx context.Context, accountID string, businessDate time.Time) (*types.Snapshot, error) {
	data, err := c.rdb.Get(ctx, key(accountID, businessDate)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("load cached snapshot: %w", err)
	}
	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal cached snapshot: %w", err)
	}
	return &snap, nil
}

// Client exposes the underlying redis client for health checks.
func (c *Cache) Client() *redis.Client { return c.rdb }

// Close closes the underlying redis client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
