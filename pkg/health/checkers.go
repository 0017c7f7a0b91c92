package health

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// PostgresChecker pings a pgx pool.
type PostgresChecker struct {
	pool *pgxpool.Pool
}

func NewPostgresChecker(pool *pgxpool.Pool) *PostgresChecker {
	return &PostgresChecker{pool: pool}
}

func (c *PostgresChecker) Type() CheckType { return CheckTypeTCP }

func (c *PostgresChecker) Check(ctx context.Context) Result {
	start := time.Now()
	err := c.pool.Ping(ctx)
	res := Result{CheckedAt: start, Duration: time.Since(start), Healthy: err == nil}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// RedisChecker pings a redis client used by the stale-snapshot cache.
type RedisChecker struct {
	rdb *redis.Client
}

func NewRedisChecker(rdb *redis.Client) *RedisChecker {
	return &RedisChecker{rdb: rdb}
}

func (c *RedisChecker) Type() CheckType { return CheckTypeTCP }

func (c *RedisChecker) Check(ctx context.Context) Result {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	res := Result{CheckedAt: start, Duration: time.Since(start), Healthy: err == nil}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}
