// Package positionstore is the bitemporal position store (C1). It defines
// the Store interface (one exported interface, one concrete
// implementation) and a PostgresStore backed by pgx/sqlx.
package positionstore

import (
	"context"
	"time"

	"github.com/ledgerbase/posloader/pkg/types"
)

// Store is the full contract the EOD engine, orchestrator, reconciler and
// operator CLI depend on. No package outside positionstore may talk to
// Postgres directly.
type Store interface {
	// Reference data
	UpsertClient(ctx context.Context, c *types.Client) error
	UpsertAccount(ctx context.Context, a *types.Account) error
	UpsertProduct(ctx context.Context, p *types.Product) error
	GetAccount(ctx context.Context, accountID string) (*types.Account, error)
	ListAccountsByClient(ctx context.Context, clientID string) ([]*types.Account, error)
	ListAllAccounts(ctx context.Context) ([]*types.Account, error)

	// Batch lifecycle
	CreateBatch(ctx context.Context, accountID string, businessDate time.Time) (int64, error)
	InsertPositions(ctx context.Context, batchID int64, positions []types.Position) error
	ActivateBatch(ctx context.Context, accountID string, batchID int64) error
	RollbackBatch(ctx context.Context, accountID string, businessDate time.Time) (*types.Batch, error)
	GetActiveBatch(ctx context.Context, accountID string) (*types.Batch, error)
	GetBatch(ctx context.Context, accountID string, batchID int64) (*types.Batch, error)
	ListBatches(ctx context.Context, accountID string, businessDate time.Time) ([]*types.Batch, error)
	ArchiveBatches(ctx context.Context, olderThan time.Time) (int, error)
	PurgeArchivedBatches(ctx context.Context, olderThan time.Time) (int, error)

	// Position reads
	GetActivePositions(ctx context.Context, accountID string) ([]types.Position, error)
	GetPositionsAsOf(ctx context.Context, accountID string, businessDate time.Time) ([]types.Position, error)
	GetQuantityAsOf(ctx context.Context, accountID, productID string, businessDate, systemTime time.Time) (float64, error)
	AdjustPosition(ctx context.Context, accountID string, p types.Position) error

	// EOD status / idempotency
	GetEodStatus(ctx context.Context, accountID string, businessDate time.Time) (*types.EodStatus, error)
	UpsertEodStatus(ctx context.Context, s *types.EodStatus) error
	ListEodStatusesForDate(ctx context.Context, businessDate time.Time) ([]*types.EodStatus, error)

	// Duplicate detection
	GetSnapshotHash(ctx context.Context, accountID string, businessDate time.Time) (*types.SnapshotHash, error)
	SaveSnapshotHash(ctx context.Context, h *types.SnapshotHash) error

	// Calendar
	IsBusinessDay(ctx context.Context, date time.Time) (bool, error)
	ListHolidays(ctx context.Context, from, to time.Time) ([]time.Time, error)

	Close() error
}
