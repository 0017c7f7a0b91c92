package positionstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/ledgerbase/posloader/pkg/config"
	"github.com/ledgerbase/posloader/pkg/errs"
	"github.com/ledgerbase/posloader/pkg/types"
)

// PostgresStore implements Store using pgx/v5 and sqlx scanning. Every
// multi-statement mutation runs through withTx, the Go-native replacement
// for the BoltDB closure idiom (db.Update(func(tx *bolt.Tx) error {...})).
type PostgresStore struct {
	pool *pgxpool.Pool
	db   *sqlx.DB
}

// NewPostgresStore opens a pgx pool against cfg and wraps it with sqlx for
// struct-scan convenience on read paths.
func NewPostgresStore(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	sqlxDB, err := sqlx.Open("pgx", cfg.DSN)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open sqlx handle: %w", err)
	}

	return &PostgresStore{pool: pool, db: sqlxDB}, nil
}

// Pool exposes the underlying pgx pool for health checks; no other package
// should reach into it for query execution.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return s.db.Close()
}

// withTx runs fn inside a pgx transaction, committing on success and rolling
// back on any error or panic — a closure-scoped transaction pattern,
// applied here to Postgres.
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// advisoryLockKey derives a stable int64 key for pg_advisory_xact_lock from
// an account ID, so concurrent stage/activate calls for the same account
// serialize even across separate connections.
func advisoryLockKey(accountID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(accountID))
	return int64(h.Sum64())
}

// --- Reference data -------------------------------------------------------

func (s *PostgresStore) UpsertClient(ctx context.Context, c *types.Client) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clients (id, name, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()`,
		c.ID, c.Name)
	if err != nil {
		return errs.New(errs.KindInternal, "client", err)
	}
	return nil
}

func (s *PostgresStore) UpsertAccount(ctx context.Context, a *types.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, client_id, base_currency, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			base_currency = EXCLUDED.base_currency,
			name = EXCLUDED.name,
			updated_at = now()`,
		a.ID, a.ClientID, a.BaseCurrency, a.Name)
	if err != nil {
		return errs.New(errs.KindInternal, "account", err)
	}
	return nil
}

func (s *PostgresStore) UpsertProduct(ctx context.Context, p *types.Product) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (id, ticker, asset_class, issue_currency, settlement_currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			ticker = EXCLUDED.ticker,
			asset_class = EXCLUDED.asset_class,
			issue_currency = EXCLUDED.issue_currency,
			settlement_currency = EXCLUDED.settlement_currency,
			updated_at = now()`,
		p.ID, p.Ticker, p.AssetClass, p.IssueCurrency, p.SettlementCurrency)
	if err != nil {
		return errs.New(errs.KindInternal, "product", err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (*types.Account, error) {
	var a types.Account
	err := s.db.GetContext(ctx, &a, `
		SELECT id, client_id, base_currency, name, created_at, updated_at
		FROM accounts WHERE id = $1`, accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, accountID, err)
	}
	if err != nil {
		return nil, errs.New(errs.KindInternal, accountID, err)
	}
	return &a, nil
}

func (s *PostgresStore) ListAccountsByClient(ctx context.Context, clientID string) ([]*types.Account, error) {
	var accounts []*types.Account
	err := s.db.SelectContext(ctx, &accounts, `
		SELECT id, client_id, base_currency, name, created_at, updated_at
		FROM accounts WHERE client_id = $1 ORDER BY id`, clientID)
	if err != nil {
		return nil, errs.New(errs.KindInternal, clientID, err)
	}
	return accounts, nil
}

func (s *PostgresStore) ListAllAccounts(ctx context.Context) ([]*types.Account, error) {
	var accounts []*types.Account
	err := s.db.SelectContext(ctx, &accounts, `
		SELECT id, client_id, base_currency, name, created_at, updated_at
		FROM accounts ORDER BY id`)
	if err != nil {
		return nil, errs.New(errs.KindInternal, "", err)
	}
	return accounts, nil
}

// --- Batch lifecycle -------------------------------------------------------

func (s *PostgresStore) CreateBatch(ctx context.Context, accountID string, businessDate time.Time) (int64, error) {
	var batchID int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO batches (account_id, business_date, status, created_at)
		VALUES ($1, $2, 'STAGING', now())
		RETURNING batch_id`, accountID, businessDate).Scan(&batchID)
	if err != nil {
		return 0, errs.New(errs.KindInternal, accountID, err)
	}
	return batchID, nil
}

func (s *PostgresStore) InsertPositions(ctx context.Context, batchID int64, positions []types.Position) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		for _, p := range positions {
			_, err := tx.Exec(ctx, `
				INSERT INTO positions
					(account_id, product_id, business_date, batch_id, quantity, price,
					 currency, market_value, source, system_from, system_to)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), 'infinity')`,
				p.AccountID, p.ProductID, p.BusinessDate, batchID, p.Quantity, p.Price,
				p.Currency, p.MarketValue, p.Source)
			if err != nil {
				return errs.New(errs.KindInternal, p.AccountID, err)
			}
		}
		return nil
	})
}

// ActivateBatch performs the STAGING -> ACTIVE swap: it takes an
// account-scoped advisory lock, closes out the previously ACTIVE batch's
// validity window, and flips the new batch to ACTIVE, all inside one
// transaction.
func (s *PostgresStore) ActivateBatch(ctx context.Context, accountID string, batchID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey(accountID)); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE batches SET status = 'ARCHIVED', archived_at = now()
			WHERE account_id = $1 AND status = 'ACTIVE'`, accountID); err != nil {
			return errs.New(errs.KindInternal, accountID, err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE positions SET system_to = now()
			WHERE account_id = $1 AND system_to = 'infinity' AND batch_id != $2`,
			accountID, batchID); err != nil {
			return errs.New(errs.KindInternal, accountID, err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE batches SET status = 'ACTIVE', activated_at = now()
			WHERE account_id = $1 AND batch_id = $2 AND status = 'STAGING'`,
			accountID, batchID)
		if err != nil {
			return errs.New(errs.KindInternal, accountID, err)
		}
		if tag.RowsAffected() == 0 {
			return errs.New(errs.KindConcurrencyConflict, accountID,
				fmt.Errorf("batch %d is not in STAGING for account %s", batchID, accountID))
		}
		return nil
	})
}

func (s *PostgresStore) RollbackBatch(ctx context.Context, accountID string, businessDate time.Time) (*types.Batch, error) {
	var prior types.Batch
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey(accountID)); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}

		var current types.Batch
		err := tx.QueryRow(ctx, `
			SELECT batch_id, status FROM batches
			WHERE account_id = $1 AND business_date = $2 AND status = 'ACTIVE'`,
			accountID, businessDate).Scan(&current.BatchID, &current.Status)
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.New(errs.KindNotFound, accountID, fmt.Errorf("no active batch for %s on %s", accountID, businessDate))
		}
		if err != nil {
			return errs.New(errs.KindInternal, accountID, err)
		}

		err = tx.QueryRow(ctx, `
			SELECT batch_id, status, activated_at FROM batches
			WHERE account_id = $1 AND business_date = $2 AND status = 'ARCHIVED'
			ORDER BY archived_at DESC LIMIT 1`, accountID, businessDate).
			Scan(&prior.BatchID, &prior.Status, &prior.ActivatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.New(errs.KindInvalidArgument, accountID, fmt.Errorf("no prior batch to roll back to for %s", accountID))
		}
		if err != nil {
			return errs.New(errs.KindInternal, accountID, err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE batches SET status = 'ROLLED_BACK' WHERE account_id = $1 AND batch_id = $2`,
			accountID, current.BatchID); err != nil {
			return errs.New(errs.KindInternal, accountID, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE batches SET status = 'ACTIVE' WHERE account_id = $1 AND batch_id = $2`,
			accountID, prior.BatchID); err != nil {
			return errs.New(errs.KindInternal, accountID, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE positions SET system_to = 'infinity' WHERE account_id = $1 AND batch_id = $2`,
			accountID, prior.BatchID); err != nil {
			return errs.New(errs.KindInternal, accountID, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE positions SET system_to = now()
			WHERE account_id = $1 AND batch_id = $2 AND system_to = 'infinity'`,
			accountID, current.BatchID); err != nil {
			return errs.New(errs.KindInternal, accountID, err)
		}
		prior.AccountID = accountID
		prior.Status = types.BatchActive
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &prior, nil
}

func (s *PostgresStore) GetActiveBatch(ctx context.Context, accountID string) (*types.Batch, error) {
	var b types.Batch
	err := s.db.GetContext(ctx, &b, `
		SELECT account_id, batch_id, business_date, status, created_at, activated_at, archived_at
		FROM batches WHERE account_id = $1 AND status = 'ACTIVE'`, accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, accountID, err)
	}
	if err != nil {
		return nil, errs.New(errs.KindInternal, accountID, err)
	}
	return &b, nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, accountID string, batchID int64) (*types.Batch, error) {
	var b types.Batch
	err := s.db.GetContext(ctx, &b, `
		SELECT account_id, batch_id, business_date, status, created_at, activated_at, archived_at
		FROM batches WHERE account_id = $1 AND batch_id = $2`, accountID, batchID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, accountID, err)
	}
	if err != nil {
		return nil, errs.New(errs.KindInternal, accountID, err)
	}
	return &b, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, accountID string, businessDate time.Time) ([]*types.Batch, error) {
	var batches []*types.Batch
	err := s.db.SelectContext(ctx, &batches, `
		SELECT account_id, batch_id, business_date, status, created_at, activated_at, archived_at
		FROM batches WHERE account_id = $1 AND business_date = $2 ORDER BY batch_id`,
		accountID, businessDate)
	if err != nil {
		return nil, errs.New(errs.KindInternal, accountID, err)
	}
	return batches, nil
}

func (s *PostgresStore) ArchiveBatches(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE batches SET status = 'ARCHIVED', archived_at = now()
		WHERE status = 'ACTIVE' AND business_date < $1`, olderThan)
	if err != nil {
		return 0, errs.New(errs.KindInternal, "", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) PurgeArchivedBatches(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM batches WHERE status = 'ARCHIVED' AND archived_at < $1`, olderThan)
	if err != nil {
		return 0, errs.New(errs.KindInternal, "", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Position reads --------------------------------------------------------

func (s *PostgresStore) GetActivePositions(ctx context.Context, accountID string) ([]types.Position, error) {
	var positions []types.Position
	err := s.db.SelectContext(ctx, &positions, `
		SELECT p.account_id, p.product_id, p.business_date, p.batch_id, p.quantity, p.price,
			p.currency, p.market_value, p.source, p.system_from, p.system_to
		FROM positions p
		JOIN batches b ON b.account_id = p.account_id AND b.batch_id = p.batch_id
		WHERE p.account_id = $1 AND b.status = 'ACTIVE'`, accountID)
	if err != nil {
		return nil, errs.New(errs.KindInternal, accountID, err)
	}
	return positions, nil
}

func (s *PostgresStore) GetPositionsAsOf(ctx context.Context, accountID string, businessDate time.Time) ([]types.Position, error) {
	var positions []types.Position
	err := s.db.SelectContext(ctx, &positions, `
		SELECT account_id, product_id, business_date, batch_id, quantity, price,
			currency, market_value, source, system_from, system_to
		FROM positions
		WHERE account_id = $1 AND business_date = $2
			AND system_from <= now() AND system_to > now()`, accountID, businessDate)
	if err != nil {
		return nil, errs.New(errs.KindInternal, accountID, err)
	}
	return positions, nil
}

// GetQuantityAsOf answers the bitemporal "as of (businessDate, systemTime)"
// query: the row in force at systemTime is the one whose validity window
// [systemFrom, systemTo) contains it, never the row current "now".
func (s *PostgresStore) GetQuantityAsOf(ctx context.Context, accountID, productID string, businessDate, systemTime time.Time) (float64, error) {
	var quantity float64
	err := s.db.GetContext(ctx, &quantity, `
		SELECT quantity
		FROM positions
		WHERE account_id = $1 AND product_id = $2 AND business_date = $3
			AND system_from <= $4 AND system_to > $4`, accountID, productID, businessDate, systemTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errs.New(errs.KindNotFound, accountID, fmt.Errorf("no position for %s/%s as of %s", accountID, productID, systemTime))
	}
	if err != nil {
		return 0, errs.New(errs.KindInternal, accountID, err)
	}
	return quantity, nil
}

// AdjustPosition writes a single manually-corrected row: it closes the
// current row's validity window and inserts a replacement, never mutating
// history in place (the bitemporal invariant this store maintains).
func (s *PostgresStore) AdjustPosition(ctx context.Context, accountID string, p types.Position) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE positions SET system_to = now()
			WHERE account_id = $1 AND product_id = $2 AND batch_id = $3 AND system_to = 'infinity'`,
			accountID, p.ProductID, p.BatchID); err != nil {
			return errs.New(errs.KindInternal, accountID, err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO positions
				(account_id, product_id, business_date, batch_id, quantity, price,
				 currency, market_value, source, system_from, system_to)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), 'infinity')`,
			accountID, p.ProductID, p.BusinessDate, p.BatchID, p.Quantity, p.Price,
			p.Currency, p.MarketValue, types.SourceManualUpload)
		if err != nil {
			return errs.New(errs.KindInternal, accountID, err)
		}
		return nil
	})
}

// --- EOD status --------------------------------------------------------

func (s *PostgresStore) GetEodStatus(ctx context.Context, accountID string, businessDate time.Time) (*types.EodStatus, error) {
	var st types.EodStatus
	err := s.db.GetContext(ctx, &st, `
		SELECT account_id, business_date, status, started_at, completed_at, position_count, last_error, skip_reason
		FROM eod_status WHERE account_id = $1 AND business_date = $2`, accountID, businessDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, accountID, err)
	}
	if err != nil {
		return nil, errs.New(errs.KindInternal, accountID, err)
	}
	return &st, nil
}

func (s *PostgresStore) UpsertEodStatus(ctx context.Context, st *types.EodStatus) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO eod_status (account_id, business_date, status, started_at, completed_at, position_count, last_error, skip_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id, business_date) DO UPDATE SET
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			position_count = EXCLUDED.position_count,
			last_error = EXCLUDED.last_error,
			skip_reason = EXCLUDED.skip_reason`,
		st.AccountID, st.BusinessDate, st.Status, st.StartedAt, st.CompletedAt,
		st.PositionCount, st.LastError, st.SkipReason)
	if err != nil {
		return errs.New(errs.KindInternal, st.AccountID, err)
	}
	return nil
}

func (s *PostgresStore) ListEodStatusesForDate(ctx context.Context, businessDate time.Time) ([]*types.EodStatus, error) {
	var statuses []*types.EodStatus
	err := s.db.SelectContext(ctx, &statuses, `
		SELECT account_id, business_date, status, started_at, completed_at, position_count, last_error, skip_reason
		FROM eod_status WHERE business_date = $1 ORDER BY account_id`, businessDate)
	if err != nil {
		return nil, errs.New(errs.KindInternal, "", err)
	}
	return statuses, nil
}

// --- Duplicate detection --------------------------------------------------------

func (s *PostgresStore) GetSnapshotHash(ctx context.Context, accountID string, businessDate time.Time) (*types.SnapshotHash, error) {
	var h types.SnapshotHash
	err := s.db.GetContext(ctx, &h, `
		SELECT account_id, business_date, content_hash, position_count, total_quantity, total_market_value, stored_at
		FROM snapshot_hashes WHERE account_id = $1 AND business_date = $2`, accountID, businessDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, accountID, err)
	}
	if err != nil {
		return nil, errs.New(errs.KindInternal, accountID, err)
	}
	return &h, nil
}

func (s *PostgresStore) SaveSnapshotHash(ctx context.Context, h *types.SnapshotHash) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO snapshot_hashes (account_id, business_date, content_hash, position_count, total_quantity, total_market_value, stored_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (account_id, business_date) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			position_count = EXCLUDED.position_count,
			total_quantity = EXCLUDED.total_quantity,
			total_market_value = EXCLUDED.total_market_value,
			stored_at = now()`,
		h.AccountID, h.BusinessDate, h.ContentHash, h.PositionCount, h.TotalQuantity, h.TotalMarketValue)
	if err != nil {
		return errs.New(errs.KindInternal, h.AccountID, err)
	}
	return nil
}

// --- Calendar --------------------------------------------------------

func (s *PostgresStore) IsBusinessDay(ctx context.Context, date time.Time) (bool, error) {
	if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
		return false, nil
	}
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT count(*) FROM holidays WHERE holiday_date = $1`, date)
	if err != nil {
		return false, errs.New(errs.KindInternal, "", err)
	}
	return count == 0, nil
}

func (s *PostgresStore) ListHolidays(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	var dates []time.Time
	err := s.db.SelectContext(ctx, &dates, `
		SELECT holiday_date FROM holidays WHERE holiday_date BETWEEN $1 AND $2 ORDER BY holiday_date`, from, to)
	if err != nil {
		return nil, errs.New(errs.KindInternal, "", err)
	}
	return dates, nil
}
