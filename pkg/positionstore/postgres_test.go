package positionstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerbase/posloader/pkg/errs"
)

var errQueryFailed = errors.New("connection reset")

// newMockStore wraps a go-sqlmock connection in the sqlx handle the
// read-path queries run through, without a pgx pool — only the sqlx-backed
// read methods are exercisable this way, since the write paths go through
// PostgresStore.pool via pgx's native Tx, which sqlmock cannot intercept.
func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return &PostgresStore{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func TestPostgresStore_GetAccount(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "client_id", "base_currency", "name", "created_at", "updated_at"}).
		AddRow("ACC1", "CLIENT1", "USD", "Main Account", now, now)
	mock.ExpectQuery("SELECT id, client_id, base_currency, name, created_at, updated_at").
		WithArgs("ACC1").
		WillReturnRows(rows)

	account, err := store.GetAccount(context.Background(), "ACC1")
	require.NoError(t, err)
	require.Equal(t, "ACC1", account.ID)
	require.Equal(t, "CLIENT1", account.ClientID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAccount_QueryError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, client_id, base_currency, name, created_at, updated_at").
		WithArgs("NOBODY").
		WillReturnError(errQueryFailed)

	_, err := store.GetAccount(context.Background(), "NOBODY")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAllAccounts(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "client_id", "base_currency", "name", "created_at", "updated_at"}).
		AddRow("ACC1", "CLIENT1", "USD", "A", now, now).
		AddRow("ACC2", "CLIENT2", "EUR", "B", now, now)
	mock.ExpectQuery("SELECT id, client_id, base_currency, name, created_at, updated_at").
		WillReturnRows(rows)

	accounts, err := store.ListAllAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAccountsByClient_QueryError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, client_id, base_currency, name, created_at, updated_at").
		WithArgs("CLIENT1").
		WillReturnError(errQueryFailed)

	_, err := store.ListAccountsByClient(context.Background(), "CLIENT1")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetQuantityAsOf(t *testing.T) {
	store, mock := newMockStore(t)
	businessDate := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	systemTime := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"quantity"}).AddRow(100.0)
	mock.ExpectQuery("SELECT quantity").
		WithArgs("ACC1", "AAPL", businessDate, systemTime).
		WillReturnRows(rows)

	qty, err := store.GetQuantityAsOf(context.Background(), "ACC1", "AAPL", businessDate, systemTime)
	require.NoError(t, err)
	require.Equal(t, 100.0, qty)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetQuantityAsOf_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	businessDate := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	systemTime := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT quantity").
		WithArgs("ACC1", "AAPL", businessDate, systemTime).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetQuantityAsOf(context.Background(), "ACC1", "AAPL", businessDate, systemTime)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}
