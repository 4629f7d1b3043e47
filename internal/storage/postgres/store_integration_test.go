//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/coinrpc/coinrpctest"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/ledger"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/storage/postgres"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupStore starts a disposable PostgreSQL container, migrates it and
// returns a store on top of it. Everything is torn down with the test.
func setupStore(t *testing.T) *postgres.PostgresLedgerStore {
	t.Helper()
	return postgres.NewPostgresLedgerStore(setupDB(t))
}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := postgres.Open(ctx, postgres.Config{
		URL:             connStr,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
		LockTimeout:     5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, postgres.RunMigrations(ctx, db, nil))
	// a second run is a no-op
	require.NoError(t, postgres.RunMigrations(ctx, db, nil))

	return db
}

func TestMigrationsRefuseDirtySchema(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	var version int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT version FROM schema_migrations").Scan(&version))
	assert.Equal(t, 1, version)

	_, err := db.ExecContext(ctx, "UPDATE schema_migrations SET dirty = true")
	require.NoError(t, err)

	err = postgres.RunMigrations(ctx, db, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dirty database version 1")
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBalanceCheckConstraint(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	bal, err := tx.AdjustBalance(ctx, "A", d("1.5"))
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("1.5")))

	_, err = tx.AdjustBalance(ctx, "A", d("-2"))
	assert.ErrorIs(t, err, models.ErrInvariantViolation)
}

func TestRollbackLeavesNoTrace(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.AdjustBalance(ctx, "A", d("3"))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	bal, err := tx.Balance(ctx, "A")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestLedgerRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	wallet := coinrpctest.NewWallet()
	now := time.Now().UTC()
	l := ledger.NewLedger(store, wallet, ledger.DefaultConfig(), ledger.WithClock(func() time.Time { return now }))

	addr, err := l.GetOrIssueAddress(ctx, "C")
	require.NoError(t, err)
	wallet.AddTransaction("tx1", 6,
		models.TxOutput{Addresses: []string{addr.Address}, Value: d("2")},
		models.TxOutput{Addresses: []string{"foreign"}, Value: d("1")},
	)

	res, err := l.NotifyTransaction(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matches)

	res, err = l.NotifyTransaction(ctx, "tx1")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	b, err := l.GetBalance(ctx, "C")
	require.NoError(t, err)
	assert.True(t, b.Confirming.Equal(d("2")))

	sweep, err := l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Settled)

	moved, err := l.Move(ctx, "C", "D", "0.5")
	require.NoError(t, err)
	assert.True(t, moved.Equal(d("0.5")))

	_, err = l.RequestWithdrawal(ctx, "C", "dest", "all")
	require.NoError(t, err)

	wallet.SendErr = assert.AnError
	batch, err := l.ExecuteWithdrawals(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.BatchRefunded, batch.Outcome)

	b, err = l.GetBalance(ctx, "C")
	require.NoError(t, err)
	assert.True(t, b.Settled.Equal(d("1.5")), "got %s", b.Settled)

	wallet.SendErr = nil
	_, err = l.RequestWithdrawal(ctx, "D", "dest", "0.5")
	require.NoError(t, err)
	batch, err = l.ExecuteWithdrawals(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.BatchCompleted, batch.Outcome)
	assert.NotEmpty(t, batch.PaymentTxID)

	all, err := l.Addresses(ctx, "C")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestWithdrawalClaimIsExclusive(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.EnsureAccount(ctx, "A"))
	require.NoError(t, tx.InsertWithdrawal(ctx, models.WithdrawalRequest{
		ID: uuid.New(), Account: "A", Address: "dest", Amount: d("1"),
		Status: models.WithdrawalPending, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	first, err := tx.ClaimPendingWithdrawals(ctx, uuid.New(), now)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Len(t, first, 1)

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	second, err := tx.ClaimPendingWithdrawals(ctx, uuid.New(), now)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Empty(t, second)

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	stale, err := tx.StaleWithdrawals(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, stale, 1)
}
