package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCommitPublishesChanges(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	bal, err := tx.AdjustBalance(ctx, "A", d("2.5"))
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("2.5")))

	// uncommitted work is invisible
	assert.Empty(t, store.current.accounts)

	require.NoError(t, tx.Commit())
	assert.True(t, store.Snapshot().Accounts["A"].Equal(d("2.5")))
}

func TestRollbackDiscardsChanges(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.EnsureAccount(ctx, "A"))
	require.NoError(t, tx.BindAddress(ctx, models.AddressBinding{Account: "A", Address: "addr1", IssuedAt: time.Now()}))
	require.NoError(t, tx.Rollback())

	snap := store.Snapshot()
	assert.Empty(t, snap.Accounts)
	assert.Empty(t, snap.Addresses)
}

func TestFinishedTransaction(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.ErrorIs(t, tx.Commit(), errTxDone)
	assert.NoError(t, tx.Rollback())

	// the lock was released exactly once
	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx2.Rollback())
}

func TestBeginWaitsForHolder(t *testing.T) {
	store := NewMemoryLedgerStore()

	tx, err := store.Begin(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = store.Begin(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, tx.Rollback())
	tx, err = store.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
}

func TestAdjustBalanceRefusesNegative(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.AdjustBalance(ctx, "A", d("1"))
	require.NoError(t, err)
	_, err = tx.AdjustBalance(ctx, "A", d("-1.00000001"))
	assert.ErrorIs(t, err, models.ErrInvariantViolation)

	bal, err := tx.Balance(ctx, "A")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("1")))
}

func TestAddressBindings(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	latest, err := tx.LatestAddress(ctx, "A")
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, tx.BindAddress(ctx, models.AddressBinding{Account: "A", Address: "a1", IssuedAt: t0}))
	require.NoError(t, tx.BindAddress(ctx, models.AddressBinding{Account: "A", Address: "a2", IssuedAt: t0.Add(time.Hour)}))
	assert.Error(t, tx.BindAddress(ctx, models.AddressBinding{Account: "B", Address: "a1", IssuedAt: t0}))

	latest, err = tx.LatestAddress(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "a2", latest.Address)

	owner, ok, err := tx.AccountByAddress(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A", owner)

	_, ok, err = tx.AccountByAddress(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNotifications(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a, b := "A", "B"

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	rows := []models.DepositNotification{
		{ID: uuid.New(), TxID: "tx2", Vout: 0, ObservedAt: t0, State: models.StatePending, Account: &a, Value: d("1")},
		{ID: uuid.New(), TxID: "tx2", Vout: 1, ObservedAt: t0, State: models.StatePending, Account: &b, Value: d("2")},
		{ID: uuid.New(), TxID: "tx1", Vout: 0, ObservedAt: t0.Add(time.Minute), State: models.StatePending, Account: &a, Value: d("4")},
		{ID: uuid.New(), TxID: "old", Vout: 0, ObservedAt: t0.Add(-time.Hour), State: models.StatePending, Account: &a, Value: d("8")},
		{ID: uuid.New(), TxID: "foreign", Vout: models.NoOutput, ObservedAt: t0, State: models.StateUnattributed},
	}
	for _, n := range rows {
		require.NoError(t, tx.InsertNotification(ctx, n))
	}

	dup := rows[0]
	dup.ID = uuid.New()
	assert.ErrorIs(t, tx.InsertNotification(ctx, dup), models.ErrInvariantViolation)

	// the same output may pay a second account
	other := rows[0]
	other.ID = uuid.New()
	other.Account = &b
	require.NoError(t, tx.InsertNotification(ctx, other))

	exists, err := tx.NotificationExists(ctx, "foreign")
	require.NoError(t, err)
	assert.True(t, exists)

	since := t0.Add(-time.Minute)
	txids, err := tx.PendingTxIDs(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, []string{"tx1", "tx2"}, txids)

	pending, err := tx.PendingValue(ctx, "A", since)
	require.NoError(t, err)
	assert.True(t, pending.Equal(d("5")), "got %s", pending)

	n, err := tx.SetNotificationState(ctx, "tx2", models.StatePending, models.StateSettled)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	left, err := tx.PendingNotifications(ctx, "tx2")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestWithdrawalLifecycle(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	w := models.WithdrawalRequest{ID: uuid.New(), Account: "A", Address: "dest", Amount: d("1"), Status: models.WithdrawalPending, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, tx.InsertWithdrawal(ctx, w))

	batch := uuid.New()
	claimed, err := tx.ClaimPendingWithdrawals(ctx, batch, t0)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	again, err := tx.ClaimPendingWithdrawals(ctx, uuid.New(), t0)
	require.NoError(t, err)
	assert.Empty(t, again)

	stale, err := tx.StaleWithdrawals(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	inBatch, err := tx.WithdrawalsByBatch(ctx, batch)
	require.NoError(t, err)
	require.Len(t, inBatch, 1)

	require.NoError(t, tx.FinishWithdrawal(ctx, w.ID, models.WithdrawalCompleted, "paytx", t0))
	assert.Error(t, tx.FinishWithdrawal(ctx, w.ID, models.WithdrawalRefunded, "", t0))
	assert.Error(t, tx.FinishWithdrawal(ctx, uuid.New(), models.WithdrawalCompleted, "", t0))

	stale, err = tx.StaleWithdrawals(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, stale)
}
