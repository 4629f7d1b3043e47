package ledger_test

import (
	"context"
	"errors"
	"testing"

	interfaces "github.com/sheikh-saqib/coin-tip-ledger/internal/interfaces"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/ledger"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSerialization = errors.New("could not serialize access due to concurrent update")

// flakyStore fails the commit of the first failures transactions.
type flakyStore struct {
	interfaces.LedgerStore
	failures int
	begins   int
}

func (s *flakyStore) Begin(ctx context.Context) (interfaces.LedgerTx, error) {
	s.begins++
	tx, err := s.LedgerStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if s.failures > 0 {
		s.failures--
		return &failingCommitTx{LedgerTx: tx}, nil
	}
	return tx, nil
}

type failingCommitTx struct {
	interfaces.LedgerTx
}

func (tx *failingCommitTx) Commit() error {
	_ = tx.LedgerTx.Rollback()
	return errSerialization
}

func credit(account, amount string) ledger.TxFunc {
	return func(ctx context.Context, tx interfaces.LedgerTx) error {
		_, err := tx.AdjustBalance(ctx, account, dec(amount))
		return err
	}
}

func TestExecuteRetriesUntilCommit(t *testing.T) {
	mem := memory.NewMemoryLedgerStore()
	store := &flakyStore{LedgerStore: mem, failures: 2}
	exec := ledger.NewExecutor(store, 5, nil)

	err := exec.Execute(context.Background(), "credit", credit("A", "1"))
	require.NoError(t, err)
	assert.Equal(t, 3, store.begins)
	requireDecimal(t, "1", mem.Snapshot().Accounts["A"])
}

func TestExecuteGivesUpWithContention(t *testing.T) {
	mem := memory.NewMemoryLedgerStore()
	store := &flakyStore{LedgerStore: mem, failures: 100}
	exec := ledger.NewExecutor(store, 5, nil)

	err := exec.Execute(context.Background(), "credit", credit("A", "1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStoreContention)
	assert.ErrorIs(t, err, errSerialization)
	assert.Equal(t, 5, store.begins)
	assert.Empty(t, mem.Snapshot().Accounts)
}

func TestExecuteKeepsKindOfLastError(t *testing.T) {
	store := &flakyStore{LedgerStore: memory.NewMemoryLedgerStore()}
	exec := ledger.NewExecutor(store, 3, nil)

	err := exec.Execute(context.Background(), "rpc", func(ctx context.Context, tx interfaces.LedgerTx) error {
		return models.NewError(models.KindExternalCallFailure, "getnewaddress", errors.New("connection refused"))
	})
	assert.ErrorIs(t, err, models.ErrExternalCallFailure)
	assert.NotErrorIs(t, err, models.ErrStoreContention)
	assert.Equal(t, 3, store.begins)
}

func TestExecuteDoesNotRetryTerminalErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"user facing", models.Errorf(models.KindInsufficientFunds, "move", "broke")},
		{"invariant", models.Errorf(models.KindInvariantViolation, "adjust", "negative")},
		{"canceled", context.Canceled},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &flakyStore{LedgerStore: memory.NewMemoryLedgerStore()}
			exec := ledger.NewExecutor(store, 5, nil)

			err := exec.Execute(context.Background(), "op", func(ctx context.Context, tx interfaces.LedgerTx) error {
				return tc.err
			})
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, 1, store.begins)
		})
	}
}

func TestExecuteRollsBackOnError(t *testing.T) {
	mem := memory.NewMemoryLedgerStore()
	exec := ledger.NewExecutor(mem, 5, nil)

	err := exec.Execute(context.Background(), "partial", func(ctx context.Context, tx interfaces.LedgerTx) error {
		if _, err := tx.AdjustBalance(ctx, "A", dec("5")); err != nil {
			return err
		}
		return models.Errorf(models.KindBelowMinimum, "partial", "stop")
	})
	require.Error(t, err)
	assert.Empty(t, mem.Snapshot().Accounts)
}

func TestExecuteRollsBackOnPanic(t *testing.T) {
	mem := memory.NewMemoryLedgerStore()
	exec := ledger.NewExecutor(mem, 5, nil)

	assert.Panics(t, func() {
		_ = exec.Execute(context.Background(), "boom", func(ctx context.Context, tx interfaces.LedgerTx) error {
			_, _ = tx.AdjustBalance(ctx, "A", dec("5"))
			panic("boom")
		})
	})

	// the store must be usable again and hold nothing from the panicked attempt
	require.NoError(t, exec.Execute(context.Background(), "after", credit("B", "1")))
	snap := mem.Snapshot()
	_, ok := snap.Accounts["A"]
	assert.False(t, ok)
	requireDecimal(t, "1", snap.Accounts["B"])
}

func TestExecuteStopsOnCanceledContext(t *testing.T) {
	store := &flakyStore{LedgerStore: memory.NewMemoryLedgerStore()}
	exec := ledger.NewExecutor(store, 5, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := exec.Execute(ctx, "op", credit("A", "1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.begins)
}

func TestExecuteDoesNotCommitAfterCancellation(t *testing.T) {
	store := memory.NewMemoryLedgerStore()
	exec := ledger.NewExecutor(store, 5, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := exec.Execute(ctx, "op", func(ctx context.Context, tx interfaces.LedgerTx) error {
		if _, err := tx.AdjustBalance(ctx, "A", dec("1")); err != nil {
			return err
		}
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, store.Snapshot().TotalBalance().IsZero())
}

func TestInvariantViolationIsNotRetried(t *testing.T) {
	store := &flakyStore{LedgerStore: memory.NewMemoryLedgerStore()}
	exec := ledger.NewExecutor(store, 5, nil)

	err := exec.Execute(context.Background(), "overdraw", credit("A", "-1"))
	assert.ErrorIs(t, err, models.ErrInvariantViolation)
	assert.Equal(t, 1, store.begins)
}
