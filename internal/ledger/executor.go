package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	interfaces "github.com/sheikh-saqib/coin-tip-ledger/internal/interfaces"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/metrics"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"
	"go.uber.org/zap"
)

// DefaultMaxAttempts bounds how many times Execute runs an operation.
const DefaultMaxAttempts = 5

// TxFunc is a unit of work run inside one store transaction.
type TxFunc func(ctx context.Context, tx interfaces.LedgerTx) error

// Executor runs units of work in exclusive store transactions and retries
// them when the attempt fails for a reason another attempt could fix.
type Executor struct {
	store       interfaces.LedgerStore
	maxAttempts int
	logger      *zap.Logger
}

// NewExecutor creates an Executor over store. A maxAttempts of zero or less
// means DefaultMaxAttempts.
func NewExecutor(store interfaces.LedgerStore, maxAttempts int, logger *zap.Logger) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		store:       store,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Execute runs fn in a fresh transaction per attempt. The transaction is
// committed when fn returns nil and rolled back on every other exit,
// including a panic inside fn. Terminal errors return after the first
// attempt; anything else is retried immediately up to the attempt bound.
func (e *Executor) Execute(ctx context.Context, op string, fn TxFunc) error {
	start := time.Now()
	defer func() {
		metrics.TxLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		err := e.attempt(ctx, fn)
		if err == nil {
			metrics.TxAttempts.WithLabelValues(op, "committed").Inc()
			return nil
		}
		if isTerminal(err) {
			metrics.TxAttempts.WithLabelValues(op, "rejected").Inc()
			return err
		}

		metrics.TxAttempts.WithLabelValues(op, "retried").Inc()
		lastErr = err
		e.logger.Warn("transaction attempt failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.maxAttempts),
			zap.Error(err),
		)
	}

	metrics.TxFailures.WithLabelValues(op).Inc()
	e.logger.Error("transaction retries exhausted", zap.String("op", op), zap.Error(lastErr))

	if models.KindOf(lastErr) != models.KindUnknown {
		return fmt.Errorf("%s: gave up after %d attempts: %w", op, e.maxAttempts, lastErr)
	}
	return models.NewError(models.KindStoreContention, op,
		fmt.Errorf("gave up after %d attempts: %w", e.maxAttempts, lastErr))
}

func (e *Executor) attempt(ctx context.Context, fn TxFunc) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			e.logger.Warn("rollback failed", zap.Error(rbErr))
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	// a canceled caller never commits, whatever the store does with ctx
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// isTerminal reports whether retrying err could not change the outcome.
func isTerminal(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	kind := models.KindOf(err)
	return kind.UserFacing() || kind == models.KindInvariantViolation
}
