package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// LedgerStore opens exclusive, all-or-nothing transactions against the ledger tables.
type LedgerStore interface {
	Begin(ctx context.Context) (LedgerTx, error)
}

// LedgerTx exposes the ledger primitives available inside one transaction.
// A LedgerTx must be finished with exactly one of Commit or Rollback.
type LedgerTx interface {
	EnsureAccount(ctx context.Context, account string) error
	Balance(ctx context.Context, account string) (decimal.Decimal, error)
	// AdjustBalance fails with models.ErrInvariantViolation if the result would be negative.
	AdjustBalance(ctx context.Context, account string, delta decimal.Decimal) (decimal.Decimal, error)
	PendingValue(ctx context.Context, account string, since time.Time) (decimal.Decimal, error)

	LatestAddress(ctx context.Context, account string) (*models.AddressBinding, error)
	BindAddress(ctx context.Context, binding models.AddressBinding) error
	AddressesByAccount(ctx context.Context, account string) ([]models.AddressBinding, error)
	AccountByAddress(ctx context.Context, address string) (string, bool, error)

	NotificationExists(ctx context.Context, txid string) (bool, error)
	InsertNotification(ctx context.Context, n models.DepositNotification) error
	PendingTxIDs(ctx context.Context, since time.Time) ([]string, error)
	PendingNotifications(ctx context.Context, txid string) ([]models.DepositNotification, error)
	SetNotificationState(ctx context.Context, txid string, from, to models.ConfirmationState) (int, error)

	InsertWithdrawal(ctx context.Context, w models.WithdrawalRequest) error
	ClaimPendingWithdrawals(ctx context.Context, batchID uuid.UUID, now time.Time) ([]models.WithdrawalRequest, error)
	WithdrawalsByBatch(ctx context.Context, batchID uuid.UUID) ([]models.WithdrawalRequest, error)
	FinishWithdrawal(ctx context.Context, id uuid.UUID, status models.WithdrawalStatus, paymentTxID string, now time.Time) error
	StaleWithdrawals(ctx context.Context, claimedBefore time.Time) ([]models.WithdrawalRequest, error)

	Commit() error
	Rollback() error
}
