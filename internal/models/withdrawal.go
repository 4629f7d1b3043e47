package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalStatus is the lifecycle state of a payout request.
type WithdrawalStatus int

const (
	WithdrawalRefunded  WithdrawalStatus = -1
	WithdrawalPending   WithdrawalStatus = 0
	WithdrawalCompleted WithdrawalStatus = 1
)

func (s WithdrawalStatus) String() string {
	switch s {
	case WithdrawalRefunded:
		return "refunded"
	case WithdrawalPending:
		return "pending"
	case WithdrawalCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// WithdrawalRequest is a payout ask whose amount was debited when it was created.
// BatchID is set once a payout cycle has claimed the row; PaymentTxID once it was paid.
type WithdrawalRequest struct {
	ID          uuid.UUID
	Account     string
	Address     string
	Amount      decimal.Decimal
	Status      WithdrawalStatus
	BatchID     *uuid.UUID
	PaymentTxID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
