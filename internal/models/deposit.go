package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ConfirmationState is the lifecycle state of a deposit notification row.
type ConfirmationState int

const (
	StateErrored      ConfirmationState = -1
	StatePending      ConfirmationState = 0
	StateSettled      ConfirmationState = 1
	StateUnattributed ConfirmationState = 2
)

func (s ConfirmationState) String() string {
	switch s {
	case StateErrored:
		return "errored"
	case StatePending:
		return "pending"
	case StateSettled:
		return "settled"
	case StateUnattributed:
		return "unattributed"
	default:
		return "unknown"
	}
}

// NoOutput is the Vout of notification rows that are not tied to an output.
const NoOutput = -1

// DepositNotification records one attribution of a transaction output to an
// account. Account is nil and Vout is NoOutput for errored and unattributed rows.
type DepositNotification struct {
	ID         uuid.UUID
	TxID       string
	Vout       int
	ObservedAt time.Time
	State      ConfirmationState
	Account    *string
	Value      decimal.Decimal
}

// DecodedTx is the subset of a decoded raw transaction the ledger reads.
type DecodedTx struct {
	TxID    string
	Outputs []TxOutput
}

// TxOutput is one vout with every address its script pays to.
type TxOutput struct {
	N         int
	Addresses []string
	Value     decimal.Decimal
}

// WalletTx is the wallet's view of a transaction.
type WalletTx struct {
	TxID          string
	Confirmations int64
}
