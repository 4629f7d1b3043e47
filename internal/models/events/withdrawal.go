package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicWithdrawalRequested = "ledger.withdrawal_requested"
	TopicWithdrawalCompleted = "ledger.withdrawal_completed"
	TopicWithdrawalRefunded  = "ledger.withdrawal_refunded"
)

// WithdrawalEvent is published for every state change of a withdrawal request.
// PaymentTxID is empty unless the batch payout succeeded.
type WithdrawalEvent struct {
	EventID      string          `json:"event_id"`
	WithdrawalID string          `json:"withdrawal_id"`
	Account      string          `json:"account"`
	Address      string          `json:"address"`
	Amount       decimal.Decimal `json:"amount"`
	Status       string          `json:"status"`
	PaymentTxID  string          `json:"payment_txid,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}
