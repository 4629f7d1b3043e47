package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const TopicDepositSettled = "ledger.deposit_settled"

type DepositSettled struct {
	EventID        string          `json:"event_id"`
	NotificationID string          `json:"notification_id"`
	TxID           string          `json:"txid"`
	Account        string          `json:"account"`
	Value          decimal.Decimal `json:"value"`
	Confirmations  int64           `json:"confirmations"`
	OccurredAt     time.Time       `json:"occurred_at"`
}
