package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transfer represents a completed move of funds between two ledger accounts
type Transfer struct {
	ID          string
	FromAccount string
	ToAccount   string
	Amount      decimal.Decimal
	CreatedAt   time.Time
}
