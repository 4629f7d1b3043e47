package ledger

import (
	"context"
	"strings"

	interfaces "github.com/sheikh-saqib/coin-tip-ledger/internal/interfaces"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// AmountAll is the amount spec that means the whole settled balance.
const AmountAll = "all"

// resolveAmount turns an amount spec into a concrete amount that account can
// afford. Amounts below minimum, and anything not above zero, are rejected.
func resolveAmount(ctx context.Context, tx interfaces.LedgerTx, op, account, spec string, minimum decimal.Decimal) (decimal.Decimal, error) {
	balance, err := tx.Balance(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}

	spec = strings.TrimSpace(spec)

	var amount decimal.Decimal
	if strings.EqualFold(spec, AmountAll) {
		amount = balance
	} else {
		parsed, err := decimal.NewFromString(spec)
		if err != nil {
			return decimal.Zero, models.NewError(models.KindInvalidAmount, op, err)
		}
		amount = models.Quantize(parsed)
	}

	if !amount.IsPositive() {
		return decimal.Zero, models.Errorf(models.KindBelowMinimum, op, "amount %s is not positive", amount)
	}
	if amount.LessThan(minimum) {
		return decimal.Zero, models.Errorf(models.KindBelowMinimum, op, "amount %s is below minimum %s", amount, minimum)
	}
	if balance.LessThan(amount) {
		return decimal.Zero, models.Errorf(models.KindInsufficientFunds, op, "balance %s is less than %s", balance, amount)
	}
	return amount, nil
}
