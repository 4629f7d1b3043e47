package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AmountPlaces is the number of fractional digits every ledger amount carries.
const AmountPlaces = 8

// Quantize truncates d toward zero to AmountPlaces fractional digits.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(AmountPlaces)
}

// FormatAmount renders d with at most eight decimals and no trailing zeros,
// so 4.50000000 becomes "4.5" and 2.00000000 becomes "2".
func FormatAmount(d decimal.Decimal) string {
	s := Quantize(d).StringFixed(AmountPlaces)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}
