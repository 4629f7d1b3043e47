package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a ledger balance keyed by an opaque, namespace-prefixed caller identity.
type Account struct {
	ID      string
	Balance decimal.Decimal // settled, never negative
}

// AddressBinding ties a deposit address to the account it was issued for.
type AddressBinding struct {
	Account  string
	Address  string // unique across accounts
	IssuedAt time.Time
}

// Expired reports whether the binding is older than the rotation window at now.
func (b AddressBinding) Expired(now time.Time, rotation time.Duration) bool {
	return !b.IssuedAt.Add(rotation).After(now)
}

// AccountKey builds an account id from a caller namespace and its user id,
// e.g. AccountKey("twitter", "12345") == "twitter-12345".
func AccountKey(namespace, userID string) string {
	return namespace + "-" + userID
}
