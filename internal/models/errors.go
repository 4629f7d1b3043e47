package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of ledger failure categories.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvariantViolation
	KindInvalidAmount
	KindBelowMinimum
	KindInsufficientFunds
	KindSelfTransfer
	KindInvalidAddress
	KindStoreContention
	KindExternalCallFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvariantViolation:
		return "invariant_violation"
	case KindInvalidAmount:
		return "invalid_amount"
	case KindBelowMinimum:
		return "below_minimum"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindSelfTransfer:
		return "self_transfer"
	case KindInvalidAddress:
		return "invalid_address"
	case KindStoreContention:
		return "store_contention"
	case KindExternalCallFailure:
		return "external_call_failure"
	default:
		return "unknown"
	}
}

// UserFacing reports whether the kind is an expected outcome of caller input
// rather than a system failure.
func (k ErrorKind) UserFacing() bool {
	switch k {
	case KindInvalidAmount, KindBelowMinimum, KindInsufficientFunds, KindSelfTransfer, KindInvalidAddress:
		return true
	default:
		return false
	}
}

// LedgerError carries an ErrorKind through wrapping. Two LedgerErrors match
// under errors.Is when their kinds are equal.
type LedgerError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *LedgerError) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

func (e *LedgerError) Is(target error) bool {
	var t *LedgerError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvariantViolation  = &LedgerError{Kind: KindInvariantViolation}
	ErrInvalidAmount       = &LedgerError{Kind: KindInvalidAmount}
	ErrBelowMinimum        = &LedgerError{Kind: KindBelowMinimum}
	ErrInsufficientFunds   = &LedgerError{Kind: KindInsufficientFunds}
	ErrSelfTransfer        = &LedgerError{Kind: KindSelfTransfer}
	ErrInvalidAddress      = &LedgerError{Kind: KindInvalidAddress}
	ErrStoreContention     = &LedgerError{Kind: KindStoreContention}
	ErrExternalCallFailure = &LedgerError{Kind: KindExternalCallFailure}
)

// NewError returns a LedgerError of kind k for operation op.
func NewError(k ErrorKind, op string, err error) *LedgerError {
	return &LedgerError{Kind: k, Op: op, Err: err}
}

// Errorf is NewError with a formatted cause.
func Errorf(k ErrorKind, op, format string, args ...any) *LedgerError {
	return &LedgerError{Kind: k, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first LedgerError in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}
