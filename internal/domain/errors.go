package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrInvalidEvent   = errors.New("invalid trade event")
	ErrInvalidTrade   = errors.New("invalid trade parameters")
	ErrLedgerConflict = errors.New("ledger conflict")
	ErrLockHeld       = errors.New("lock already held")
)

// InvalidEventError describes why a trade event can never be applied. It
// unwraps to ErrInvalidEvent.
type InvalidEventError struct {
	TradeID string
	Field   string
	Reason  string
}

func (e *InvalidEventError) Error() string {
	if e.TradeID == "" {
		return fmt.Sprintf("invalid trade event: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid trade event %s: %s: %s", e.TradeID, e.Field, e.Reason)
}

func (e *InvalidEventError) Unwrap() error { return ErrInvalidEvent }

// Invalid builds an InvalidEventError for the given field.
func Invalid(tradeID, field, reason string) error {
	return &InvalidEventError{TradeID: tradeID, Field: field, Reason: reason}
}
