package domain

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Terminal errors are surfaced verbatim to the caller. ErrStoreUnavailable
// wraps transient store failures and may be retried by the caller;
// ErrStateConflict means a conditional write lost a race and the caller
// should re-fetch before acting again.
var (
	ErrInvalidDate    = errors.New("date must be in the future")
	ErrInvalidPrice   = errors.New("price must be greater than zero")
	ErrInvalidPayment = errors.New("payment method must be pix or dinheiro")
	ErrEmptyContent   = errors.New("message content is empty")
	ErrMissingReason  = errors.New("rejection reason is required")

	ErrForbidden    = errors.New("actor is not allowed to perform this operation")
	ErrInvalidState = errors.New("operation not allowed in the current state")
	ErrChatLocked   = errors.New("conversation is locked")

	ErrStateConflict    = errors.New("row was changed by a concurrent writer")
	ErrNotFound         = errors.New("record not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsInvalidInput groups the validation errors for status-code mapping.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrInvalidPayment) ||
		errors.Is(err, ErrEmptyContent) ||
		errors.Is(err, ErrMissingReason)
}

// WrapStore converts a gorm error into the taxonomy: not-found stays a
// terminal ErrNotFound, everything else is a transient store failure.
func WrapStore(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
