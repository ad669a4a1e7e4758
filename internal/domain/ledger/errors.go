package ledger

import "errors"

var (
	ErrInvalidDelta        = errors.New("delta must be non-zero")
	ErrMissingKey          = errors.New("idempotency key is required")
	ErrInsufficientBalance = errors.New("insufficient minute balance")
	ErrEntryConflict       = errors.New("idempotency key already used with a different delta")
)
