package reconcile

import "errors"

var (
	ErrAlreadyProcessed = errors.New("external event already processed")
	ErrUnknownEventKind = errors.New("unknown external event kind")
	ErrBadPayload       = errors.New("malformed external event payload")
)
