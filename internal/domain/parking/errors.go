package parking

import "errors"

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionAlreadyActive = errors.New("an active session already exists for this user")
	ErrInvalidTransition    = errors.New("illegal session state transition")
	ErrCancelWindowClosed   = errors.New("session has accrued billable time and can only be ended")
	ErrUnknownQRToken       = errors.New("unknown qr token")
)
