package reconcile

import (
	"encoding/json"
	"time"

	"github.com/parkpay/parkpay-api/internal/domain/parking"
	"github.com/parkpay/parkpay-api/internal/domain/payment"
)

// EventKind identifies what an external event asks the system to do.
type EventKind string

const (
	KindPaymentConfirmed EventKind = "payment.confirmed"
	KindPaymentFailed    EventKind = "payment.failed"
	KindSessionEnded     EventKind = "session.ended"
)

// OutcomeStatus summarizes what reconciling one external event did.
type OutcomeStatus string

const (
	// OutcomeApplied: the event was consumed and its effect is committed.
	OutcomeApplied OutcomeStatus = "applied"
	// OutcomeAlreadyApplied: duplicate delivery, nothing was re-mutated.
	// This is a normal idempotency signal, not an error.
	OutcomeAlreadyApplied OutcomeStatus = "already_applied"
	// OutcomeRejected: the event was consumed but the target had already
	// reached a conflicting terminal state (e.g. confirming a cancelled
	// transaction). Retrying cannot change this.
	OutcomeRejected OutcomeStatus = "rejected"
)

// Outcome reports the reconciliation result with the affected record.
type Outcome struct {
	Status      OutcomeStatus        `json:"status"`
	Transaction *payment.Transaction `json:"transaction,omitempty"`
	Session     *parking.Session     `json:"session,omitempty"`
}

// ProcessedEvent is the idempotency ledger row for external events. It is
// keyed by the provider's event id, deliberately disjoint from the
// transaction/session idempotency keys: the same external event must map to
// the same internal key on retry.
type ProcessedEvent struct {
	ExternalEventID string          `db:"external_event_id" json:"external_event_id"`
	Kind            EventKind       `db:"kind" json:"kind"`
	Payload         json.RawMessage `db:"payload" json:"payload"`
	ProcessedAt     time.Time       `db:"processed_at" json:"processed_at"`
}

// paymentPayload addresses a transaction by internal id or provider ref.
type paymentPayload struct {
	TransactionID string `json:"transaction_id"`
	ExternalRef   string `json:"external_ref"`
}

// sessionPayload addresses a session by internal id or its QR token.
type sessionPayload struct {
	SessionID string `json:"session_id"`
	QRToken   string `json:"qr_token"`
}
