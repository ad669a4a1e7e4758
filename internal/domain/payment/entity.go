package payment

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Type classifies what a transaction did to the balance.
type Type string

const (
	TypePurchase Type = "purchase"
	TypeRefund   Type = "refund"
	TypeUsage    Type = "usage"
	TypeBonus    Type = "bonus"
)

// Method is how the user paid.
type Method string

const (
	MethodTransfer Method = "transfer"
	MethodCash     Method = "cash"
	MethodCard     Method = "card"
)

// Status is the transaction state machine:
// pending -> {completed, failed, cancelled}. Terminal states reject all
// further transitions; the balance is credited exactly once, on the
// pending -> completed edge.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are legal.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo enforces transition legality centrally.
func (s Status) CanTransitionTo(to Status) bool {
	if s != StatusPending {
		return false
	}
	return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
}

// Transaction is a payment transaction. Never deleted; the table is the
// audit trail.
type Transaction struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	UserID      uuid.UUID      `db:"user_id" json:"user_id"`
	Type        Type           `db:"type" json:"type"`
	Method      Method         `db:"method" json:"method"`
	AmountCents int64          `db:"amount_cents" json:"amount_cents"`
	Currency    string         `db:"currency" json:"currency"`
	Minutes     int64          `db:"minutes" json:"minutes"`
	Status      Status         `db:"status" json:"status"`
	Reference   sql.NullString `db:"reference" json:"reference,omitempty"`
	// ExternalRef is the provider payment-intent id; unique, so a webhook
	// resolves to exactly one transaction.
	ExternalRef  sql.NullString `db:"external_ref" json:"external_ref,omitempty"`
	CancelReason sql.NullString `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	CompletedAt  sql.NullTime   `db:"completed_at" json:"completed_at,omitempty"`
}

// Package is a purchasable minute bundle from the catalog store.
type Package struct {
	ID         string `db:"id" json:"id"`
	Minutes    int64  `db:"minutes" json:"minutes"`
	PriceCents int64  `db:"price_cents" json:"price_cents"`
	Currency   string `db:"currency" json:"currency"`
}
