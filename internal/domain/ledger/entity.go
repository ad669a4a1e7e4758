package ledger

import (
	"time"

	"github.com/google/uuid"
)

// EntryKind classifies a balance movement. The kind decides whether a
// negative delta may be rejected: usage debits must not drive the balance
// below zero, refunds and bonuses always apply.
type EntryKind string

const (
	EntryKindPurchase EntryKind = "purchase"
	EntryKindUsage    EntryKind = "usage"
	EntryKindRefund   EntryKind = "refund"
	EntryKindBonus    EntryKind = "bonus"
)

// Balance is a user's prepaid minute balance. Version increases on every
// applied delta so readers can observe mutation order.
type Balance struct {
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Minutes   int64     `db:"minutes" json:"minutes"`
	Version   int64     `db:"version" json:"version"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Entry is one applied balance delta. The (user_id, idempotency_key) pair
// is unique: replaying a key returns the original outcome instead of
// mutating again.
type Entry struct {
	ID             uuid.UUID `db:"id" json:"id"`
	UserID         uuid.UUID `db:"user_id" json:"user_id"`
	Delta          int64     `db:"delta" json:"delta"`
	Kind           EntryKind `db:"kind" json:"kind"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key"`
	BalanceAfter   int64     `db:"balance_after" json:"balance_after"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ApplyResult reports the outcome of a delta application.
type ApplyResult struct {
	NewBalance int64 `json:"new_balance"`
	// Applied is false when the idempotency key had already been used;
	// the balance was left untouched.
	Applied bool `json:"applied"`
	// Shortfall is the part of a clamped debit that exceeded the
	// available balance. Zero for regular applies.
	Shortfall int64 `json:"shortfall,omitempty"`
}

func (k EntryKind) creditOnFloor() bool {
	return k == EntryKindRefund || k == EntryKindBonus
}
