package notification

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Type classifies a notification event.
type Type string

const (
	TypeLowBalance        Type = "low_balance"
	TypeCriticalBalance   Type = "critical_balance"
	TypeSessionEnded      Type = "session_ended"
	TypePurchaseCompleted Type = "purchase_completed"
)

// Notification is a stored per-user event, mirrored best-effort as a push.
type Notification struct {
	ID        uuid.UUID      `db:"id" json:"id"`
	UserID    uuid.UUID      `db:"user_id" json:"user_id"`
	Type      Type           `db:"type" json:"type"`
	Title     string         `db:"title" json:"title"`
	Body      sql.NullString `db:"body" json:"body,omitempty"`
	IsRead    bool           `db:"is_read" json:"is_read"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// DeviceToken is a push target registered by a client device.
type DeviceToken struct {
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Token     string    `db:"token" json:"token"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
