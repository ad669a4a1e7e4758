package user

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Role represents a user role in the system, stored as plain text.
type Role string

const (
	RoleDriver Role = "driver"
	RoleGuard  Role = "guard"
	RoleAdmin  Role = "admin"
)

// User is a profile record. The ledger reads it for display and
// notification routing but never mutates it; profile management lives in
// the identity service.
type User struct {
	ID         uuid.UUID      `db:"id" json:"id"`
	Name       string         `db:"name" json:"name"`
	Phone      sql.NullString `db:"phone" json:"phone,omitempty"`
	Role       Role           `db:"role" json:"role"`
	ArchivedAt sql.NullTime   `db:"archived_at" json:"archived_at,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}
