package parking

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Status is the session state machine: none -> active -> {completed, cancelled}.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are legal.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo enforces transition legality centrally instead of ad-hoc
// status checks at call sites.
func (s Status) CanTransitionTo(to Status) bool {
	return s == StatusActive && (to == StatusCompleted || to == StatusCancelled)
}

// EndedBy records who closed a session.
type EndedBy string

const (
	EndedByUser   EndedBy = "user"
	EndedByGuard  EndedBy = "guard"
	EndedBySystem EndedBy = "system"
)

// Session is a parking session. Cost fields are derived at close and never
// mutated afterwards; a non-active session is immutable.
type Session struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	UserID           uuid.UUID      `db:"user_id" json:"user_id"`
	Location         string         `db:"location" json:"location"`
	Spot             sql.NullString `db:"spot" json:"spot,omitempty"`
	Status           Status         `db:"status" json:"status"`
	StartTime        time.Time      `db:"start_time" json:"start_time"`
	EndTime          sql.NullTime   `db:"end_time" json:"end_time,omitempty"`
	DurationMinutes  sql.NullInt64  `db:"duration_minutes" json:"duration_minutes,omitempty"`
	CostCents        sql.NullInt64  `db:"cost_cents" json:"cost_cents,omitempty"`
	ShortfallMinutes int64          `db:"shortfall_minutes" json:"shortfall_minutes,omitempty"`
	EndedBy          sql.NullString `db:"ended_by" json:"ended_by,omitempty"`
	QRToken          string         `db:"qr_token" json:"qr_token"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// BillableMinutes rounds elapsed time up to whole minutes. Minute
// granularity is the billing unit; sub-second precision is irrelevant.
func BillableMinutes(start, end time.Time) int64 {
	elapsed := end.Sub(start)
	if elapsed <= 0 {
		return 0
	}
	secs := int64(elapsed.Seconds())
	if elapsed%time.Second > 0 {
		secs++
	}
	return (secs + 59) / 60
}

// newQRToken returns a fresh token bound to one session. Rendering the
// token as a QR image is the client's job.
func newQRToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(buf)
}
