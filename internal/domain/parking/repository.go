package parking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `
	id, user_id, location, spot, status, start_time, end_time,
	duration_minutes, cost_cents, shortfall_minutes, ended_by, qr_token,
	created_at, updated_at`

// Create inserts a new active session. The partial unique index on
// (user_id) WHERE status = 'active' is what guarantees at most one active
// session per user under concurrent starts.
func (r *Repository) Create(ctx context.Context, s *Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO parking_sessions (id, user_id, location, spot, status, start_time, qr_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, s.UserID, s.Location, s.Spot, s.Status, s.StartTime, s.QRToken)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrSessionAlreadyActive
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.getOne(ctx, r.db, `WHERE id = $1`, id)
}

// GetByIDTx reads a session inside a caller-owned transaction.
func (r *Repository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Session, error) {
	return r.getOne(ctx, tx, `WHERE id = $1`, id)
}

func (r *Repository) GetByQRToken(ctx context.Context, token string) (*Session, error) {
	s, err := r.getOne(ctx, r.db, `WHERE qr_token = $1`, token)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrUnknownQRToken
	}
	return s, err
}

// GetActiveByUser returns the user's active session or nil.
func (r *Repository) GetActiveByUser(ctx context.Context, userID uuid.UUID) (*Session, error) {
	s, err := r.getOne(ctx, r.db, `WHERE user_id = $1 AND status = 'active'`, userID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	return s, err
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Session, error) {
	var sessions []*Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT `+sessionColumns+`
		FROM parking_sessions
		WHERE user_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return sessions, err
}

// CloseTx compare-and-swaps the session from active into a terminal state.
// Returns false when the session was not active anymore; the caller rereads
// and decides whether that is an idempotent replay or an illegal edge.
func (r *Repository) CloseTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, to Status, endTime time.Time, durationMinutes, costCents, shortfallMinutes int64, endedBy EndedBy) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE parking_sessions
		SET status = $2, end_time = $3, duration_minutes = $4, cost_cents = $5,
		    shortfall_minutes = $6, ended_by = $7, updated_at = now()
		WHERE id = $1 AND status = 'active'
	`, id, to, endTime, durationMinutes, costCents, shortfallMinutes, string(endedBy))
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// LocationRate returns the per-minute rate in cents for a location, or
// (0, false) when the location carries no rate of its own.
func (r *Repository) LocationRate(ctx context.Context, location string) (int64, bool, error) {
	var rate int64
	err := r.db.GetContext(ctx, &rate, `
		SELECT rate_cents_per_minute FROM parking_locations WHERE name = $1
	`, location)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rate, true, nil
}

func (r *Repository) getOne(ctx context.Context, q sqlx.QueryerContext, where string, arg interface{}) (*Session, error) {
	var s Session
	err := sqlx.GetContext(ctx, q, &s, `
		SELECT `+sessionColumns+`
		FROM parking_sessions
		`+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
