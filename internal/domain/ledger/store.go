package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Store is the single owner of persisted balance state. All mutations go
// through ApplyDelta; no caller ever reads a balance and writes it back.
//
// Serialization model: the balance row is taken FOR UPDATE, so all deltas
// for one user are totally ordered while different users never contend.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Begin opens a store transaction. Domain services use it to combine a
// delta with their own status writes in one atomic step.
func (s *Store) Begin(ctx context.Context) (*sqlx.Tx, error) {
	return s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

// GetBalance returns the user's balance, creating a zero row on first touch.
func (s *Store) GetBalance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	if err := s.ensureBalance(ctx, s.db, userID); err != nil {
		return nil, fmt.Errorf("ensure balance: %w", err)
	}

	var b Balance
	err := s.db.GetContext(ctx, &b, `
		SELECT user_id, minutes, version, updated_at
		FROM user_balances
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ApplyDelta applies a delta in its own transaction.
func (s *Store) ApplyDelta(ctx context.Context, userID uuid.UUID, delta int64, kind EntryKind, idempotencyKey string) (*ApplyResult, error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := s.ApplyDeltaTx(ctx, tx, userID, delta, kind, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// ApplyDeltaTx applies a delta inside a caller-owned transaction. The
// caller commits; nothing is visible until it does.
func (s *Store) ApplyDeltaTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, delta int64, kind EntryKind, idempotencyKey string) (*ApplyResult, error) {
	if delta == 0 {
		return nil, ErrInvalidDelta
	}
	return s.applyTx(ctx, tx, userID, delta, kind, idempotencyKey, false)
}

// ApplyDeltaClampedTx is the session-close variant: a debit larger than the
// available balance drains it to zero and reports the shortfall instead of
// failing. Closing must never get stuck on an underfunded balance.
func (s *Store) ApplyDeltaClampedTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, delta int64, kind EntryKind, idempotencyKey string) (*ApplyResult, error) {
	return s.applyTx(ctx, tx, userID, delta, kind, idempotencyKey, true)
}

func (s *Store) applyTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, delta int64, kind EntryKind, idempotencyKey string, clamp bool) (*ApplyResult, error) {
	if idempotencyKey == "" {
		return nil, ErrMissingKey
	}

	balance, err := s.lockBalance(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}

	existing, found, err := s.entryByKey(ctx, tx, userID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if found {
		return s.replayResult(existing, delta, clamp, balance.Minutes)
	}

	applied := delta
	shortfall := int64(0)
	next := balance.Minutes + delta
	if next < 0 && !kind.creditOnFloor() {
		if !clamp {
			return nil, ErrInsufficientBalance
		}
		shortfall = -next
		applied = -balance.Minutes
		next = 0
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE user_balances
		SET minutes = $1, version = version + 1, updated_at = now()
		WHERE user_id = $2
	`, next, userID); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	if err := s.insertEntry(ctx, tx, &Entry{
		ID:             uuid.New(),
		UserID:         userID,
		Delta:          applied,
		Kind:           kind,
		IdempotencyKey: idempotencyKey,
		BalanceAfter:   next,
	}); err != nil {
		return nil, err
	}

	log.Debug().
		Str("user_id", userID.String()).
		Int64("delta", applied).
		Int64("balance", next).
		Str("kind", string(kind)).
		Str("idempotency_key", idempotencyKey).
		Msg("balance delta applied")

	return &ApplyResult{NewBalance: next, Applied: true, Shortfall: shortfall}, nil
}

// replayResult resolves a repeated idempotency key. A replay with the same
// requested delta is a no-op; a different delta is a caller bug.
func (s *Store) replayResult(existing *Entry, delta int64, clamp bool, currentBalance int64) (*ApplyResult, error) {
	// A clamped debit may have been recorded smaller than requested, so
	// compare against the request only for exact applies.
	if !clamp && existing.Delta != delta {
		return nil, ErrEntryConflict
	}
	shortfall := int64(0)
	if clamp && delta < existing.Delta {
		// existing.Delta is the clamped (less negative) portion
		shortfall = existing.Delta - delta
	}
	return &ApplyResult{NewBalance: currentBalance, Applied: false, Shortfall: shortfall}, nil
}

func (s *Store) ensureBalance(ctx context.Context, q sqlx.ExecerContext, userID uuid.UUID) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, minutes, version)
		VALUES ($1, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

func (s *Store) lockBalance(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*Balance, error) {
	if err := s.ensureBalance(ctx, tx, userID); err != nil {
		return nil, err
	}

	var b Balance
	err := tx.GetContext(ctx, &b, `
		SELECT user_id, minutes, version, updated_at
		FROM user_balances
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) entryByKey(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, key string) (*Entry, bool, error) {
	var e Entry
	err := tx.GetContext(ctx, &e, `
		SELECT id, user_id, delta, kind, idempotency_key, balance_after, created_at
		FROM ledger_entries
		WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &e, true, nil
}

func (s *Store) insertEntry(ctx context.Context, tx *sqlx.Tx, e *Entry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, delta, kind, idempotency_key, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.UserID, e.Delta, e.Kind, e.IdempotencyKey, e.BalanceAfter)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			// Cannot happen while we hold the row lock, but the
			// constraint is the last line of defense.
			return ErrEntryConflict
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// ListEntries returns the user's ledger statement, newest first.
func (s *Store) ListEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Entry, error) {
	var entries []*Entry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, user_id, delta, kind, idempotency_key, balance_after, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return entries, err
}
