package reconcile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// MarkProcessedTx records an external event as processed inside the same
// transaction that carries its downstream effect, so a crash can never
// separate "recorded" from "applied". A duplicate event id trips the unique
// constraint and maps to ErrAlreadyProcessed.
func (r *Repository) MarkProcessedTx(ctx context.Context, tx *sqlx.Tx, externalEventID string, kind EventKind, payload json.RawMessage) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO processed_external_events (external_event_id, kind, payload)
		VALUES ($1, $2, $3)
	`, externalEventID, string(kind), []byte(payload))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyProcessed
		}
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

// GetProcessed returns the stored record for an external event, or nil.
func (r *Repository) GetProcessed(ctx context.Context, externalEventID string) (*ProcessedEvent, error) {
	var e ProcessedEvent
	err := r.db.GetContext(ctx, &e, `
		SELECT external_event_id, kind, payload, processed_at
		FROM processed_external_events
		WHERE external_event_id = $1
	`, externalEventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
