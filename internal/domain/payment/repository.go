package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const txColumns = `
	id, user_id, type, method, amount_cents, currency, minutes, status,
	reference, external_ref, cancel_reason, created_at, completed_at`

func (r *Repository) Create(ctx context.Context, t *Transaction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_transactions
			(id, user_id, type, method, amount_cents, currency, minutes, status, reference, external_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.UserID, t.Type, t.Method, t.AmountCents, t.Currency, t.Minutes, t.Status, t.Reference, t.ExternalRef)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return r.getOne(ctx, r.db, `WHERE id = $1`, id)
}

func (r *Repository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Transaction, error) {
	return r.getOne(ctx, tx, `WHERE id = $1`, id)
}

// GetByExternalRef resolves a provider payment-intent id to a transaction.
func (r *Repository) GetByExternalRef(ctx context.Context, externalRef string) (*Transaction, error) {
	return r.getOne(ctx, r.db, `WHERE external_ref = $1`, externalRef)
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Transaction, error) {
	var txs []*Transaction
	err := r.db.SelectContext(ctx, &txs, `
		SELECT `+txColumns+`
		FROM payment_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return txs, err
}

// SetExternalRef records the provider reference on a pending transaction.
func (r *Repository) SetExternalRef(ctx context.Context, id uuid.UUID, externalRef string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payment_transactions SET external_ref = $2 WHERE id = $1
	`, id, externalRef)
	return err
}

// TransitionTx compare-and-swaps the status from pending. Returns false
// when the row was not pending anymore; under a complete/cancel race the
// store guarantees exactly one caller wins.
func (r *Repository) TransitionTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, to Status) (bool, error) {
	var query string
	if to == StatusCompleted {
		query = `
			UPDATE payment_transactions
			SET status = $2, completed_at = now()
			WHERE id = $1 AND status = 'pending'`
	} else {
		query = `
			UPDATE payment_transactions
			SET status = $2
			WHERE id = $1 AND status = 'pending'`
	}

	res, err := tx.ExecContext(ctx, query, id, to)
	if err != nil {
		return false, fmt.Errorf("transition transaction: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// CancelTx compare-and-swaps pending -> cancelled, recording the reason.
func (r *Repository) CancelTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, reason string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE payment_transactions
		SET status = 'cancelled', cancel_reason = $2
		WHERE id = $1 AND status = 'pending'
	`, id, reason)
	if err != nil {
		return false, fmt.Errorf("cancel transaction: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// Packages lists the purchasable minute bundles.
func (r *Repository) Packages(ctx context.Context) ([]*Package, error) {
	var packages []*Package
	err := r.db.SelectContext(ctx, &packages, `
		SELECT id, minutes, price_cents, currency
		FROM minute_packages
		ORDER BY minutes ASC
	`)
	return packages, err
}

func (r *Repository) PackageByID(ctx context.Context, id string) (*Package, error) {
	var p Package
	err := r.db.GetContext(ctx, &p, `
		SELECT id, minutes, price_cents, currency
		FROM minute_packages
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPackageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) getOne(ctx context.Context, q sqlx.QueryerContext, where string, arg interface{}) (*Transaction, error) {
	var t Transaction
	err := sqlx.GetContext(ctx, q, &t, `
		SELECT `+txColumns+`
		FROM payment_transactions
		`+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
