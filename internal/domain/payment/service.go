package payment

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/parkpay/parkpay-api/internal/domain/ledger"
)

// Gateway authorizes card payments with the external provider. Signature
// verification of provider webhooks lives behind the reconcile handler, not
// here.
type Gateway interface {
	AuthorizeCard(ctx context.Context, amountCents int64, currency, methodRef string) (approved bool, externalRef string, err error)
}

// Notifier receives fire-and-forget events after a credit has committed.
type Notifier interface {
	PurchaseCompleted(ctx context.Context, userID uuid.UUID, minutes, balanceAfter int64)
}

// Service is the transaction processor: it validates and executes purchase
// transactions against the ledger, enforcing the status state machine.
type Service struct {
	repo     *Repository
	ledger   *ledger.Store
	gateway  Gateway
	notifier Notifier
}

func NewService(repo *Repository, store *ledger.Store, gateway Gateway, notifier Notifier) *Service {
	return &Service{repo: repo, ledger: store, gateway: gateway, notifier: notifier}
}

// InitiatePurchase resolves a catalog package and creates the transaction.
// Transfer and cash purchases stay pending until an operator or webhook
// completes them. Card purchases drive a synchronous authorization round
// trip and come back already completed.
func (s *Service) InitiatePurchase(ctx context.Context, userID uuid.UUID, packageID string, method Method, reference, methodRef string) (*Transaction, error) {
	pkg, err := s.repo.PackageByID(ctx, packageID)
	if err != nil {
		return nil, err
	}

	t := &Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        TypePurchase,
		Method:      method,
		AmountCents: pkg.PriceCents,
		Currency:    pkg.Currency,
		Minutes:     pkg.Minutes,
		Status:      StatusPending,
	}
	if reference != "" {
		t.Reference = sql.NullString{String: reference, Valid: true}
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}

	log.Info().
		Str("transaction_id", t.ID.String()).
		Str("user_id", userID.String()).
		Str("package_id", packageID).
		Str("method", string(method)).
		Int64("minutes", pkg.Minutes).
		Msg("purchase initiated")

	if method != MethodCard {
		return t, nil
	}
	return s.authorizeCard(ctx, t, methodRef)
}

// authorizeCard runs the synchronous card round trip. The pending row is
// written first so the pending -> completed edge is the only code path that
// ever credits the balance, for every method.
func (s *Service) authorizeCard(ctx context.Context, t *Transaction, methodRef string) (*Transaction, error) {
	approved, externalRef, err := s.gateway.AuthorizeCard(ctx, t.AmountCents, t.Currency, methodRef)
	if err != nil {
		// Transport failure: the transaction stays pending, the
		// provider webhook settles it later.
		return nil, err
	}
	if externalRef != "" {
		if err := s.repo.SetExternalRef(ctx, t.ID, externalRef); err != nil {
			return nil, err
		}
		t.ExternalRef = sql.NullString{String: externalRef, Valid: true}
	}

	if !approved {
		if err := s.fail(ctx, t.ID); err != nil {
			return nil, err
		}
		return nil, ErrPaymentAuthDenied
	}

	return s.Complete(ctx, t.ID, t.ID.String())
}

// Complete transitions pending -> completed and credits the minutes, in one
// store transaction. Idempotent on the transaction id: a second call
// returns the already-completed record without double-crediting.
func (s *Service) Complete(ctx context.Context, transactionID uuid.UUID, idempotencyKey string) (*Transaction, error) {
	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	t, res, err := s.CompleteTx(ctx, tx, transactionID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if res != nil && res.Applied {
		s.NotifyCompleted(ctx, t, res.NewBalance)
	}
	return t, nil
}

// CompleteTx is the caller-transaction variant used by the reconciliation
// coordinator. The returned ApplyResult is nil on an idempotent replay.
func (s *Service) CompleteTx(ctx context.Context, tx *sqlx.Tx, transactionID uuid.UUID, idempotencyKey string) (*Transaction, *ledger.ApplyResult, error) {
	if idempotencyKey == "" {
		idempotencyKey = transactionID.String()
	}

	t, err := s.repo.GetByIDTx(ctx, tx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	if t.Status == StatusCompleted {
		log.Debug().Str("transaction_id", transactionID.String()).Msg("complete replayed on completed transaction")
		return t, nil, nil
	}
	if !t.Status.CanTransitionTo(StatusCompleted) {
		return nil, nil, ErrInvalidTransition
	}

	swapped, err := s.repo.TransitionTx(ctx, tx, transactionID, StatusCompleted)
	if err != nil {
		return nil, nil, err
	}
	if !swapped {
		// Lost the race against a concurrent complete or cancel; observe
		// the terminal state the winner left behind.
		settled, err := s.repo.GetByIDTx(ctx, tx, transactionID)
		if err != nil {
			return nil, nil, err
		}
		if settled.Status == StatusCompleted {
			return settled, nil, nil
		}
		return nil, nil, ErrInvalidTransition
	}

	res, err := s.ledger.ApplyDeltaTx(ctx, tx, t.UserID, t.Minutes, ledger.EntryKindPurchase, idempotencyKey)
	if err != nil {
		return nil, nil, err
	}

	t.Status = StatusCompleted
	t.CompletedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	log.Info().
		Str("transaction_id", transactionID.String()).
		Str("user_id", t.UserID.String()).
		Int64("minutes", t.Minutes).
		Int64("balance", res.NewBalance).
		Msg("purchase completed, balance credited")
	return t, res, nil
}

// Cancel transitions pending -> cancelled. A transaction that already
// completed cannot be cancelled; the CAS makes exactly one of a racing
// complete/cancel pair win.
func (s *Service) Cancel(ctx context.Context, transactionID uuid.UUID, reason string) (*Transaction, error) {
	t, err := s.repo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !t.Status.CanTransitionTo(StatusCancelled) {
		return nil, ErrInvalidTransition
	}

	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	swapped, err := s.repo.CancelTx(ctx, tx, transactionID, reason)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, ErrInvalidTransition
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	t.Status = StatusCancelled
	t.CancelReason = sql.NullString{String: reason, Valid: true}
	log.Info().
		Str("transaction_id", transactionID.String()).
		Str("reason", reason).
		Msg("purchase cancelled")
	return t, nil
}

// FailTx transitions pending -> failed inside a caller-owned transaction.
// A transaction that already failed is a no-op replay; completed or
// cancelled is an illegal edge.
func (s *Service) FailTx(ctx context.Context, tx *sqlx.Tx, transactionID uuid.UUID) (*Transaction, error) {
	t, err := s.repo.GetByIDTx(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusFailed {
		return t, nil
	}
	if !t.Status.CanTransitionTo(StatusFailed) {
		return nil, ErrInvalidTransition
	}

	swapped, err := s.repo.TransitionTx(ctx, tx, transactionID, StatusFailed)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, ErrInvalidTransition
	}
	t.Status = StatusFailed
	return t, nil
}

func (s *Service) fail(ctx context.Context, transactionID uuid.UUID) error {
	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := s.repo.TransitionTx(ctx, tx, transactionID, StatusFailed); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Service) Get(ctx context.Context, transactionID uuid.UUID) (*Transaction, error) {
	return s.repo.GetByID(ctx, transactionID)
}

func (s *Service) GetByExternalRef(ctx context.Context, externalRef string) (*Transaction, error) {
	return s.repo.GetByExternalRef(ctx, externalRef)
}

func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Transaction, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) Packages(ctx context.Context) ([]*Package, error) {
	return s.repo.Packages(ctx)
}

// NotifyCompleted publishes the post-commit event for a completion that
// happened inside a caller-owned transaction.
func (s *Service) NotifyCompleted(ctx context.Context, t *Transaction, balanceAfter int64) {
	if s.notifier == nil {
		return
	}
	s.notifier.PurchaseCompleted(ctx, t.UserID, t.Minutes, balanceAfter)
}
