package parking

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/parkpay/parkpay-api/internal/config"
	"github.com/parkpay/parkpay-api/internal/domain/ledger"
)

// Notifier receives fire-and-forget events after a ledger mutation has
// committed. Implementations must never fail the caller.
type Notifier interface {
	SessionEnded(ctx context.Context, userID, sessionID uuid.UUID, durationMinutes, billedMinutes int64)
	BalanceChanged(ctx context.Context, userID uuid.UUID, balance int64)
}

// Service is the session engine: it opens, meters and closes parking
// sessions, debiting the ledger on close.
type Service struct {
	repo     *Repository
	ledger   *ledger.Store
	policy   config.Policy
	notifier Notifier
}

func NewService(repo *Repository, store *ledger.Store, policy config.Policy, notifier Notifier) *Service {
	return &Service{repo: repo, ledger: store, policy: policy, notifier: notifier}
}

// Start opens a session after a balance policy check. The one-active-per-user
// invariant itself is enforced by the store, not by this pre-check.
func (s *Service) Start(ctx context.Context, userID uuid.UUID, location, spot string) (*Session, error) {
	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance.Minutes < s.policy.MinStartMinutes {
		return nil, ledger.ErrInsufficientBalance
	}

	sess := &Session{
		ID:        uuid.New(),
		UserID:    userID,
		Location:  location,
		Status:    StatusActive,
		StartTime: time.Now().UTC(),
		QRToken:   newQRToken(),
	}
	if spot != "" {
		sess.Spot = sql.NullString{String: spot, Valid: true}
	}

	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("session_id", sess.ID.String()).
		Str("location", location).
		Msg("parking session started")
	return sess, nil
}

// Active returns the user's active session, or nil. Pure read.
func (s *Service) Active(ctx context.Context, userID uuid.UUID) (*Session, error) {
	return s.repo.GetActiveByUser(ctx, userID)
}

func (s *Service) Get(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	return s.repo.GetByID(ctx, sessionID)
}

func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Session, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) GetByQRToken(ctx context.Context, token string) (*Session, error) {
	return s.repo.GetByQRToken(ctx, token)
}

// End closes a session and debits the elapsed minutes, all in one store
// transaction. Idempotent on the session id: a duplicate call returns the
// already-completed record without touching the balance.
func (s *Service) End(ctx context.Context, sessionID uuid.UUID, endedBy EndedBy) (*Session, error) {
	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	sess, res, err := s.EndTx(ctx, tx, sessionID, endedBy)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if res != nil && res.Applied {
		s.notifyEnded(ctx, sess, res.NewBalance)
	}
	return sess, nil
}

// EndTx is the caller-transaction variant used by the reconciliation
// coordinator, which must record the external event in the same atomic step.
// The returned ApplyResult is nil when the call was a replay of an already
// completed session.
func (s *Service) EndTx(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID, endedBy EndedBy) (*Session, *ledger.ApplyResult, error) {
	sess, err := s.repo.GetByIDTx(ctx, tx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status == StatusCompleted {
		log.Debug().Str("session_id", sessionID.String()).Msg("end replayed on completed session")
		return sess, nil, nil
	}
	if !sess.Status.CanTransitionTo(StatusCompleted) {
		return nil, nil, ErrInvalidTransition
	}

	endTime := time.Now().UTC()
	duration := BillableMinutes(sess.StartTime, endTime)
	rate, err := s.rateFor(ctx, sess.Location)
	if err != nil {
		return nil, nil, err
	}

	// The session id is the idempotency key: a guard double-scan debits
	// only once. Clamped so that closing never fails on a drained balance.
	res, err := s.ledger.ApplyDeltaClampedTx(ctx, tx, sess.UserID, -duration, ledger.EntryKindUsage, sessionID.String())
	if err != nil {
		return nil, nil, err
	}

	cost := duration * rate
	swapped, err := s.repo.CloseTx(ctx, tx, sessionID, StatusCompleted, endTime, duration, cost, res.Shortfall, endedBy)
	if err != nil {
		return nil, nil, err
	}
	if !swapped {
		// Lost the close race: the winner already debited under the same
		// key, so our apply above was a no-op replay. Return its record.
		closed, err := s.repo.GetByIDTx(ctx, tx, sessionID)
		if err != nil {
			return nil, nil, err
		}
		if closed.Status != StatusCompleted {
			return nil, nil, ErrInvalidTransition
		}
		return closed, nil, nil
	}

	sess.Status = StatusCompleted
	sess.EndTime = sql.NullTime{Time: endTime, Valid: true}
	sess.DurationMinutes = sql.NullInt64{Int64: duration, Valid: true}
	sess.CostCents = sql.NullInt64{Int64: cost, Valid: true}
	sess.ShortfallMinutes = res.Shortfall
	sess.EndedBy = sql.NullString{String: string(endedBy), Valid: true}

	log.Info().
		Str("session_id", sessionID.String()).
		Str("user_id", sess.UserID.String()).
		Int64("duration_minutes", duration).
		Int64("cost_cents", cost).
		Int64("shortfall_minutes", res.Shortfall).
		Str("ended_by", string(endedBy)).
		Msg("parking session ended")
	return sess, res, nil
}

// Cancel voids a still-active session with no balance effect. Only allowed
// within the first minute; a session that has run past that has accrued
// billable time and must be ended, not voided.
func (s *Service) Cancel(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.CanTransitionTo(StatusCancelled) {
		return nil, ErrInvalidTransition
	}

	endTime := time.Now().UTC()
	if BillableMinutes(sess.StartTime, endTime) > 1 {
		return nil, ErrCancelWindowClosed
	}

	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	swapped, err := s.repo.CloseTx(ctx, tx, sessionID, StatusCancelled, endTime, 0, 0, 0, EndedByUser)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, ErrInvalidTransition
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	sess.Status = StatusCancelled
	sess.EndTime = sql.NullTime{Time: endTime, Valid: true}
	log.Info().Str("session_id", sessionID.String()).Msg("parking session cancelled")
	return sess, nil
}

// NotifyEnded publishes the post-commit events for a close that happened
// inside a caller-owned transaction.
func (s *Service) NotifyEnded(ctx context.Context, sess *Session, balanceAfter int64) {
	s.notifyEnded(ctx, sess, balanceAfter)
}

func (s *Service) notifyEnded(ctx context.Context, sess *Session, balanceAfter int64) {
	if s.notifier == nil {
		return
	}
	// A shortfall means part of the stay went unbilled, report only what
	// was actually debited.
	s.notifier.SessionEnded(ctx, sess.UserID, sess.ID, sess.DurationMinutes.Int64, sess.DurationMinutes.Int64-sess.ShortfallMinutes)
	s.notifier.BalanceChanged(ctx, sess.UserID, balanceAfter)
}

func (s *Service) rateFor(ctx context.Context, location string) (int64, error) {
	rate, found, err := s.repo.LocationRate(ctx, location)
	if err != nil {
		return 0, err
	}
	if !found {
		return s.policy.DefaultRatePerMinute, nil
	}
	return rate, nil
}
