package reconcile

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/parkpay/parkpay-api/internal/domain/ledger"
	"github.com/parkpay/parkpay-api/internal/domain/parking"
	"github.com/parkpay/parkpay-api/internal/domain/payment"
)

// Service is the reconciliation coordinator. It sits between external
// asynchronous confirmations (provider webhooks, delayed guard scans) and
// the transaction processor / session engine, applying each external event
// at most once.
type Service struct {
	repo     *Repository
	store    *ledger.Store
	payments *payment.Service
	sessions *parking.Service
}

func NewService(repo *Repository, store *ledger.Store, payments *payment.Service, sessions *parking.Service) *Service {
	return &Service{repo: repo, store: store, payments: payments, sessions: sessions}
}

// Reconcile applies one external event. The processed-event record and the
// downstream effect are written in a single store transaction; replaying
// the same event id any number of times returns AlreadyApplied without
// re-mutating anything.
//
// State is always re-read at apply time inside the transaction, never
// cached across the async boundary, so out-of-order delivery resolves
// against current truth.
func (s *Service) Reconcile(ctx context.Context, externalEventID string, kind EventKind, payload json.RawMessage) (*Outcome, error) {
	if externalEventID == "" {
		return nil, ErrBadPayload
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.repo.MarkProcessedTx(ctx, tx, externalEventID, kind, payload); err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			// Normal duplicate delivery, not an incident.
			log.Debug().Str("external_event_id", externalEventID).Msg("external event replayed")
			return &Outcome{Status: OutcomeAlreadyApplied}, nil
		}
		return nil, err
	}

	switch kind {
	case KindPaymentConfirmed:
		return s.confirmPayment(ctx, tx, payload)
	case KindPaymentFailed:
		return s.failPayment(ctx, tx, payload)
	case KindSessionEnded:
		return s.endSession(ctx, tx, payload)
	default:
		return nil, ErrUnknownEventKind
	}
}

func (s *Service) confirmPayment(ctx context.Context, tx *sqlx.Tx, payload json.RawMessage) (*Outcome, error) {
	transactionID, err := s.resolveTransaction(ctx, payload)
	if err != nil {
		// Unknown transactions are not consumed: the event may simply
		// have outrun our own write, and the provider will redeliver.
		return nil, err
	}

	t, res, err := s.payments.CompleteTx(ctx, tx, transactionID, transactionID.String())
	if errors.Is(err, payment.ErrInvalidTransition) {
		// Terminal conflict (e.g. cancelled before confirmation landed);
		// consume the event, retries cannot change the answer.
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &Outcome{Status: OutcomeRejected}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if res != nil && res.Applied {
		s.payments.NotifyCompleted(ctx, t, res.NewBalance)
	}
	return &Outcome{Status: OutcomeApplied, Transaction: t}, nil
}

func (s *Service) failPayment(ctx context.Context, tx *sqlx.Tx, payload json.RawMessage) (*Outcome, error) {
	transactionID, err := s.resolveTransaction(ctx, payload)
	if err != nil {
		return nil, err
	}

	t, err := s.payments.FailTx(ctx, tx, transactionID)
	if errors.Is(err, payment.ErrInvalidTransition) {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &Outcome{Status: OutcomeRejected}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Outcome{Status: OutcomeApplied, Transaction: t}, nil
}

func (s *Service) endSession(ctx context.Context, tx *sqlx.Tx, payload json.RawMessage) (*Outcome, error) {
	var p sessionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, ErrBadPayload
	}

	var sessionID uuid.UUID
	switch {
	case p.SessionID != "":
		id, err := uuid.Parse(p.SessionID)
		if err != nil {
			return nil, ErrBadPayload
		}
		sessionID = id
	case p.QRToken != "":
		sess, err := s.sessions.GetByQRToken(ctx, p.QRToken)
		if err != nil {
			return nil, err
		}
		sessionID = sess.ID
	default:
		return nil, ErrBadPayload
	}

	sess, res, err := s.sessions.EndTx(ctx, tx, sessionID, parking.EndedByGuard)
	if errors.Is(err, parking.ErrInvalidTransition) {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &Outcome{Status: OutcomeRejected}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if res != nil && res.Applied {
		s.sessions.NotifyEnded(ctx, sess, res.NewBalance)
	}
	return &Outcome{Status: OutcomeApplied, Session: sess}, nil
}

func (s *Service) resolveTransaction(ctx context.Context, payload json.RawMessage) (uuid.UUID, error) {
	var p paymentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return uuid.Nil, ErrBadPayload
	}

	if p.TransactionID != "" {
		id, err := uuid.Parse(p.TransactionID)
		if err != nil {
			return uuid.Nil, ErrBadPayload
		}
		return id, nil
	}
	if p.ExternalRef == "" {
		return uuid.Nil, ErrBadPayload
	}

	t, err := s.payments.GetByExternalRef(ctx, p.ExternalRef)
	if err != nil {
		return uuid.Nil, err
	}
	return t.ID, nil
}
