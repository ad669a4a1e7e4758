package notification

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/parkpay/parkpay-api/internal/config"
	"github.com/parkpay/parkpay-api/internal/pkg/push"
)

// CacheInvalidator drops cached per-user read views after a balance
// mutation. Implemented by the dashboard service.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID)
}

// Dispatcher is the fire-and-forget event sink for ledger mutations. Every
// method is best-effort: a failed insert or push is logged and dropped,
// it never propagates back into the mutation that triggered it.
type Dispatcher struct {
	repo   *Repository
	fcm    *push.FCMClient
	cache  CacheInvalidator
	policy config.Policy
}

// NewDispatcher creates the dispatcher. fcm and cache may be nil (push or
// view caching disabled).
func NewDispatcher(repo *Repository, fcm *push.FCMClient, cache CacheInvalidator, policy config.Policy) *Dispatcher {
	return &Dispatcher{repo: repo, fcm: fcm, cache: cache, policy: policy}
}

// SessionEnded notifies the user their parking session closed. billedMinutes
// may be less than durationMinutes when the balance ran dry mid-session.
func (d *Dispatcher) SessionEnded(ctx context.Context, userID, sessionID uuid.UUID, durationMinutes, billedMinutes int64) {
	d.invalidate(ctx, userID)
	body := fmt.Sprintf("Parked %d min, %d min debited from your balance.", durationMinutes, billedMinutes)
	d.emit(ctx, userID, TypeSessionEnded, "Parking session ended", body, map[string]string{
		"session_id": sessionID.String(),
	})
}

// BalanceChanged emits low/critical balance warnings after a debit.
func (d *Dispatcher) BalanceChanged(ctx context.Context, userID uuid.UUID, balance int64) {
	d.invalidate(ctx, userID)
	switch {
	case balance < d.policy.CriticalBalanceMinutes:
		body := fmt.Sprintf("Only %d minutes left. Top up now to keep parking.", balance)
		d.emit(ctx, userID, TypeCriticalBalance, "Balance critically low", body, nil)
	case balance < d.policy.LowBalanceMinutes:
		body := fmt.Sprintf("%d minutes left on your balance.", balance)
		d.emit(ctx, userID, TypeLowBalance, "Balance running low", body, nil)
	}
}

// PurchaseCompleted notifies the user their minutes arrived.
func (d *Dispatcher) PurchaseCompleted(ctx context.Context, userID uuid.UUID, minutes, balanceAfter int64) {
	d.invalidate(ctx, userID)
	body := fmt.Sprintf("%d minutes added, balance is now %d.", minutes, balanceAfter)
	d.emit(ctx, userID, TypePurchaseCompleted, "Minutes credited", body, nil)
}

func (d *Dispatcher) invalidate(ctx context.Context, userID uuid.UUID) {
	if d.cache != nil {
		d.cache.Invalidate(ctx, userID)
	}
}

func (d *Dispatcher) emit(ctx context.Context, userID uuid.UUID, typ Type, title, body string, data map[string]string) {
	n := &Notification{
		ID:     uuid.New(),
		UserID: userID,
		Type:   typ,
		Title:  title,
	}
	if body != "" {
		n.Body = sql.NullString{String: body, Valid: true}
	}

	if err := d.repo.Create(ctx, n); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Str("type", string(typ)).Msg("notification insert failed")
	}

	if d.fcm == nil {
		return
	}
	tokens, err := d.repo.TokensByUser(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("device token lookup failed")
		return
	}
	for _, token := range tokens {
		msg := &push.PushMessage{Token: token, Title: title, Body: body, Data: data}
		go func(m *push.PushMessage) {
			if err := d.fcm.Send(context.Background(), m); err != nil {
				log.Warn().Err(err).Str("user_id", userID.String()).Msg("push delivery failed")
			}
		}(msg)
	}
}
