package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/parkpay/parkpay-api/internal/config"
	"github.com/parkpay/parkpay-api/internal/domain/ledger"
	"github.com/parkpay/parkpay-api/internal/domain/parking"
	"github.com/parkpay/parkpay-api/internal/domain/user"
)

// View is the composed "me" screen: who the user is, what they have left,
// and whether a session is burning minutes right now.
type View struct {
	UserID          uuid.UUID        `json:"user_id"`
	Name            string           `json:"name"`
	BalanceMinutes  int64            `json:"balance_minutes"`
	LowBalance      bool             `json:"low_balance"`
	CriticalBalance bool             `json:"critical_balance"`
	ActiveSession   *parking.Session `json:"active_session,omitempty"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

const (
	viewCacheTTL  = 10 * time.Second
	keyPrefixView = "view:"
)

// Service composes the balance, session, and profile reads behind a single
// call. Redis is optional; with a nil client every read hits Postgres.
type Service struct {
	users   *user.Repository
	ledger  *ledger.Store
	parking *parking.Repository
	redis   *redis.Client
	policy  config.Policy
}

func NewService(users *user.Repository, ledgerStore *ledger.Store, parkingRepo *parking.Repository, redisClient *redis.Client, policy config.Policy) *Service {
	return &Service{
		users:   users,
		ledger:  ledgerStore,
		parking: parkingRepo,
		redis:   redisClient,
		policy:  policy,
	}
}

// GetUserView returns the composed view, served from cache when fresh.
// The cache TTL is short enough that a just-ended session or a fresh
// top-up shows up within seconds.
func (s *Service) GetUserView(ctx context.Context, userID uuid.UUID) (*View, error) {
	if cached := s.fromCache(ctx, userID); cached != nil {
		return cached, nil
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, user.ErrNotFound
		}
		return nil, err
	}

	bal, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	active, err := s.parking.GetActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := &View{
		UserID:          userID,
		Name:            u.Name,
		BalanceMinutes:  bal.Minutes,
		LowBalance:      bal.Minutes < s.policy.LowBalanceMinutes,
		CriticalBalance: bal.Minutes < s.policy.CriticalBalanceMinutes,
		ActiveSession:   active,
		GeneratedAt:     time.Now().UTC(),
	}

	s.toCache(ctx, userID, view)
	return view, nil
}

// Invalidate drops the cached view after a balance mutation. The
// notification dispatcher calls it on every mutation event so the user
// reads their own write; the TTL covers everything else.
func (s *Service) Invalidate(ctx context.Context, userID uuid.UUID) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, keyPrefixView+userID.String()).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("view cache invalidation failed")
	}
}

func (s *Service) fromCache(ctx context.Context, userID uuid.UUID) *View {
	if s.redis == nil {
		return nil
	}
	raw, err := s.redis.Get(ctx, keyPrefixView+userID.String()).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Msg("view cache read failed")
		}
		return nil
	}
	var view View
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		return nil
	}
	return &view
}

func (s *Service) toCache(ctx context.Context, userID uuid.UUID, view *View) {
	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, keyPrefixView+userID.String(), raw, viewCacheTTL).Err(); err != nil {
		log.Warn().Err(err).Msg("view cache write failed")
	}
}
