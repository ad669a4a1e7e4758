package parking

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/parkpay/parkpay-api/internal/domain/ledger"
	"github.com/parkpay/parkpay-api/internal/middleware"
	"github.com/parkpay/parkpay-api/internal/pkg/jwt"
	"github.com/parkpay/parkpay-api/internal/pkg/response"
	"github.com/parkpay/parkpay-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type startRequest struct {
	Location string `json:"location" validate:"required"`
	Spot     string `json:"spot"`
}

type endRequest struct {
	EndedBy string `json:"ended_by" validate:"omitempty,ended_by"`
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req startRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if details := validator.ValidateStruct(req); details != nil {
		response.ValidationError(w, details)
		return
	}

	sess, err := h.svc.Start(r.Context(), userID, req.Location, req.Spot)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientBalance):
			// Actionable: the client routes to the purchase flow.
			response.PaymentRequired(w, "INSUFFICIENT_BALANCE", "Not enough minutes to start parking, top up your balance first")
		case errors.Is(err, ErrSessionAlreadyActive):
			response.Conflict(w, "SESSION_ALREADY_ACTIVE", "You already have an active parking session")
		default:
			response.InternalError(w)
		}
		return
	}

	response.Created(w, sess)
}

func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	sess, err := h.svc.Active(r.Context(), userID)
	if err != nil {
		response.InternalError(w)
		return
	}
	response.OK(w, map[string]interface{}{"active_session": sess})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, offset := parsePagination(r)
	sessions, err := h.svc.History(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}
	if sessions == nil {
		sessions = []*Session{}
	}
	response.WithMeta(w, sessions, response.Meta{Total: len(sessions), Limit: limit, Offset: offset})
}

func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid session id")
		return
	}
	if !h.authorize(w, r, sessionID) {
		return
	}

	var req endRequest
	// Body is optional; an empty body means ended by the caller themselves.
	_ = response.DecodeJSON(r.Body, &req)
	if details := validator.ValidateStruct(req); details != nil {
		response.ValidationError(w, details)
		return
	}

	sess, err := h.svc.End(r.Context(), sessionID, endedByFor(middleware.GetRole(r.Context()), req.EndedBy))
	if err != nil {
		h.closeError(w, err)
		return
	}
	response.OK(w, sess)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid session id")
		return
	}

	if !h.authorize(w, r, sessionID) {
		return
	}

	sess, err := h.svc.Cancel(r.Context(), sessionID)
	if err != nil {
		h.closeError(w, err)
		return
	}
	response.OK(w, sess)
}

// endedByFor derives the audit attribution from the caller's role. Drivers
// always end as themselves regardless of what the body claims; only admins
// may attribute a close to someone else.
func endedByFor(role, requested string) EndedBy {
	switch role {
	case jwt.RoleGuard:
		return EndedByGuard
	case jwt.RoleAdmin:
		if requested != "" {
			return EndedBy(requested)
		}
	}
	return EndedByUser
}

// authorize hides sessions that do not belong to the caller. Guards and
// admins may close any session. Not-found is returned instead of forbidden
// so session ids cannot be probed.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID) bool {
	role := middleware.GetRole(r.Context())
	if role == jwt.RoleGuard || role == jwt.RoleAdmin {
		return true
	}

	sess, err := h.svc.Get(r.Context(), sessionID)
	if err != nil {
		h.closeError(w, err)
		return false
	}
	if sess.UserID != middleware.GetUserID(r.Context()) {
		response.NotFound(w, "session not found")
		return false
	}
	return true
}

func (h *Handler) closeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		response.NotFound(w, "session not found")
	case errors.Is(err, ErrInvalidTransition):
		response.Conflict(w, "INVALID_TRANSITION", "session is not in a state that allows this operation")
	case errors.Is(err, ErrCancelWindowClosed):
		response.Conflict(w, "CANCEL_WINDOW_CLOSED", "session has been running too long to cancel, end it instead")
	default:
		response.InternalError(w)
	}
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/", h.Start)
	r.Get("/", h.History)
	r.Get("/active", h.Active)
	r.Post("/{id}/end", h.End)
	r.Post("/{id}/cancel", h.Cancel)
	return r
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
