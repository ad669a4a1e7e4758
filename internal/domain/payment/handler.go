package payment

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

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

type purchaseRequest struct {
	PackageID string `json:"package_id" validate:"required"`
	Method    string `json:"method" validate:"required,payment_method"`
	Reference string `json:"reference"`
	// MethodRef is the provider payment-method id, required for card.
	MethodRef string `json:"method_ref" validate:"required_if=Method card"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req purchaseRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if details := validator.ValidateStruct(req); details != nil {
		response.ValidationError(w, details)
		return
	}

	t, err := h.svc.InitiatePurchase(r.Context(), userID, req.PackageID, Method(req.Method), req.Reference, req.MethodRef)
	if err != nil {
		switch {
		case errors.Is(err, ErrPackageNotFound):
			response.NotFound(w, "unknown minute package")
		case errors.Is(err, ErrPaymentAuthDenied):
			response.PaymentRequired(w, "PAYMENT_AUTH_DENIED", "The card was declined by the payment provider")
		default:
			response.InternalError(w)
		}
		return
	}

	response.Created(w, t)
}

// Complete settles a pending transfer/cash transaction. Admin only: manual
// settlement after the money showed up.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	transactionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid transaction id")
		return
	}

	t, err := h.svc.Complete(r.Context(), transactionID, transactionID.String())
	if err != nil {
		h.transitionError(w, err)
		return
	}
	response.OK(w, t)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	transactionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid transaction id")
		return
	}

	if !h.authorize(w, r, transactionID) {
		return
	}

	var req cancelRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if details := validator.ValidateStruct(req); details != nil {
		response.ValidationError(w, details)
		return
	}

	t, err := h.svc.Cancel(r.Context(), transactionID, req.Reason)
	if err != nil {
		h.transitionError(w, err)
		return
	}
	response.OK(w, t)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, offset := parsePagination(r)
	txs, err := h.svc.History(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}
	if txs == nil {
		txs = []*Transaction{}
	}
	response.WithMeta(w, txs, response.Meta{Total: len(txs), Limit: limit, Offset: offset})
}

func (h *Handler) Packages(w http.ResponseWriter, r *http.Request) {
	packages, err := h.svc.Packages(r.Context())
	if err != nil {
		response.InternalError(w)
		return
	}
	response.OK(w, packages)
}

// authorize hides transactions that do not belong to the caller. Admins may
// act on any transaction. Not-found instead of forbidden so ids cannot be
// probed.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, transactionID uuid.UUID) bool {
	if middleware.GetRole(r.Context()) == jwt.RoleAdmin {
		return true
	}

	t, err := h.svc.Get(r.Context(), transactionID)
	if err != nil {
		h.transitionError(w, err)
		return false
	}
	if t.UserID != middleware.GetUserID(r.Context()) {
		response.NotFound(w, "transaction not found")
		return false
	}
	return true
}

func (h *Handler) transitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		response.NotFound(w, "transaction not found")
	case errors.Is(err, ErrInvalidTransition):
		response.Conflict(w, "INVALID_TRANSITION", "transaction is already in a terminal state")
	default:
		response.InternalError(w)
	}
}

func (h *Handler) Routes(authMiddleware, adminMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/packages", h.Packages)
	r.Post("/purchase", h.Purchase)
	r.Get("/", h.History)
	r.Post("/{id}/cancel", h.Cancel)
	r.Group(func(r chi.Router) {
		r.Use(adminMiddleware)
		r.Post("/{id}/complete", h.Complete)
	})
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
