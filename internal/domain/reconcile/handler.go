package reconcile

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/parkpay/parkpay-api/internal/domain/parking"
	"github.com/parkpay/parkpay-api/internal/domain/payment"
	"github.com/parkpay/parkpay-api/internal/pkg/response"
	"github.com/parkpay/parkpay-api/internal/pkg/stripegw"
	"github.com/parkpay/parkpay-api/internal/pkg/validator"
)

const maxWebhookBody = 64 << 10

// WebhookVerifier verifies a raw provider event before it reaches the
// coordinator. Signature checking is the gateway's responsibility.
type WebhookVerifier interface {
	ParseWebhook(payload []byte, signatureHeader string) (*stripegw.WebhookEvent, error)
}

type Handler struct {
	svc      *Service
	verifier WebhookVerifier
}

func NewHandler(svc *Service, verifier WebhookVerifier) *Handler {
	return &Handler{svc: svc, verifier: verifier}
}

// StripeWebhook receives provider notifications. Anything that fails
// verification is rejected; anything the ledger does not care about is
// acknowledged untouched so the provider stops redelivering it.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "unreadable body")
		return
	}
	defer r.Body.Close()

	event, err := h.verifier.ParseWebhook(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		log.Warn().Err(err).Msg("webhook signature verification failed")
		response.BadRequest(w, "invalid webhook signature")
		return
	}
	if event.Kind == "" {
		response.OK(w, map[string]string{"status": "ignored"})
		return
	}

	outcome, err := h.svc.Reconcile(r.Context(), event.ID, EventKind(event.Kind), event.Payload)
	if err != nil {
		h.reconcileError(w, err)
		return
	}
	response.OK(w, outcome)
}

type guardScanRequest struct {
	// EventID is the scan's unique id minted on the guard device, so a
	// double-tap or network retry maps to one reconciliation.
	EventID string `json:"event_id" validate:"required"`
	QRToken string `json:"qr_token" validate:"required"`
}

// GuardScan handles a guard device reporting a scanned session QR. Ends
// the session through the coordinator so delayed or duplicated scans stay
// at-most-once.
func (h *Handler) GuardScan(w http.ResponseWriter, r *http.Request) {
	var req guardScanRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if details := validator.ValidateStruct(req); details != nil {
		response.ValidationError(w, details)
		return
	}

	payload, _ := json.Marshal(sessionPayload{QRToken: req.QRToken})
	outcome, err := h.svc.Reconcile(r.Context(), "guard-scan:"+req.EventID, KindSessionEnded, payload)
	if err != nil {
		h.reconcileError(w, err)
		return
	}
	response.OK(w, outcome)
}

func (h *Handler) reconcileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadPayload), errors.Is(err, ErrUnknownEventKind):
		response.BadRequest(w, "malformed event")
	case errors.Is(err, parking.ErrUnknownQRToken):
		response.NotFound(w, "unknown qr token")
	case errors.Is(err, parking.ErrSessionNotFound), errors.Is(err, payment.ErrTransactionNotFound):
		// Possibly out-of-order delivery; the sender retries with backoff.
		response.ServiceUnavailable(w)
	default:
		response.InternalError(w)
	}
}

// WebhookRoutes mounts the provider-facing endpoints. No auth middleware:
// authenticity comes from the webhook signature.
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/stripe", h.StripeWebhook)
	return r
}

// GuardRoutes mounts the guard-device endpoints.
func (h *Handler) GuardRoutes(authMiddleware, guardMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(guardMiddleware)
	r.Post("/scan", h.GuardScan)
	return r
}
