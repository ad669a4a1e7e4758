package stripegw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Event kinds handed to the reconciliation coordinator.
const (
	KindPaymentConfirmed = "payment.confirmed"
	KindPaymentFailed    = "payment.failed"
)

// Client wraps the Stripe API for the two things the ledger needs from a
// payment provider: a synchronous card authorization and verified webhook
// events. Everything else about Stripe stays outside this system.
type Client struct {
	api           *client.API
	webhookSecret string
}

func New(secretKey, webhookSecret string) *Client {
	sc := &client.API{}
	sc.Init(secretKey, nil)

	return &Client{
		api:           sc,
		webhookSecret: webhookSecret,
	}
}

// AuthorizeCard drives a manual-confirmation PaymentIntent round trip.
// A decline is a regular outcome (approved=false), not an error; errors
// are reserved for transport/provider failures.
func (c *Client) AuthorizeCard(ctx context.Context, amountCents int64, currency, methodRef string) (bool, string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(amountCents),
		Currency:           stripe.String(currency),
		PaymentMethod:      stripe.String(methodRef),
		ConfirmationMethod: stripe.String("manual"),
		Confirm:            stripe.Bool(true),
	}
	params.Context = ctx

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			externalRef := ""
			if stripeErr.PaymentIntent != nil {
				externalRef = stripeErr.PaymentIntent.ID
			}
			return false, externalRef, nil
		}
		return false, "", fmt.Errorf("create payment intent: %w", err)
	}

	approved := pi.Status == stripe.PaymentIntentStatusSucceeded ||
		pi.Status == stripe.PaymentIntentStatusRequiresCapture
	return approved, pi.ID, nil
}

// WebhookEvent is a provider event reduced to what reconciliation needs.
type WebhookEvent struct {
	ID      string
	Kind    string
	Payload json.RawMessage
}

// ParseWebhook verifies the Stripe signature and maps the event to a
// provider-neutral kind. Events the ledger does not care about come back
// with an empty Kind and are acknowledged without processing.
func (c *Client) ParseWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, c.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("verify webhook signature: %w", err)
	}

	var kind string
	switch event.Type {
	case "payment_intent.succeeded":
		kind = KindPaymentConfirmed
	case "payment_intent.payment_failed":
		kind = KindPaymentFailed
	default:
		return &WebhookEvent{ID: event.ID}, nil
	}

	var intent struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}

	body, _ := json.Marshal(map[string]string{"external_ref": intent.ID})
	return &WebhookEvent{ID: event.ID, Kind: kind, Payload: body}, nil
}
