package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	stripeclient "github.com/stripe/stripe-go/v82/client"

	"github.com/mbeckert/subhub/internal/pkg/env"
	"github.com/mbeckert/subhub/internal/pkg/retry"
)

const DefaultWebhookPath = "/webhooks/stripe"

// Client wraps the payment provider API. It is constructed once and passed
// to its callers explicitly; there is no shared lazily initialized handle.
type Client struct {
	api           *stripeclient.API
	publicBaseURL string
	webhookSecret string
}

// CheckoutInput describes one checkout session to create.
type CheckoutInput struct {
	Reference     string // local transaction reference, echoed back by the provider
	PlanName      string
	Amount        int64
	Currency      string
	BillingPeriod string
	UserID        uint
	PlanID        uint
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// CheckoutSession is the provider's answer to a session create call.
type CheckoutSession struct {
	SessionID string
	URL       string
}

// NewClientFromEnv builds a client from STRIPE_SECRET_KEY, PUBLIC_BASE_URL
// and STRIPE_WEBHOOK_SECRET.
func NewClientFromEnv() *Client {
	api := &stripeclient.API{}
	api.Init(strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")), nil)

	return &Client{
		api:           api,
		publicBaseURL: strings.TrimRight(env.GetEnv("PUBLIC_BASE_URL", "http://localhost:4000"), "/"),
		webhookSecret: strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
	}
}

// WebhookSecret returns the configured signing secret, empty when unset.
func (c *Client) WebhookSecret() string {
	return c.webhookSecret
}

// WebhookPath returns the inbound webhook route, overridable via
// STRIPE_WEBHOOK_PATH.
func WebhookPath() string {
	p := strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_PATH", DefaultWebhookPath))
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// CreateCheckoutSession creates a provider checkout session for one payment.
// Transient provider failures are retried with backoff; 4xx precondition
// failures are surfaced after a single attempt.
func (c *Client) CreateCheckoutSession(ctx context.Context, in CheckoutInput) (*CheckoutSession, error) {
	if in.Reference == "" || in.Amount <= 0 {
		return nil, errors.New("checkout input requires a reference and a positive amount")
	}

	params := c.buildSessionParams(in)
	params.Context = ctx

	sess, err := retry.Do(ctx, "stripe.checkout_session", retry.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}, func() (*stripe.CheckoutSession, error) {
		s, err := c.api.CheckoutSessions.New(params)
		if err != nil {
			return nil, wrapProviderError(err)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	return &CheckoutSession{SessionID: sess.ID, URL: sess.URL}, nil
}

func (c *Client) buildSessionParams(in CheckoutInput) *stripe.CheckoutSessionParams {
	successURL := in.SuccessURL
	if successURL == "" {
		successURL = c.publicBaseURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"
	}
	cancelURL := in.CancelURL
	if cancelURL == "" {
		cancelURL = c.publicBaseURL + "/billing/cancelled"
	}

	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "usd"
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(in.Reference),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(in.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(in.PlanName),
					},
				},
			},
		},
	}
	if in.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(in.CustomerEmail)
	}
	params.AddMetadata("billing_period", in.BillingPeriod)
	params.AddMetadata("transaction_reference", in.Reference)

	return params
}

// providerError adapts provider SDK failures so the retry wrapper can read
// their HTTP status.
type providerError struct {
	err    error
	status int
}

func (e *providerError) Error() string   { return e.err.Error() }
func (e *providerError) Unwrap() error   { return e.err }
func (e *providerError) HTTPStatus() int { return e.status }

func wrapProviderError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode != 0 {
		return &providerError{err: err, status: se.HTTPStatusCode}
	}
	return err
}
