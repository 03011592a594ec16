package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventKind is the closed set of provider event types this service reacts
// to. Everything else resolves to KindUnhandled and is acknowledged as a
// no-op so the provider stops redelivering it.
type EventKind string

const (
	KindCheckoutCompleted EventKind = "checkout.session.completed"
	KindPaymentFailed     EventKind = "payment_intent.payment_failed"
	KindUnhandled         EventKind = ""
)

// ResolveKind maps a raw provider event type onto the closed kind set.
func ResolveKind(eventType string) EventKind {
	switch EventKind(strings.TrimSpace(eventType)) {
	case KindCheckoutCompleted:
		return KindCheckoutCompleted
	case KindPaymentFailed:
		return KindPaymentFailed
	default:
		return KindUnhandled
	}
}

// WebhookEvent is the verified, typed envelope produced from a raw signed
// request body. It is transient; durable dedup state lives in the
// webhook_events table, keyed by the provider event id.
type WebhookEvent struct {
	ID         string
	Type       string
	Kind       EventKind
	OccurredAt time.Time

	// data.object of the provider envelope, verified but unparsed.
	Object json.RawMessage
}

// CheckoutCompleted carries the fields of a checkout.session.completed
// event that reconciliation needs. The struct is deliberately minimal and
// decoupled from the provider SDK's full event types.
type CheckoutCompleted struct {
	SessionID         string            `json:"id"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	PaymentIntentID   string            `json:"payment_intent"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// PaymentFailed carries the fields of a payment_intent.payment_failed
// event. Failure events reference the payment intent, not the session.
type PaymentFailed struct {
	PaymentIntentID  string `json:"id"`
	LastPaymentError struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// CheckoutCompleted decodes the event payload as a completed checkout
// session. Only valid for KindCheckoutCompleted events.
func (e *WebhookEvent) CheckoutCompleted() (*CheckoutCompleted, error) {
	if e.Kind != KindCheckoutCompleted {
		return nil, fmt.Errorf("event %s is %q, not a checkout completion", e.ID, e.Type)
	}
	var out CheckoutCompleted
	if err := json.Unmarshal(e.Object, &out); err != nil {
		return nil, fmt.Errorf("decode checkout session payload: %w", err)
	}
	if out.SessionID == "" {
		return nil, errors.New("checkout session payload missing session id")
	}
	return &out, nil
}

// PaymentFailed decodes the event payload as a failed payment intent. Only
// valid for KindPaymentFailed events.
func (e *WebhookEvent) PaymentFailed() (*PaymentFailed, error) {
	if e.Kind != KindPaymentFailed {
		return nil, fmt.Errorf("event %s is %q, not a payment failure", e.ID, e.Type)
	}
	var out PaymentFailed
	if err := json.Unmarshal(e.Object, &out); err != nil {
		return nil, fmt.Errorf("decode payment intent payload: %w", err)
	}
	if out.PaymentIntentID == "" {
		return nil, errors.New("payment intent payload missing intent id")
	}
	return &out, nil
}
