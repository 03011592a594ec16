package payments

import (
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// Verification failures. All of them map to a client-facing 400 and none of
// them may be followed by any state mutation.
var (
	// ErrVerificationDisabled is returned when no signing secret is
	// configured. Unverified payloads are rejected outright instead of
	// being trusted; signature verification is mandatory.
	ErrVerificationDisabled = errors.New("webhook verification is not configured")
	ErrMissingSignature     = errors.New("webhook signature header is missing")
	ErrMissingBody          = errors.New("webhook body is empty")
	ErrSignatureInvalid     = errors.New("webhook signature mismatch")
)

// VerifyWebhook authenticates a raw webhook delivery and produces a typed
// event. The signature is checked over the exact bytes as received; the
// payload is parsed only after verification succeeds.
func VerifyWebhook(raw []byte, signatureHeader, secret string) (*WebhookEvent, error) {
	if secret == "" {
		return nil, ErrVerificationDisabled
	}
	if signatureHeader == "" {
		return nil, ErrMissingSignature
	}
	if len(raw) == 0 {
		return nil, ErrMissingBody
	}

	event, err := webhook.ConstructEventWithOptions(raw, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	out := &WebhookEvent{
		ID:         event.ID,
		Type:       string(event.Type),
		Kind:       ResolveKind(string(event.Type)),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data != nil {
		out.Object = event.Data.Raw
	}
	return out, nil
}
