package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mbeckert/subhub/internal/pkg/env"
	"github.com/mbeckert/subhub/internal/pkg/payments"
)

// HandleStripeWebhook receives payment provider deliveries. The signature is
// verified over the raw body before anything is written; a failed check must
// leave no trace. Verified events are persisted first so redeliveries can be
// answered from the dedup record without reprocessing.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	event, err := payments.VerifyWebhook(rawBody, signature, secret)
	if err != nil {
		if errors.Is(err, payments.ErrVerificationDisabled) {
			log.Error("[Webhook] Rejecting delivery: no signing secret configured")
		} else {
			log.Warnf("[Webhook] Rejecting delivery: %v", err)
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	svc := getBillingService()
	created, stored, err := svc.RecordWebhookEvent(event, rawBody)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		// Only a successfully processed event is answered from the dedup
		// record. A redelivery after a failed attempt falls through and is
		// dispatched again; redelivery is the retry mechanism for handler
		// failures and re-application is idempotent.
		return c.JSON(fiber.Map{"received": true, "duplicate": true})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	handleErr := svc.HandleEvent(ctx, event)
	if markErr := svc.MarkWebhookProcessed(stored.ID, handleErr); markErr != nil {
		log.Errorf("[Webhook] Failed to mark event %s processed: %v", event.ID, markErr)
	}
	if handleErr != nil {
		log.Errorf("[Webhook] Processing event %s (%s) failed: %v", event.ID, event.Type, handleErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}

	return c.JSON(fiber.Map{"received": true})
}
