package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mbeckert/subhub/app/models"
	"github.com/mbeckert/subhub/internal/pkg/payments"
	"github.com/mbeckert/subhub/internal/pkg/userlock"
)

// CheckoutCreator is the slice of the payment client the service needs.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, in payments.CheckoutInput) (*payments.CheckoutSession, error)
}

// Service reconciles verified payment events into durable transaction and
// subscription state. Every handler is idempotent under redelivery: lookups
// go through business keys (session id, payment intent id) and writes set
// absolute values, so reapplying an event converges on the same state.
type Service struct {
	repo     Repository
	locker   userlock.Locker
	checkout CheckoutCreator
	notifier Notifier

	// now is injectable for the expiry boundary tests.
	now func() time.Time
}

// NewService wires a subscription service from its collaborators.
func NewService(repo Repository, locker userlock.Locker, checkout CheckoutCreator, notifier Notifier) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		checkout: checkout,
		notifier: notifier,
		now:      time.Now,
	}
}

// NewServiceFromDB builds a service on a GORM handle with an in-process
// locker. Production wiring passes the Redis locker instead.
func NewServiceFromDB(db *gorm.DB, checkout CheckoutCreator, notifier Notifier) *Service {
	return NewService(NewRepository(db), userlock.NewMemoryLocker(), checkout, notifier)
}

// StartCheckout creates the provider checkout session for a plan purchase
// and records the pending transaction under the returned session id. The
// completion webhook later finds the row by that session id.
func (s *Service) StartCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	plan, err := s.repo.GetPublishedPlan(req.PlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}

	period, known := models.NormalizeBillingPeriod(req.BillingPeriod)
	if !known {
		log.Warnf("[subscriptions] unknown billing period %q for user %d, defaulting to monthly", req.BillingPeriod, req.UserID)
	}

	user, err := s.repo.GetUser(req.UserID)
	if err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		Reference:   uuid.NewString(),
		Amount:      plan.PriceFor(period),
		Currency:    plan.Currency,
		Status:      models.TransactionStatusPending,
		UserID:      user.ID,
		PlanID:      plan.ID,
		PayableType: models.PayableTypeSubscriptionPlan,
	}
	if err := txn.MergeMetadata(map[string]string{"billing_period": period}); err != nil {
		return nil, err
	}

	sess, err := s.checkout.CreateCheckoutSession(ctx, payments.CheckoutInput{
		Reference:     txn.Reference,
		PlanName:      plan.Name,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		BillingPeriod: period,
		UserID:        user.ID,
		PlanID:        plan.ID,
		CustomerEmail: user.Email,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
	})
	if err != nil {
		return nil, err
	}

	txn.ProviderSessionID = sess.SessionID
	if err := s.repo.CreateTransaction(txn); err != nil {
		return nil, err
	}

	return &CheckoutResult{
		SessionID:      sess.SessionID,
		CheckoutURL:    sess.URL,
		TransactionRef: txn.Reference,
	}, nil
}

// HandleEvent routes a verified webhook event to its reconciliation
// handler. Unknown kinds are acknowledged as a logged no-op; the sender
// must still get a success response to stop redelivery.
func (s *Service) HandleEvent(ctx context.Context, ev *payments.WebhookEvent) error {
	switch ev.Kind {
	case payments.KindCheckoutCompleted:
		completed, err := ev.CheckoutCompleted()
		if err != nil {
			return err
		}
		return s.HandleCheckoutCompleted(ctx, completed)
	case payments.KindPaymentFailed:
		failed, err := ev.PaymentFailed()
		if err != nil {
			return err
		}
		return s.HandlePaymentFailed(ctx, failed)
	default:
		log.Infof("[subscriptions] ignoring unhandled event %s (%s)", ev.ID, ev.Type)
		return nil
	}
}

// HandleCheckoutCompleted applies a completed checkout to the matching
// transaction and, for subscription purchases, activates or extends the
// user's subscription term. Writes are sequenced transaction, then
// subscription, then user projection; later steps read what earlier ones
// wrote, so the order never changes.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, ev *payments.CheckoutCompleted) error {
	txn, err := s.repo.GetTransactionBySessionID(ev.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Sessions this service never started (test events, other
			// systems) are skipped, not failed: redelivery cannot fix them.
			log.Infof("[subscriptions] no transaction for session %s, skipping", ev.SessionID)
			return nil
		}
		return err
	}

	alreadyCompleted := txn.Status == models.TransactionStatusCompleted

	// Amount and currency always track the most recent event; everything
	// else is an absolute value a replay simply rewrites.
	txn.Status = models.TransactionStatusCompleted
	txn.Amount = ev.AmountTotal
	if ev.Currency != "" {
		txn.Currency = ev.Currency
	}
	if ev.PaymentIntentID != "" {
		txn.ProviderPaymentIntentID = ev.PaymentIntentID
	}
	if txn.CompletedAt == nil {
		now := s.now()
		txn.CompletedAt = &now
	}
	if err := s.repo.SaveTransaction(txn); err != nil {
		return fmt.Errorf("complete transaction %s: %w", txn.Reference, err)
	}

	// A replay of an event already applied stops here: the transaction is
	// terminal and the subscription term was granted once. Re-extending it
	// on redelivery would turn duplicates into free renewals.
	if alreadyCompleted {
		return nil
	}

	if txn.PayableType != models.PayableTypeSubscriptionPlan {
		return nil
	}

	period := s.resolveBillingPeriod(ev.Metadata, txn)

	var activated *models.Subscription
	err = s.locker.WithLock(ctx, userLockKey(txn.UserID), func() error {
		sub, err := s.upsertActiveSubscription(txn, period)
		if err != nil {
			return err
		}
		activated = sub
		return s.syncUserProjection(txn.UserID, sub)
	})
	if err != nil {
		return fmt.Errorf("activate subscription for user %d: %w", txn.UserID, err)
	}

	if activated != nil {
		s.notifier.SubscriptionActivated(txn.UserID, s.planName(activated.PlanID))
	}
	return nil
}

// HandlePaymentFailed marks the matching transaction failed and records the
// failure reason without clobbering existing metadata keys.
func (s *Service) HandlePaymentFailed(ctx context.Context, ev *payments.PaymentFailed) error {
	_ = ctx
	txn, err := s.repo.GetTransactionByPaymentIntentID(ev.PaymentIntentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Infof("[subscriptions] no transaction for payment intent %s, skipping", ev.PaymentIntentID)
			return nil
		}
		return err
	}

	txn.Status = models.TransactionStatusFailed
	reason := ev.LastPaymentError.Message
	if reason == "" {
		reason = "payment failed"
	}
	if err := txn.MergeMetadata(map[string]string{"failure_reason": reason}); err != nil {
		return err
	}
	return s.repo.SaveTransaction(txn)
}

// Current returns the user's active subscription, or nil when there is none.
func (s *Service) Current(ctx context.Context, userID uint) (*models.Subscription, error) {
	_ = ctx
	sub, err := s.repo.GetActiveSubscriptionByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// Cancel terminates the user's active subscription. The row is kept with
// status cancelled; the user projection mirrors the change in the same
// logical step.
func (s *Service) Cancel(ctx context.Context, userID uint) error {
	err := s.locker.WithLock(ctx, userLockKey(userID), func() error {
		sub, err := s.repo.GetActiveSubscriptionByUser(userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoActiveSubscription
			}
			return err
		}

		sub.Status = models.SubscriptionStatusCancelled
		sub.AutoRenew = false
		if err := s.repo.SaveSubscription(sub); err != nil {
			return err
		}
		return s.syncUserProjection(userID, sub)
	})
	if err != nil {
		return err
	}

	s.notifier.SubscriptionCancelled(userID)
	return nil
}

// ExpireOverdue transitions every active subscription whose end date has
// been reached to expired and mirrors the change onto each user. It is the
// only expiry detection point; between the cutoff and the next sweep a read
// observes a stale active status, which is accepted.
func (s *Service) ExpireOverdue(ctx context.Context, asOf time.Time) (int, error) {
	overdue, err := s.repo.ListOverdueActiveSubscriptions(asOf)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range overdue {
		sub := overdue[i]
		err := s.locker.WithLock(ctx, userLockKey(sub.UserID), func() error {
			sub.Status = models.SubscriptionStatusExpired
			if err := s.repo.SaveSubscription(&sub); err != nil {
				return err
			}
			return s.syncUserProjection(sub.UserID, &sub)
		})
		if err != nil {
			// Keep sweeping; the failed row is picked up again next run.
			log.Errorf("[subscriptions] expiring subscription %d failed: %v", sub.ID, err)
			continue
		}
		expired++
		s.notifier.SubscriptionExpired(sub.UserID)
	}

	if expired > 0 {
		log.Infof("[subscriptions] expired %d overdue subscriptions", expired)
	}
	return expired, nil
}

// RecordWebhookEvent persists a webhook delivery idempotently; the second
// delivery of the same provider event id reports created=false.
func (s *Service) RecordWebhookEvent(ev *payments.WebhookEvent, payload []byte) (bool, *models.WebhookEvent, error) {
	stored := &models.WebhookEvent{
		Provider:        models.PaymentProviderStripe,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		PayloadJSON:     string(payload),
	}
	return s.repo.CreateWebhookEventIfNotExists(stored)
}

// MarkWebhookProcessed records the processing outcome on a stored event.
func (s *Service) MarkWebhookProcessed(eventID uint, processingErr error) error {
	msg := ""
	if processingErr != nil {
		msg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(eventID, msg)
}

// upsertActiveSubscription extends the user's existing active term or
// creates a new one. Updating in place is what keeps a renewal event from
// producing a second active row. Must run under the user's lock.
func (s *Service) upsertActiveSubscription(txn *models.Transaction, period string) (*models.Subscription, error) {
	existing, err := s.repo.GetActiveSubscriptionByUser(txn.UserID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := s.now()
	if existing != nil {
		existing.PlanID = txn.PlanID
		existing.BillingPeriod = period
		existing.EndDate = models.PeriodDuration(period, existing.EndDate)
		if err := s.repo.SaveSubscription(existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	sub := &models.Subscription{
		UserID:        txn.UserID,
		PlanID:        txn.PlanID,
		Status:        models.SubscriptionStatusActive,
		StartDate:     now,
		EndDate:       models.PeriodDuration(period, now),
		BillingPeriod: period,
		AutoRenew:     true,
	}
	if err := s.repo.CreateSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// syncUserProjection mirrors a subscription row onto the owning user's
// cached fields. Every subscription writer calls this with the row it just
// wrote; skipping it leaves reads inconsistent and is a defect.
func (s *Service) syncUserProjection(userID uint, sub *models.Subscription) error {
	user, err := s.repo.GetUser(userID)
	if err != nil {
		return err
	}
	user.ApplySubscriptionProjection(sub)
	return s.repo.SaveUser(user)
}

func (s *Service) resolveBillingPeriod(metadata map[string]string, txn *models.Transaction) string {
	raw := metadata["billing_period"]
	if raw == "" {
		raw = txn.Metadata()["billing_period"]
	}
	period, known := models.NormalizeBillingPeriod(raw)
	if !known {
		log.Warnf("[subscriptions] transaction %s carries billing period %q, defaulting to monthly", txn.Reference, raw)
	}
	return period
}

func (s *Service) planName(planID uint) string {
	plan, err := s.repo.GetPlan(planID)
	if err != nil {
		return "your plan"
	}
	return plan.Name
}

func userLockKey(userID uint) string {
	return fmt.Sprintf("user:%d", userID)
}
