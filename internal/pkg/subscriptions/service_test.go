package subscriptions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mbeckert/subhub/app/models"
	"github.com/mbeckert/subhub/internal/pkg/payments"
	"github.com/mbeckert/subhub/internal/pkg/userlock"
)

// memoryRepository is an in-memory Repository for service tests.
type memoryRepository struct {
	transactions  map[uint]*models.Transaction
	subscriptions map[uint]*models.Subscription
	users         map[uint]*models.User
	plans         map[uint]*models.Plan
	webhookEvents map[string]*models.WebhookEvent
	nextID        uint
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		transactions:  map[uint]*models.Transaction{},
		subscriptions: map[uint]*models.Subscription{},
		users:         map[uint]*models.User{},
		plans:         map[uint]*models.Plan{},
		webhookEvents: map[string]*models.WebhookEvent{},
		nextID:        1,
	}
}

func (r *memoryRepository) id() uint {
	id := r.nextID
	r.nextID++
	return id
}

func (r *memoryRepository) CreateTransaction(txn *models.Transaction) error {
	txn.ID = r.id()
	cp := *txn
	r.transactions[txn.ID] = &cp
	return nil
}

func (r *memoryRepository) SaveTransaction(txn *models.Transaction) error {
	cp := *txn
	r.transactions[txn.ID] = &cp
	return nil
}

func (r *memoryRepository) GetTransactionBySessionID(sessionID string) (*models.Transaction, error) {
	for _, txn := range r.transactions {
		if txn.ProviderSessionID == sessionID {
			cp := *txn
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepository) GetTransactionByPaymentIntentID(paymentIntentID string) (*models.Transaction, error) {
	for _, txn := range r.transactions {
		if txn.ProviderPaymentIntentID == paymentIntentID {
			cp := *txn
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepository) CreateSubscription(sub *models.Subscription) error {
	sub.ID = r.id()
	cp := *sub
	r.subscriptions[sub.ID] = &cp
	return nil
}

func (r *memoryRepository) SaveSubscription(sub *models.Subscription) error {
	cp := *sub
	r.subscriptions[sub.ID] = &cp
	return nil
}

func (r *memoryRepository) GetActiveSubscriptionByUser(userID uint) (*models.Subscription, error) {
	for _, sub := range r.subscriptions {
		if sub.UserID == userID && sub.Status == models.SubscriptionStatusActive {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepository) ListOverdueActiveSubscriptions(asOf time.Time) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range r.subscriptions {
		if sub.Status == models.SubscriptionStatusActive && !sub.EndDate.After(asOf) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *memoryRepository) GetUser(userID uint) (*models.User, error) {
	user, ok := r.users[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *user
	return &cp, nil
}

func (r *memoryRepository) SaveUser(user *models.User) error {
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memoryRepository) GetPlan(planID uint) (*models.Plan, error) {
	plan, ok := r.plans[planID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *plan
	return &cp, nil
}

func (r *memoryRepository) GetPublishedPlan(planID uint) (*models.Plan, error) {
	plan, err := r.GetPlan(planID)
	if err != nil || !plan.Published || !plan.IsActive {
		return nil, gorm.ErrRecordNotFound
	}
	return plan, nil
}

func (r *memoryRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + ":" + event.ProviderEventID
	if stored, ok := r.webhookEvents[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	event.ID = r.id()
	cp := *event
	r.webhookEvents[key] = &cp
	return true, event, nil
}

func (r *memoryRepository) MarkWebhookProcessed(id uint, processingError string) error {
	for _, ev := range r.webhookEvents {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

// checkActiveCount counts active subscription rows for one user.
func (r *memoryRepository) activeCount(userID uint) int {
	n := 0
	for _, sub := range r.subscriptions {
		if sub.UserID == userID && sub.Status == models.SubscriptionStatusActive {
			n++
		}
	}
	return n
}

// assertProjectionConsistent checks the cache invariant: the user's cached
// status matches the referenced subscription row, or both are empty.
func assertProjectionConsistent(t *testing.T, repo *memoryRepository, userID uint) {
	t.Helper()
	user := repo.users[userID]
	require.NotNil(t, user)

	if user.ActiveSubscriptionID == nil {
		assert.NotEqual(t, models.SubscriptionStatusActive, user.SubscriptionStatus)
		return
	}
	sub := repo.subscriptions[*user.ActiveSubscriptionID]
	require.NotNil(t, sub)
	assert.Equal(t, sub.Status, user.SubscriptionStatus)
}

type recordingNotifier struct {
	activated []uint
	cancelled []uint
	expired   []uint
}

func (n *recordingNotifier) SubscriptionActivated(userID uint, _ string) {
	n.activated = append(n.activated, userID)
}
func (n *recordingNotifier) SubscriptionCancelled(userID uint) {
	n.cancelled = append(n.cancelled, userID)
}
func (n *recordingNotifier) SubscriptionExpired(userID uint) {
	n.expired = append(n.expired, userID)
}

type fakeCheckout struct {
	calls int
	fail  error
}

func (f *fakeCheckout) CreateCheckoutSession(_ context.Context, in payments.CheckoutInput) (*payments.CheckoutSession, error) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	return &payments.CheckoutSession{
		SessionID: fmt.Sprintf("sess_%d", f.calls),
		URL:       "https://checkout.example.com/" + in.Reference,
	}, nil
}

func newTestService(repo *memoryRepository) (*Service, *recordingNotifier) {
	notifier := &recordingNotifier{}
	svc := NewService(repo, userlock.NewMemoryLocker(), &fakeCheckout{}, notifier)
	return svc, notifier
}

func seedUserAndPlan(repo *memoryRepository) (*models.User, *models.Plan) {
	user := &models.User{ID: repo.id(), Name: "User One", Email: "u1@example.com", Status: models.STATUS_ACTIVE}
	repo.users[user.ID] = user

	plan := &models.Plan{
		ID:           repo.id(),
		Name:         "Pro",
		PriceMonthly: 900,
		PriceYearly:  4900,
		Currency:     "usd",
		Published:    true,
		IsActive:     true,
	}
	repo.plans[plan.ID] = plan
	return user, plan
}

func pendingTransaction(repo *memoryRepository, user *models.User, plan *models.Plan, sessionID string) *models.Transaction {
	txn := &models.Transaction{
		ID:                repo.id(),
		Reference:         fmt.Sprintf("ref-%s", sessionID),
		ProviderSessionID: sessionID,
		Status:            models.TransactionStatusPending,
		UserID:            user.ID,
		PlanID:            plan.ID,
		PayableType:       models.PayableTypeSubscriptionPlan,
		Currency:          plan.Currency,
	}
	repo.transactions[txn.ID] = txn
	return txn
}

func TestCheckoutCompletedEndToEnd(t *testing.T) {
	repo := newMemoryRepository()
	svc, notifier := newTestService(repo)
	user, plan := seedUserAndPlan(repo)
	pendingTransaction(repo, user, plan, "sess_1")

	err := svc.HandleCheckoutCompleted(context.Background(), &payments.CheckoutCompleted{
		SessionID:       "sess_1",
		AmountTotal:     4900,
		Currency:        "usd",
		PaymentIntentID: "pi_1",
		Metadata:        map[string]string{"billing_period": "yearly"},
	})
	require.NoError(t, err)

	txn, err := repo.GetTransactionBySessionID("sess_1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, txn.Status)
	assert.Equal(t, int64(4900), txn.Amount)
	assert.Equal(t, "usd", txn.Currency)
	assert.Equal(t, "pi_1", txn.ProviderPaymentIntentID)
	require.NotNil(t, txn.CompletedAt)

	sub, err := repo.GetActiveSubscriptionByUser(user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BillingPeriodYearly, sub.BillingPeriod)
	assert.WithinDuration(t, sub.StartDate.AddDate(1, 0, 0), sub.EndDate, time.Second)

	stored := repo.users[user.ID]
	assert.Equal(t, models.SubscriptionStatusActive, stored.SubscriptionStatus)
	require.NotNil(t, stored.ActiveSubscriptionID)
	assert.Equal(t, sub.ID, *stored.ActiveSubscriptionID)
	assertProjectionConsistent(t, repo, user.ID)

	assert.Equal(t, []uint{user.ID}, notifier.activated)
}

func TestCheckoutCompletedIsIdempotent(t *testing.T) {
	repo := newMemoryRepository()
	svc, notifier := newTestService(repo)
	user, plan := seedUserAndPlan(repo)
	pendingTransaction(repo, user, plan, "sess_1")

	ev := &payments.CheckoutCompleted{
		SessionID:   "sess_1",
		AmountTotal: 4900,
		Currency:    "usd",
		Metadata:    map[string]string{"billing_period": "yearly"},
	}

	require.NoError(t, svc.HandleCheckoutCompleted(context.Background(), ev))
	first, err := repo.GetActiveSubscriptionByUser(user.ID)
	require.NoError(t, err)

	// Redelivery of the identical event.
	require.NoError(t, svc.HandleCheckoutCompleted(context.Background(), ev))

	txn, err := repo.GetTransactionBySessionID("sess_1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, txn.Status)
	assert.Equal(t, int64(4900), txn.Amount)

	second, err := repo.GetActiveSubscriptionByUser(user.ID)
	require.NoError(t, err)
	assert.Equal(t, first.EndDate, second.EndDate, "replay must not extend the term")
	assert.Equal(t, 1, repo.activeCount(user.ID))
	assert.Len(t, notifier.activated, 1, "replay must not re-notify")
}

func TestCheckoutCompletedOverwritesAmountFromLatestEvent(t *testing.T) {
	repo := newMemoryRepository()
	svc, _ := newTestService(repo)
	user, plan := seedUserAndPlan(repo)
	pendingTransaction(repo, user, plan, "sess_1")

	require.NoError(t, svc.HandleCheckoutCompleted(context.Background(), &payments.CheckoutCompleted{
		SessionID: "sess_1", AmountTotal: 4900, Currency: "usd",
	}))
	require.NoError(t, svc.HandleCheckoutCompleted(context.Background(), &payments.CheckoutCompleted{
		SessionID: "sess_1", AmountTotal: 5100, Currency: "eur",
	}))

	txn, err := repo.GetTransactionBySessionID("sess_1")
	require.NoError(t, err)
	assert.Equal(t, int64(5100), txn.Amount)
	assert.Equal(t, "eur", txn.Currency)
	assert.Equal(t, 1, repo.activeCount(user.ID))
}

func TestRenewalExtendsInsteadOfDuplicating(t *testing.T) {
	repo := newMemoryRepository()
	svc, _ := newTestService(repo)
	user, plan := seedUserAndPlan(repo)
	pendingTransaction(repo, user, plan, "sess_1")
	pendingTransaction(repo, user, plan, "sess_2")

	require.NoError(t, svc.HandleCheckoutCompleted(context.Background(), &payments.CheckoutCompleted{
		SessionID: "sess_1", AmountTotal: 900, Currency: "usd",
		Metadata: map[string]string{"billing_period": "monthly"},
	}))
	first, err := repo.GetActiveSubscriptionByUser(user.ID)
	require.NoError(t, err)

	require.NoError(t, svc.HandleCheckoutCompleted(context.Background(), &payments.CheckoutCompleted{
		SessionID: "sess_2", AmountTotal: 900, Currency: "usd",
		Metadata: map[string]string{"billing_period": "monthly"},
	}))

	assert.Equal(t, 1, repo.activeCount(user.ID), "renewal must not create a second active row")
	renewed, err := repo.GetActiveSubscriptionByUser(user.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, renewed.ID)
	assert.Equal(t, first.EndDate.AddDate(0, 1, 0), renewed.EndDate)
	assertProjectionConsistent(t, repo, user.ID)
}

func TestUnknownBillingPeriodDefaultsToMonthly(t *testing.T) {
	repo := newMemoryRepository()
	svc, _ := newTestService(repo)
	user, plan := seedUserAndPlan(repo)
	pendingTransaction(repo, user, plan, "sess_1")

	require.NoError(t, svc.HandleCheckoutCompleted(context.Background(), &payments.CheckoutCompleted{
		SessionID: "sess_1", AmountTotal: 900, Currency: "usd",
		Metadata: map[string]string{"billing_period": "weekly"},
	}))

	sub, err := repo.GetActiveSubscriptionByUser(user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BillingPeriodMonthly, sub.BillingPeriod)
	assert.WithinDuration(t, sub.StartDate.AddDate(0, 1, 0), sub.EndDate, time.Second)
}

func TestCheckoutCompletedUnknownSessionIsSkipped(t *testing.T) {
	repo := newMemoryRepository()
	svc, _ := newTestService(repo)

	err := svc.HandleCheckoutCompleted(context.Background(), &payments.CheckoutCompleted{
		SessionID: "sess_untracked", AmountTotal: 100,
	})
	assert.NoError(t, err, "events for untracked sessions are benign")
	assert.Empty(t, repo.subscriptions)
}

func TestPaymentFailedMergesMetadata(t *testing.T) {
	repo := newMemoryRepository()
	svc, _ := newTestService(repo)
	user, plan := seedUserAndPlan(repo)
	txn := pendingTransaction(repo, user, plan, "sess_1")
	txn.ProviderPaymentIntentID = "pi_1"
	require.NoError(t, txn.MergeMetadata(map[string]string{"billing_period": "monthly"}))
	repo.transactions[txn.ID] = txn

	require.NoError(t, svc.HandlePaymentFailed(context.Background(), &payments.PaymentFailed{
		PaymentIntentID: "pi_1",
		LastPaymentError: struct {
			Message string `json:"message"`
		}{Message: "card declined"},
	}))

	stored, err := repo.GetTransactionByPaymentIntentID("pi_1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, stored.Status)

	meta := stored.Metadata()
	assert.Equal(t, "card declined", meta["failure_reason"])
	assert.Equal(t, "monthly", meta["billing_period"], "existing keys survive the merge")
	assert.Empty(t, repo.subscriptions, "failed payments never create subscriptions")
}

func TestCancelWithoutActiveSubscription(t *testing.T) {
	repo := newMemoryRepository()
	svc, _ := newTestService(repo)
	user, _ := seedUserAndPlan(repo)

	err := svc.Cancel(context.Background(), user.ID)
	assert.ErrorIs(t, err, ErrNoActiveSubscription)
}

func TestCancelTerminatesAndMirrors(t *testing.T) {
	repo := newMemoryRepository()
	svc, notifier := newTestService(repo)
	user, plan := seedUserAndPlan(repo)
	pendingTransaction(repo, user, plan, "sess_1")

	require.NoError(t, svc.HandleCheckoutCompleted(context.Background(), &payments.CheckoutCompleted{
		SessionID: "sess_1", AmountTotal: 900, Currency: "usd",
	}))
	require.NoError(t, svc.Cancel(context.Background(), user.ID))

	assert.Equal(t, 0, repo.activeCount(user.ID))
	stored := repo.users[user.ID]
	assert.Equal(t, models.SubscriptionStatusCancelled, stored.SubscriptionStatus)
	assert.Nil(t, stored.ActiveSubscriptionID)
	assert.Equal(t, []uint{user.ID}, notifier.cancelled)

	// The row is soft-terminated, not deleted.
	found := false
	for _, sub := range repo.subscriptions {
		if sub.UserID == user.ID && sub.Status == models.SubscriptionStatusCancelled {
			assert.False(t, sub.AutoRenew)
			found = true
		}
	}
	assert.True(t, found)
}

func TestCurrentReturnsNilWithoutSubscription(t *testing.T) {
	repo := newMemoryRepository()
	svc, _ := newTestService(repo)
	user, _ := seedUserAndPlan(repo)

	sub, err := svc.Current(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestExpireOverdueBoundary(t *testing.T) {
	repo := newMemoryRepository()
	svc, notifier := newTestService(repo)
	user, plan := seedUserAndPlan(repo)
	other := &models.User{ID: repo.id(), Name: "User Two", Email: "u2@example.com"}
	repo.users[other.ID] = other

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	atBoundary := &models.Subscription{
		UserID: user.ID, PlanID: plan.ID,
		Status:    models.SubscriptionStatusActive,
		StartDate: now.AddDate(0, -1, 0),
		EndDate:   now, // exactly now: expires
	}
	require.NoError(t, repo.CreateSubscription(atBoundary))
	justAhead := &models.Subscription{
		UserID: other.ID, PlanID: plan.ID,
		Status:    models.SubscriptionStatusActive,
		StartDate: now.AddDate(0, -1, 0),
		EndDate:   now.Add(time.Second), // one second later: stays active
	}
	require.NoError(t, repo.CreateSubscription(justAhead))

	expired, err := svc.ExpireOverdue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	assert.Equal(t, 0, repo.activeCount(user.ID))
	assert.Equal(t, 1, repo.activeCount(other.ID))
	assert.Equal(t, models.SubscriptionStatusExpired, repo.users[user.ID].SubscriptionStatus)
	assertProjectionConsistent(t, repo, user.ID)
	assert.Equal(t, []uint{user.ID}, notifier.expired)
}

func TestStartCheckoutCreatesPendingTransaction(t *testing.T) {
	repo := newMemoryRepository()
	svc, _ := newTestService(repo)
	user, plan := seedUserAndPlan(repo)

	out, err := svc.StartCheckout(context.Background(), CheckoutRequest{
		UserID:        user.ID,
		PlanID:        plan.ID,
		BillingPeriod: "yearly",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.SessionID)
	assert.NotEmpty(t, out.CheckoutURL)
	assert.NotEmpty(t, out.TransactionRef)

	txn, err := repo.GetTransactionBySessionID(out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusPending, txn.Status)
	assert.Equal(t, plan.PriceYearly, txn.Amount)
	assert.Equal(t, "yearly", txn.Metadata()["billing_period"])
}

func TestStartCheckoutUnknownPlan(t *testing.T) {
	repo := newMemoryRepository()
	svc, _ := newTestService(repo)
	user, _ := seedUserAndPlan(repo)

	_, err := svc.StartCheckout(context.Background(), CheckoutRequest{
		UserID: user.ID,
		PlanID: 999,
	})
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestRecordWebhookEventDeduplicates(t *testing.T) {
	repo := newMemoryRepository()
	svc, _ := newTestService(repo)

	ev := &payments.WebhookEvent{ID: "evt_1", Type: "checkout.session.completed", Kind: payments.KindCheckoutCompleted}

	created, stored, err := svc.RecordWebhookEvent(ev, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, stored)

	created, dup, err := svc.RecordWebhookEvent(ev, []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, dup.ID)
}
