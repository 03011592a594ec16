package subscriptions

import "errors"

var (
	// ErrNoActiveSubscription is returned by Cancel when the user has
	// nothing to cancel. Surfaces as a 404 on the API.
	ErrNoActiveSubscription = errors.New("no active subscription")

	// ErrPlanNotFound is returned when a checkout references a plan that
	// is missing, unpublished or inactive.
	ErrPlanNotFound = errors.New("plan not found")
)

// CheckoutRequest describes a checkout started by an authenticated user.
type CheckoutRequest struct {
	UserID        uint
	PlanID        uint
	BillingPeriod string
	SuccessURL    string
	CancelURL     string
}

// CheckoutResult is handed back to the API caller so the client can
// redirect the user to the provider's payment page.
type CheckoutResult struct {
	SessionID      string
	CheckoutURL    string
	TransactionRef string
}

// Notifier delivers user-facing notifications for subscription lifecycle
// changes. Delivery failures never roll back committed state; payment
// correctness outranks notification delivery.
type Notifier interface {
	SubscriptionActivated(userID uint, planName string)
	SubscriptionCancelled(userID uint)
	SubscriptionExpired(userID uint)
}

// NopNotifier discards notifications. Used in tests and in setups without
// a mail transport.
type NopNotifier struct{}

func (NopNotifier) SubscriptionActivated(uint, string) {}
func (NopNotifier) SubscriptionCancelled(uint)         {}
func (NopNotifier) SubscriptionExpired(uint)           {}
