package jobqueue

import (
	"github.com/gofiber/fiber/v2/log"

	"github.com/mbeckert/subhub/app/repository"
)

// EmailNotifier queues subscription lifecycle emails as background jobs so
// webhook handling never blocks on SMTP. It satisfies the notifier interface
// of the subscriptions service.
type EmailNotifier struct {
	queue *Queue
	users repository.UserRepository
}

// NewEmailNotifier builds a notifier on top of a running queue.
func NewEmailNotifier(queue *Queue, users repository.UserRepository) *EmailNotifier {
	return &EmailNotifier{queue: queue, users: users}
}

func (n *EmailNotifier) SubscriptionActivated(userID uint, planName string) {
	n.enqueue(userID, EmailKindActivated, planName)
}

func (n *EmailNotifier) SubscriptionCancelled(userID uint) {
	n.enqueue(userID, EmailKindCancelled, "")
}

func (n *EmailNotifier) SubscriptionExpired(userID uint) {
	n.enqueue(userID, EmailKindExpired, "")
}

// enqueue is best-effort: a notification that cannot be queued is logged and
// dropped, it never fails the state change that triggered it.
func (n *EmailNotifier) enqueue(userID uint, kind string, planName string) {
	user, err := n.users.GetByID(userID)
	if err != nil {
		log.Errorf("[JobQueue] Cannot resolve user %d for %s email: %v", userID, kind, err)
		return
	}

	payload := EmailJobPayload{
		UserID:   user.ID,
		Email:    user.Email,
		Kind:     kind,
		PlanName: planName,
	}
	if _, err := n.queue.EnqueueJob(JobTypeEmailNotification, payload.ToMap()); err != nil {
		log.Errorf("[JobQueue] Failed to enqueue %s email for user %d: %v", kind, userID, err)
	}
}
