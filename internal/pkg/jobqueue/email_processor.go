package jobqueue

import (
	"fmt"

	"github.com/mbeckert/subhub/internal/pkg/mail"
)

// processEmailJob sends the subscription lifecycle email described by the
// job payload. Send failures surface as job errors so the queue's retry
// handling applies.
func (q *Queue) processEmailJob(job *Job) error {
	payload, err := EmailJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid email job payload: %w", err)
	}
	if payload.Email == "" {
		return fmt.Errorf("email job %s has no recipient", job.ID)
	}

	switch payload.Kind {
	case EmailKindActivated:
		return mail.SendSubscriptionActivated(payload.Email, payload.PlanName)
	case EmailKindCancelled:
		return mail.SendSubscriptionCancelled(payload.Email)
	case EmailKindExpired:
		return mail.SendSubscriptionExpired(payload.Email)
	default:
		return fmt.Errorf("unknown email kind: %s", payload.Kind)
	}
}
