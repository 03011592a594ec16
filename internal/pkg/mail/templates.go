package mail

import "fmt"

// SendSubscriptionActivated confirms a new or renewed subscription term.
func SendSubscriptionActivated(to string, planName string) error {
	subject := fmt.Sprintf("Your %s subscription is active", planName)
	body := fmt.Sprintf(`<h2>Subscription active</h2>
<p>Thanks for your payment. Your <strong>%s</strong> plan is now active.</p>
<p>You can review your subscription at any time from your account.</p>`, planName)
	return SendMail(to, subject, body)
}

// SendSubscriptionCancelled confirms a cancellation.
func SendSubscriptionCancelled(to string) error {
	subject := "Your subscription has been cancelled"
	body := `<h2>Subscription cancelled</h2>
<p>Your subscription has been cancelled and will not renew.</p>
<p>If this was a mistake, you can subscribe again from your account.</p>`
	return SendMail(to, subject, body)
}

// SendSubscriptionExpired notifies a user that their term has ended.
func SendSubscriptionExpired(to string) error {
	subject := "Your subscription has expired"
	body := `<h2>Subscription expired</h2>
<p>Your subscription term has ended and your account has been moved back to the free tier.</p>
<p>Renew at any time to restore your plan benefits.</p>`
	return SendMail(to, subject, body)
}
