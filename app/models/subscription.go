package models

import "time"

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
)

const (
	BillingPeriodMonthly = "monthly"
	BillingPeriodYearly  = "yearly"
)

// Subscription is one paid-access term of a user. Terms are never deleted;
// they are soft-terminated through the status column. At most one row per
// user may be active at a time, enforced by the per-user reconciliation lock
// around every mutation path.
type Subscription struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;index:idx_subscriptions_user_status,priority:1" json:"user_id"`
	PlanID        uint      `gorm:"not null;index" json:"plan_id"`
	Status        string    `gorm:"type:varchar(16);not null;default:'active';index:idx_subscriptions_user_status,priority:2" json:"status"`
	StartDate     time.Time `gorm:"type:timestamp;not null" json:"start_date"`
	EndDate       time.Time `gorm:"type:timestamp;not null;index" json:"end_date"`
	BillingPeriod string    `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_period"`
	AutoRenew     bool      `gorm:"default:true" json:"auto_renew"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PeriodDuration translates a billing period tag into the term length added
// to a subscription on creation or renewal.
func PeriodDuration(billingPeriod string, from time.Time) time.Time {
	if billingPeriod == BillingPeriodYearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

// NormalizeBillingPeriod maps arbitrary input to a known billing period tag.
// Unrecognized values fall back to monthly; callers log the fallback.
func NormalizeBillingPeriod(raw string) (string, bool) {
	switch raw {
	case BillingPeriodMonthly, BillingPeriodYearly:
		return raw, true
	default:
		return BillingPeriodMonthly, false
	}
}
