package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	ROLE_USER  = "user"
	ROLE_ADMIN = "admin"

	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

// User carries the account identity plus a denormalized projection of the
// current subscription. The projection fields are a read cache: every code
// path that writes a Subscription must mirror it here via
// ApplySubscriptionProjection so reads never disagree with the
// subscriptions table.
type User struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Name       string `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email      string `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Role       string `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user admin"`
	Status     string `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	APIKeyHash string `gorm:"type:varchar(64);index" json:"-"`

	// Stripe customer linkage, created lazily on first checkout.
	StripeCustomerID string `gorm:"type:varchar(191);default:'';index" json:"-"`

	// Cached subscription projection.
	SubscriptionStatus   string     `gorm:"type:varchar(32);default:''" json:"subscription_status"`
	SubscriptionStart    *time.Time `gorm:"type:timestamp;default:null" json:"subscription_start,omitempty"`
	SubscriptionExpiry   *time.Time `gorm:"type:timestamp;default:null" json:"subscription_expiry,omitempty"`
	ActiveSubscriptionID *uint      `gorm:"default:null" json:"active_subscription,omitempty"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// ApplySubscriptionProjection recomputes the cached subscription fields from
// a subscription row. Passing nil clears the projection. All writers go
// through this one helper so partial, divergent updates cannot happen.
func (u *User) ApplySubscriptionProjection(sub *Subscription) {
	if sub == nil {
		u.SubscriptionStatus = ""
		u.SubscriptionStart = nil
		u.SubscriptionExpiry = nil
		u.ActiveSubscriptionID = nil
		return
	}

	u.SubscriptionStatus = sub.Status
	start := sub.StartDate
	end := sub.EndDate
	u.SubscriptionStart = &start
	u.SubscriptionExpiry = &end
	if sub.Status == SubscriptionStatusActive {
		id := sub.ID
		u.ActiveSubscriptionID = &id
	} else {
		u.ActiveSubscriptionID = nil
	}
}

// HashAPIKey returns the stored lookup hash for a raw API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
