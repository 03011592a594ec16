package models

import (
	"encoding/json"
	"time"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

const (
	PayableTypeSubscriptionPlan = "subscription_plan"
)

// Transaction records one payment attempt against the external provider.
// Rows are created when a checkout session starts and are only ever mutated
// by the reconciliation engine afterwards; they are never deleted.
type Transaction struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Reference string `gorm:"type:varchar(36);not null;uniqueIndex" json:"reference"`

	// Provider identifiers. The session id is set at creation and is the
	// business key for completion events; the payment intent id arrives
	// later and keys failure events.
	ProviderSessionID       string `gorm:"type:varchar(191);not null;uniqueIndex" json:"provider_session_id"`
	ProviderPaymentIntentID string `gorm:"type:varchar(191);default:'';index" json:"provider_payment_intent_id"`

	Amount   int64  `gorm:"not null;default:0" json:"amount"`
	Currency string `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	Status   string `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`

	// Free-form string map, serialized as JSON. Written through
	// MergeMetadata only so later writers never clobber earlier keys.
	MetadataJSON string `gorm:"type:text" json:"metadata_json"`

	UserID      uint   `gorm:"not null;index" json:"user_id"`
	PlanID      uint   `gorm:"not null;index" json:"plan_id"`
	PayableType string `gorm:"type:varchar(32);not null;default:'subscription_plan'" json:"payable_type"`

	CompletedAt *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Metadata decodes the stored metadata mapping. An empty or broken column
// yields an empty map rather than an error; the column is advisory data.
func (t *Transaction) Metadata() map[string]string {
	out := map[string]string{}
	if t.MetadataJSON == "" {
		return out
	}
	_ = json.Unmarshal([]byte(t.MetadataJSON), &out)
	return out
}

// MergeMetadata folds entries into the stored mapping, keeping every
// existing key that the update does not name.
func (t *Transaction) MergeMetadata(entries map[string]string) error {
	merged := t.Metadata()
	for k, v := range entries {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	t.MetadataJSON = string(raw)
	return nil
}
