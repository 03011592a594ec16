package models

import "time"

// Plan is a purchasable subscription plan. Prices are stored in the smallest
// currency unit (cents) per billing period.
type Plan struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"type:varchar(100);not null" json:"name"`
	Description  string    `gorm:"type:text" json:"description"`
	PriceMonthly int64     `gorm:"not null;default:0" json:"price_monthly"`
	PriceYearly  int64     `gorm:"not null;default:0" json:"price_yearly"`
	Currency     string    `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	Published    bool      `gorm:"default:false;index" json:"published"`
	IsActive     bool      `gorm:"default:true;index" json:"is_active"`
	Sort         int       `gorm:"default:0" json:"sort"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PriceFor returns the plan price for a billing period tag.
func (p *Plan) PriceFor(billingPeriod string) int64 {
	if billingPeriod == BillingPeriodYearly {
		return p.PriceYearly
	}
	return p.PriceMonthly
}
