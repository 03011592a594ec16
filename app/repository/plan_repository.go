package repository

import (
	"gorm.io/gorm"

	"github.com/mbeckert/subhub/app/models"
)

type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) GetByID(id uint) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) GetPublishedByID(id uint) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.Where("id = ? AND published = ? AND is_active = ?", id, true, true).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) ListPublished() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.
		Where("published = ? AND is_active = ?", true, true).
		Order("sort ASC, price_monthly ASC").
		Find(&plans).Error
	return plans, err
}
