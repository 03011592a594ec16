package repository

import (
	"github.com/mbeckert/subhub/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
}

// PlanRepository defines the interface for plan catalog operations
type PlanRepository interface {
	GetByID(id uint) (*models.Plan, error)
	GetPublishedByID(id uint) (*models.Plan, error)
	ListPublished() ([]models.Plan, error)
}
