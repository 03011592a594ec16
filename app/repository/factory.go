package repository

import (
	"sync"

	"gorm.io/gorm"

	"github.com/mbeckert/subhub/internal/pkg/database"
)

// Repositories bundles every repository instance.
type Repositories struct {
	User UserRepository
	Plan PlanRepository
}

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{db: db}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = &Repositories{
			User: NewUserRepository(f.db),
			Plan: NewPlanRepository(f.db),
		}
	})
	return f.repos
}

// GetUserRepository returns the user repository instance
func (f *Factory) GetUserRepository() UserRepository {
	return f.GetRepositories().User
}

// GetPlanRepository returns the plan repository instance
func (f *Factory) GetPlanRepository() PlanRepository {
	return f.GetRepositories().Plan
}

var (
	globalFactory *Factory
	globalOnce    sync.Once
)

// GetGlobalFactory returns the process-wide factory bound to the shared
// database handle.
func GetGlobalFactory() *Factory {
	globalOnce.Do(func() {
		globalFactory = NewFactory(database.GetDB())
	})
	return globalFactory
}
