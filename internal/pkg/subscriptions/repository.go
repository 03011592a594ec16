package subscriptions

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mbeckert/subhub/app/models"
)

// Repository provides the DB operations used by the subscription service.
type Repository interface {
	CreateTransaction(txn *models.Transaction) error
	SaveTransaction(txn *models.Transaction) error
	GetTransactionBySessionID(sessionID string) (*models.Transaction, error)
	GetTransactionByPaymentIntentID(paymentIntentID string) (*models.Transaction, error)

	CreateSubscription(sub *models.Subscription) error
	SaveSubscription(sub *models.Subscription) error
	GetActiveSubscriptionByUser(userID uint) (*models.Subscription, error)
	ListOverdueActiveSubscriptions(asOf time.Time) ([]models.Subscription, error)

	GetUser(userID uint) (*models.User, error)
	SaveUser(user *models.User) error

	GetPlan(planID uint) (*models.Plan, error)
	GetPublishedPlan(planID uint) (*models.Plan, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a subscription repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateTransaction(txn *models.Transaction) error {
	return r.db.Create(txn).Error
}

func (r *gormRepository) SaveTransaction(txn *models.Transaction) error {
	return r.db.Save(txn).Error
}

func (r *gormRepository) GetTransactionBySessionID(sessionID string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.Where("provider_session_id = ?", sessionID).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *gormRepository) GetTransactionByPaymentIntentID(paymentIntentID string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.Where("provider_payment_intent_id = ?", paymentIntentID).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *gormRepository) CreateSubscription(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) GetActiveSubscriptionByUser(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListOverdueActiveSubscriptions(asOf time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status = ? AND end_date <= ?", models.SubscriptionStatusActive, asOf).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) GetUser(userID uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) SaveUser(user *models.User) error {
	return r.db.Save(user).Error
}

func (r *gormRepository) GetPlan(planID uint) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.First(&plan, planID).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) GetPublishedPlan(planID uint) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.
		Where("id = ? AND published = ? AND is_active = ?", planID, true, true).
		First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
