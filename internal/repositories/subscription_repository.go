package repositories

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"skylearn_backend/internal/models"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

type SubscriptionRepository interface {
	Create(sub *models.Subscription) error
	FindByID(id string) (*models.Subscription, error)
	FindByGatewaySubRef(gateway, ref string) (*models.Subscription, error)
	Update(sub *models.Subscription) error
	List(userID string, page, perPage int) ([]models.Subscription, int64, error)
	FindDueForRenewal(now time.Time, limit int) ([]models.Subscription, error)
}

type subscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) Create(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *subscriptionRepository) FindByID(id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("id = ?", id).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) FindByGatewaySubRef(gateway, ref string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("gateway = ? AND gateway_sub_ref = ?", gateway, ref).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) Update(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *subscriptionRepository) List(userID string, page, perPage int) ([]models.Subscription, int64, error) {
	query := r.db.Model(&models.Subscription{})
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var subs []models.Subscription
	err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&subs).Error
	if err != nil {
		return nil, 0, err
	}

	return subs, total, nil
}

func (r *subscriptionRepository) FindDueForRenewal(now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status IN ? AND next_payment <= ?",
			[]models.SubscriptionStatus{models.SubscriptionStatusActive, models.SubscriptionStatusTrialing},
			now).
		Order("next_payment ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}
