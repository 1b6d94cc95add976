package repositories

import (
	"errors"

	"gorm.io/gorm"

	"skylearn_backend/internal/models"
)

var (
	ErrWebhookEventNotFound = errors.New("webhook event not found")
)

// WebhookEventRepository is the idempotency store: one row per gateway event
// id, recording how it was processed. The unique (gateway, event_id) index
// backstops concurrent duplicate deliveries.
type WebhookEventRepository interface {
	Find(gateway, eventID string) (*models.WebhookEvent, error)
	Record(event *models.WebhookEvent) error
	// MarkDuplicate flips an accepted event to the duplicate outcome when
	// the gateway redelivers it. Rejected events keep their outcome so the
	// original rejection code can be replayed.
	MarkDuplicate(gateway, eventID string) error
}

type webhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) Find(gateway, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.Where("gateway = ? AND event_id = ?", gateway, eventID).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWebhookEventNotFound
		}
		return nil, err
	}
	return &event, nil
}

func (r *webhookEventRepository) Record(event *models.WebhookEvent) error {
	return r.db.Create(event).Error
}

func (r *webhookEventRepository) MarkDuplicate(gateway, eventID string) error {
	return r.db.Model(&models.WebhookEvent{}).
		Where("gateway = ? AND event_id = ? AND outcome = ?", gateway, eventID, models.WebhookOutcomeAccepted).
		Update("outcome", models.WebhookOutcomeDuplicate).Error
}
