package models

import (
	"time"

	"gorm.io/datatypes"
)

// Subscription is a recurring billing relationship. CancelledAt and
// ReactivatedAt are mutually exclusive: setting one clears the other.
type Subscription struct {
	BaseModel
	UserID        string             `gorm:"type:uuid;not null;index" json:"user_id"`
	PlanID        string             `gorm:"not null" json:"plan_id"`
	CourseID      string             `gorm:"not null" json:"course_id"`
	AmountMinor   int64              `gorm:"not null" json:"amount_minor"`
	Currency      string             `gorm:"type:varchar(3);not null" json:"currency"`
	Interval      BillingInterval    `gorm:"type:varchar(16);not null" json:"interval"`
	TrialDays     int                `gorm:"default:0" json:"trial_days"`
	Status        SubscriptionStatus `gorm:"type:varchar(16);default:'active';index" json:"status"`
	NextPayment   time.Time          `json:"next_payment"`
	Gateway       string             `gorm:"type:varchar(32);not null" json:"gateway"`
	GatewaySubRef string             `gorm:"index" json:"gateway_sub_ref"`
	CancelledAt   *time.Time         `json:"cancelled_at,omitempty"`
	ReactivatedAt *time.Time         `json:"reactivated_at,omitempty"`
	Metadata      datatypes.JSON     `gorm:"type:jsonb" json:"metadata,omitempty"`
}
