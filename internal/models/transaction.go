package models

import (
	"gorm.io/datatypes"
)

// Transaction is the ledger record of a single monetary movement.
// Amounts are stored in minor units (cents) to avoid float drift.
type Transaction struct {
	BaseModel
	UserID        string            `gorm:"type:uuid;not null;index" json:"user_id"`
	AmountMinor   int64             `gorm:"not null" json:"amount_minor"`
	Currency      string            `gorm:"type:varchar(3);not null" json:"currency"`
	Gateway       string            `gorm:"type:varchar(32);not null" json:"gateway"`
	GatewayRef    string            `gorm:"index" json:"gateway_ref"`
	Status        TransactionStatus `gorm:"type:varchar(16);default:'pending';index" json:"status"`
	CourseID      string            `gorm:"not null" json:"course_id"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Metadata      datatypes.JSON    `gorm:"type:jsonb" json:"metadata,omitempty"`
}
