package models

import (
	"gorm.io/datatypes"
)

// WebhookEvent is the idempotency record for one gateway event delivery.
// (Gateway, EventID) is the dedup key; replays of an accepted event are
// answered from this record without touching the ledger again.
type WebhookEvent struct {
	BaseModel
	Gateway    string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_gateway_event" json:"gateway"`
	EventID    string         `gorm:"not null;uniqueIndex:idx_gateway_event" json:"event_id"`
	EventType  string         `gorm:"type:varchar(64);not null" json:"event_type"`
	Payload    datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`
	Outcome    WebhookOutcome `gorm:"type:varchar(16);not null" json:"outcome"`
	ErrorCode  string         `json:"error_code,omitempty"`
	ReceivedAt int64          `gorm:"autoCreateTime" json:"received_at"`
}
