package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/hollowpine/storefront-backend/pkg/enums"
)

// ProcessedWebhookEvent is the durable idempotency ledger. A row exists only
// for events whose handling committed; it is written in the same transaction
// as the mutations it guards.
type ProcessedWebhookEvent struct {
	EventID    string                 `gorm:"column:event_id;primaryKey"`
	EventType  enums.WebhookEventType `gorm:"column:event_type;not null"`
	OrderID    *uuid.UUID             `gorm:"column:order_id;type:uuid"`
	ReceivedAt time.Time              `gorm:"column:received_at;autoCreateTime"`
}
