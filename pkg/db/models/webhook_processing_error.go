package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookProcessingError captures a handler failure together with the raw
// payload. The webhook endpoint still acks the provider; operators reconcile
// from these rows.
type WebhookProcessingError struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ConferenceID *uuid.UUID      `gorm:"column:conference_id;type:uuid;index"`
	EventID      string          `gorm:"column:event_id"`
	EventType    string          `gorm:"column:event_type"`
	Payload      json.RawMessage `gorm:"column:payload;type:jsonb"`
	Message      string          `gorm:"column:message;not null"`
	ResolvedAt   *time.Time      `gorm:"column:resolved_at"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
}
