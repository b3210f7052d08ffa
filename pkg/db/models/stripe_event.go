package models

import (
	"time"

	"github.com/google/uuid"
)

// StripeEvent is the authoritative webhook dedup record. The unique index on
// event_id is what guarantees a duplicate delivery cannot re-run a handler.
type StripeEvent struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ConferenceID uuid.UUID  `gorm:"column:conference_id;type:uuid;not null;index"`
	EventID      string     `gorm:"column:event_id;not null;uniqueIndex"`
	EventType    string     `gorm:"column:event_type;not null"`
	ProcessedAt  *time.Time `gorm:"column:processed_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
}
