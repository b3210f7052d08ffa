package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openconf/confreg-backend/pkg/enums"
)

// Credit is a spendable balance scoped to one (user, conference) pair,
// typically issued when a refund is granted.
type Credit struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID          uuid.UUID          `gorm:"column:user_id;type:uuid;not null;index"`
	ConferenceID    uuid.UUID          `gorm:"column:conference_id;type:uuid;not null;index"`
	Status          enums.CreditStatus `gorm:"column:status;not null;default:'available'"`
	Amount          decimal.Decimal    `gorm:"column:amount;type:numeric(12,2);not null"`
	RemainingAmount decimal.Decimal    `gorm:"column:remaining_amount;type:numeric(12,2);not null"`
	Provenance      string             `gorm:"column:provenance"`
	SourceOrderID   *uuid.UUID         `gorm:"column:source_order_id;type:uuid"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
