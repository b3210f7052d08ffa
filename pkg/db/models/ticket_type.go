package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TicketType is read-mostly catalog data. Quantity is a soft cap enforced by
// computed sold counts, never a decrementing counter.
type TicketType struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ConferenceID    uuid.UUID       `gorm:"column:conference_id;type:uuid;not null;index"`
	Name            string          `gorm:"column:name;not null"`
	Description     *string         `gorm:"column:description"`
	Price           decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	TotalQuantity   int             `gorm:"column:total_quantity;not null;default:0"`
	LimitPerUser    int             `gorm:"column:limit_per_user;not null;default:0"`
	AvailableFrom   *time.Time      `gorm:"column:available_from"`
	AvailableUntil  *time.Time      `gorm:"column:available_until"`
	RequiresVoucher bool            `gorm:"column:requires_voucher;not null;default:false"`
	IsActive        bool            `gorm:"column:is_active;not null;default:true"`
	DeletedAt       gorm.DeletedAt  `gorm:"column:deleted_at;index"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// AvailableAt reports whether the ticket type can be sold at the given time.
func (t TicketType) AvailableAt(now time.Time) bool {
	if !t.IsActive {
		return false
	}
	if t.AvailableFrom != nil && now.Before(*t.AvailableFrom) {
		return false
	}
	if t.AvailableUntil != nil && now.After(*t.AvailableUntil) {
		return false
	}
	return true
}
