package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AddOn is an optional extra (workshop seat, dinner, merch). Not capacity
// gated; may require one of a set of ticket types to already be in the cart.
type AddOn struct {
	ID                  uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ConferenceID        uuid.UUID       `gorm:"column:conference_id;type:uuid;not null;index"`
	Name                string          `gorm:"column:name;not null"`
	Description         *string         `gorm:"column:description"`
	Price               decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	LimitPerUser        int             `gorm:"column:limit_per_user;not null;default:0"`
	AvailableFrom       *time.Time      `gorm:"column:available_from"`
	AvailableUntil      *time.Time      `gorm:"column:available_until"`
	IsActive            bool            `gorm:"column:is_active;not null;default:true"`
	RequiredTicketTypes []TicketType    `gorm:"many2many:addon_required_ticket_types"`
	DeletedAt           gorm.DeletedAt  `gorm:"column:deleted_at;index"`
	CreatedAt           time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName matches the migration, which creates "addons" rather than
// GORM's default pluralization "add_ons".
func (AddOn) TableName() string { return "addons" }

// AvailableAt reports whether the add-on can be sold at the given time.
func (a AddOn) AvailableAt(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	if a.AvailableFrom != nil && now.Before(*a.AvailableFrom) {
		return false
	}
	if a.AvailableUntil != nil && now.After(*a.AvailableUntil) {
		return false
	}
	return true
}
