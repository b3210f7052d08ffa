package models

import (
	"time"

	"github.com/google/uuid"
)

// Conference is the capacity and billing scope for registrations. The row
// doubles as the lock target for capacity reservations.
type Conference struct {
	ID                  uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Slug                string    `gorm:"column:slug;not null;uniqueIndex"`
	Name                string    `gorm:"column:name;not null"`
	TotalCapacity       int       `gorm:"column:total_capacity;not null;default:0"`
	Currency            string    `gorm:"column:currency;not null;default:'USD'"`
	StripeSecretKey     *string   `gorm:"column:stripe_secret_key"`
	StripeWebhookSecret *string   `gorm:"column:stripe_webhook_secret"`
	IsActive            bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Unbounded reports whether the conference has no global ticket cap.
func (c Conference) Unbounded() bool {
	return c.TotalCapacity == 0
}
