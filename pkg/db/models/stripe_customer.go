package models

import (
	"time"

	"github.com/google/uuid"
)

// StripeCustomer maps a (user, conference) pair to the provider customer
// created for it, so retried payment initiations reuse the same customer.
type StripeCustomer struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_stripe_customers_user_conference"`
	ConferenceID uuid.UUID `gorm:"column:conference_id;type:uuid;not null;uniqueIndex:ux_stripe_customers_user_conference"`
	CustomerID   string    `gorm:"column:customer_id;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
