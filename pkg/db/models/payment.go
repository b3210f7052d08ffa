package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openconf/confreg-backend/pkg/enums"
)

// Payment records one settlement attempt against an order.
type Payment struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID          uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	Method           enums.PaymentMethod `gorm:"column:method;not null"`
	Status           enums.PaymentStatus `gorm:"column:status;not null;default:'pending'"`
	Amount           decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency         string              `gorm:"column:currency;not null;default:'USD'"`
	ProviderIntentID *string             `gorm:"column:provider_intent_id;index"`
	ProviderChargeID *string             `gorm:"column:provider_charge_id;index"`
	CreditID         *uuid.UUID          `gorm:"column:credit_id;type:uuid"`
	Reference        *string             `gorm:"column:reference"`
	Note             *string             `gorm:"column:note"`
	RecordedBy       *uuid.UUID          `gorm:"column:recorded_by;type:uuid"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
