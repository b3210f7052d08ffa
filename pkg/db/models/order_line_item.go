package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openconf/confreg-backend/pkg/enums"
)

// OrderLineItem is a write-once snapshot captured at checkout. Kind survives
// even if the catalog row is later soft-deleted, which keeps sold counts
// honest after catalog edits.
type OrderLineItem struct {
	ID           uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID      uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	Kind         enums.LineItemKind `gorm:"column:kind;not null"`
	TicketTypeID *uuid.UUID         `gorm:"column:ticket_type_id;type:uuid"`
	AddOnID      *uuid.UUID         `gorm:"column:addon_id;type:uuid"`
	Description  string             `gorm:"column:description;not null"`
	UnitPrice    decimal.Decimal    `gorm:"column:unit_price;type:numeric(12,2);not null"`
	Quantity     int                `gorm:"column:quantity;not null"`
	Discount     decimal.Decimal    `gorm:"column:discount;type:numeric(12,2);not null;default:0"`
	LineTotal    decimal.Decimal    `gorm:"column:line_total;type:numeric(12,2);not null"`
	CreatedAt    time.Time          `gorm:"column:created_at;autoCreateTime"`
}
