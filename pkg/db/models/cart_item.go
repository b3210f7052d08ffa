package models

import (
	"time"

	"github.com/google/uuid"
)

// CartItem references exactly one of ticket type or add-on, never both. The
// schema carries partial unique indexes on (cart_id, ticket_type_id) and
// (cart_id, addon_id) so racing inserts collapse into a single row.
type CartItem struct {
	ID           uuid.UUID   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CartID       uuid.UUID   `gorm:"column:cart_id;type:uuid;not null;index"`
	TicketTypeID *uuid.UUID  `gorm:"column:ticket_type_id;type:uuid"`
	TicketType   *TicketType `gorm:"foreignKey:TicketTypeID"`
	AddOnID      *uuid.UUID  `gorm:"column:addon_id;type:uuid"`
	AddOn        *AddOn      `gorm:"foreignKey:AddOnID"`
	Quantity     int         `gorm:"column:quantity;not null"`
	CreatedAt    time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

// IsTicket reports whether the row references a ticket type.
func (i CartItem) IsTicket() bool {
	return i.TicketTypeID != nil
}
