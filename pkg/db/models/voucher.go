package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openconf/confreg-backend/pkg/enums"
)

// Voucher is a discount/access code. The scope sets restrict which lines it
// discounts; empty sets apply to every line of that kind.
type Voucher struct {
	ID                   uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ConferenceID         uuid.UUID         `gorm:"column:conference_id;type:uuid;not null;uniqueIndex:ux_vouchers_conference_code"`
	Code                 string            `gorm:"column:code;not null;uniqueIndex:ux_vouchers_conference_code"`
	Kind                 enums.VoucherKind `gorm:"column:kind;not null"`
	DiscountValue        decimal.Decimal   `gorm:"column:discount_value;type:numeric(12,2);not null;default:0"`
	MaxUses              int               `gorm:"column:max_uses;not null;default:0"`
	TimesUsed            int               `gorm:"column:times_used;not null;default:0"`
	ValidFrom            *time.Time        `gorm:"column:valid_from"`
	ValidUntil           *time.Time        `gorm:"column:valid_until"`
	UnlocksHiddenTickets bool              `gorm:"column:unlocks_hidden_tickets;not null;default:false"`
	IsActive             bool              `gorm:"column:is_active;not null;default:true"`
	TicketTypes          []TicketType      `gorm:"many2many:voucher_ticket_types"`
	AddOns               []AddOn           `gorm:"many2many:voucher_addons"`
	CreatedAt            time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// UsableAt reports whether the voucher may still be applied at the given time.
func (v Voucher) UsableAt(now time.Time) bool {
	if !v.IsActive {
		return false
	}
	if v.ValidFrom != nil && now.Before(*v.ValidFrom) {
		return false
	}
	if v.ValidUntil != nil && now.After(*v.ValidUntil) {
		return false
	}
	if v.MaxUses > 0 && v.TimesUsed >= v.MaxUses {
		return false
	}
	return true
}
