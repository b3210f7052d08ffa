package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/openconf/confreg-backend/pkg/enums"
)

// Cart belongs to exactly one (user, conference) pair. A partial unique index
// in the schema enforces at most one open cart per pair.
type Cart struct {
	ID           uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID        `gorm:"column:user_id;type:uuid;not null;index"`
	ConferenceID uuid.UUID        `gorm:"column:conference_id;type:uuid;not null;index"`
	Status       enums.CartStatus `gorm:"column:status;not null;default:'open'"`
	ExpiresAt    *time.Time       `gorm:"column:expires_at"`
	VoucherID    *uuid.UUID       `gorm:"column:voucher_id;type:uuid"`
	Voucher      *Voucher         `gorm:"foreignKey:VoucherID"`
	Items        []CartItem       `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// ExpiredAt reports whether the cart's soft timeout has elapsed.
func (c Cart) ExpiredAt(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}
