package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openconf/confreg-backend/pkg/enums"
)

// Order is immutable once created except for status and hold_expires_at.
// VoucherSnapshot freezes the voucher terms at checkout time so later catalog
// edits never change what the buyer was charged.
type Order struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ConferenceID    uuid.UUID         `gorm:"column:conference_id;type:uuid;not null;index"`
	UserID          uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	CartID          *uuid.UUID        `gorm:"column:cart_id;type:uuid"`
	Reference       string            `gorm:"column:reference;not null;uniqueIndex"`
	Status          enums.OrderStatus `gorm:"column:status;not null;default:'pending'"`
	Currency        string            `gorm:"column:currency;not null;default:'USD'"`
	Subtotal        decimal.Decimal   `gorm:"column:subtotal;type:numeric(12,2);not null"`
	Discount        decimal.Decimal   `gorm:"column:discount;type:numeric(12,2);not null;default:0"`
	Total           decimal.Decimal   `gorm:"column:total;type:numeric(12,2);not null"`
	VoucherID       *uuid.UUID        `gorm:"column:voucher_id;type:uuid"`
	VoucherSnapshot json.RawMessage   `gorm:"column:voucher_snapshot;type:jsonb"`
	HoldExpiresAt   *time.Time        `gorm:"column:hold_expires_at"`
	BillingName     string            `gorm:"column:billing_name"`
	BillingEmail    string            `gorm:"column:billing_email"`
	Items           []OrderLineItem   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payments        []Payment         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	PaidAt          *time.Time        `gorm:"column:paid_at"`
	CancelledAt     *time.Time        `gorm:"column:cancelled_at"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// HoldExpired reports whether a pending order's inventory hold has lapsed.
func (o Order) HoldExpired(now time.Time) bool {
	return o.Status == enums.OrderStatusPending &&
		o.HoldExpiresAt != nil && now.After(*o.HoldExpiresAt)
}

// VoucherSnapshotData is the JSON shape persisted in VoucherSnapshot.
type VoucherSnapshotData struct {
	Code                 string            `json:"code"`
	Kind                 enums.VoucherKind `json:"kind"`
	DiscountValue        decimal.Decimal   `json:"discount_value"`
	UnlocksHiddenTickets bool              `json:"unlocks_hidden_tickets"`
}
