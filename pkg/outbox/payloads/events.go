package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openconf/confreg-backend/pkg/enums"
)

// OrderCreatedEvent signals a cart was converted into a pending order.
type OrderCreatedEvent struct {
	OrderID      uuid.UUID       `json:"order_id"`
	ConferenceID uuid.UUID       `json:"conference_id"`
	UserID       uuid.UUID       `json:"user_id"`
	Reference    string          `json:"reference"`
	Total        decimal.Decimal `json:"total"`
	Currency     string          `json:"currency"`
}

// OrderPaidEvent is emitted exactly once per PENDING→PAID transition. It is
// the trigger for confirmation email and badge provisioning downstream.
type OrderPaidEvent struct {
	OrderID      uuid.UUID           `json:"order_id"`
	ConferenceID uuid.UUID           `json:"conference_id"`
	UserID       uuid.UUID           `json:"user_id"`
	Reference    string              `json:"reference"`
	Total        decimal.Decimal     `json:"total"`
	Currency     string              `json:"currency"`
	Method       enums.PaymentMethod `json:"method"`
	PaidAt       time.Time           `json:"paid_at"`
}

// OrderCancelledEvent is emitted when a pending order is cancelled, whether
// by the buyer, an operator, or hold expiry.
type OrderCancelledEvent struct {
	OrderID      uuid.UUID `json:"order_id"`
	ConferenceID uuid.UUID `json:"conference_id"`
	UserID       uuid.UUID `json:"user_id"`
	Reference    string    `json:"reference"`
	CancelledAt  time.Time `json:"cancelled_at"`
	Reason       string    `json:"reason,omitempty"`
}

// OrderRefundedEvent reports a full or partial refund settlement.
type OrderRefundedEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	ConferenceID   uuid.UUID         `json:"conference_id"`
	UserID         uuid.UUID         `json:"user_id"`
	Reference      string            `json:"reference"`
	RefundedAmount decimal.Decimal   `json:"refunded_amount"`
	Status         enums.OrderStatus `json:"status"`
}

// OrderExpiredEvent reports that a pending order's hold lapsed and the sweep
// cancelled it.
type OrderExpiredEvent struct {
	OrderID      uuid.UUID `json:"order_id"`
	ConferenceID uuid.UUID `json:"conference_id"`
	UserID       uuid.UUID `json:"user_id"`
	Reference    string    `json:"reference"`
	ExpiredAt    time.Time `json:"expired_at"`
}

// CartExpiredEvent reports that an abandoned open cart was expired.
type CartExpiredEvent struct {
	CartID       uuid.UUID `json:"cart_id"`
	ConferenceID uuid.UUID `json:"conference_id"`
	UserID       uuid.UUID `json:"user_id"`
	ExpiredAt    time.Time `json:"expired_at"`
}
