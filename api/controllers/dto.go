package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openconf/confreg-backend/internal/pricing"
	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
)

// ConferenceCatalogResponse is the public catalog view for one conference.
type ConferenceCatalogResponse struct {
	ID            uuid.UUID            `json:"id"`
	Slug          string               `json:"slug"`
	Name          string               `json:"name"`
	Currency      string               `json:"currency"`
	TotalCapacity int                  `json:"total_capacity"`
	TicketTypes   []TicketTypeResponse `json:"ticket_types"`
	AddOns        []AddOnResponse      `json:"addons"`
}

type TicketTypeResponse struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Description     *string         `json:"description,omitempty"`
	Price           decimal.Decimal `json:"price"`
	RequiresVoucher bool            `json:"requires_voucher"`
	AvailableFrom   *time.Time      `json:"available_from,omitempty"`
	AvailableUntil  *time.Time      `json:"available_until,omitempty"`
}

type AddOnResponse struct {
	ID                    uuid.UUID       `json:"id"`
	Name                  string          `json:"name"`
	Description           *string         `json:"description,omitempty"`
	Price                 decimal.Decimal `json:"price"`
	RequiredTicketTypeIDs []uuid.UUID     `json:"required_ticket_type_ids,omitempty"`
	AvailableFrom         *time.Time      `json:"available_from,omitempty"`
	AvailableUntil        *time.Time      `json:"available_until,omitempty"`
}

func newConferenceCatalog(conference *models.Conference, ticketTypes []models.TicketType, addOns []models.AddOn) ConferenceCatalogResponse {
	out := ConferenceCatalogResponse{
		ID:            conference.ID,
		Slug:          conference.Slug,
		Name:          conference.Name,
		Currency:      conference.Currency,
		TotalCapacity: conference.TotalCapacity,
		TicketTypes:   make([]TicketTypeResponse, 0, len(ticketTypes)),
		AddOns:        make([]AddOnResponse, 0, len(addOns)),
	}
	for _, tt := range ticketTypes {
		out.TicketTypes = append(out.TicketTypes, TicketTypeResponse{
			ID:              tt.ID,
			Name:            tt.Name,
			Description:     tt.Description,
			Price:           tt.Price,
			RequiresVoucher: tt.RequiresVoucher,
			AvailableFrom:   tt.AvailableFrom,
			AvailableUntil:  tt.AvailableUntil,
		})
	}
	for _, addOn := range addOns {
		resp := AddOnResponse{
			ID:             addOn.ID,
			Name:           addOn.Name,
			Description:    addOn.Description,
			Price:          addOn.Price,
			AvailableFrom:  addOn.AvailableFrom,
			AvailableUntil: addOn.AvailableUntil,
		}
		for _, tt := range addOn.RequiredTicketTypes {
			resp.RequiredTicketTypeIDs = append(resp.RequiredTicketTypeIDs, tt.ID)
		}
		out.AddOns = append(out.AddOns, resp)
	}
	return out
}

// CartResponse is a cart plus its live pricing summary.
type CartResponse struct {
	ID           uuid.UUID          `json:"id"`
	ConferenceID uuid.UUID          `json:"conference_id"`
	Status       enums.CartStatus   `json:"status"`
	ExpiresAt    *time.Time         `json:"expires_at,omitempty"`
	VoucherCode  *string            `json:"voucher_code,omitempty"`
	Items        []CartItemResponse `json:"items"`
	Subtotal     decimal.Decimal    `json:"subtotal"`
	Discount     decimal.Decimal    `json:"discount"`
	Total        decimal.Decimal    `json:"total"`
}

type CartItemResponse struct {
	ID           uuid.UUID          `json:"id"`
	Kind         enums.LineItemKind `json:"kind"`
	TicketTypeID *uuid.UUID         `json:"ticket_type_id,omitempty"`
	AddOnID      *uuid.UUID         `json:"addon_id,omitempty"`
	Description  string             `json:"description"`
	UnitPrice    decimal.Decimal    `json:"unit_price"`
	Quantity     int                `json:"quantity"`
	Subtotal     decimal.Decimal    `json:"subtotal"`
	Discount     decimal.Decimal    `json:"discount"`
	LineTotal    decimal.Decimal    `json:"line_total"`
}

func newCartResponse(cart *models.Cart, summary pricing.Summary) CartResponse {
	out := CartResponse{
		ID:           cart.ID,
		ConferenceID: cart.ConferenceID,
		Status:       cart.Status,
		ExpiresAt:    cart.ExpiresAt,
		Items:        make([]CartItemResponse, 0, len(summary.Lines)),
		Subtotal:     summary.Subtotal,
		Discount:     summary.Discount,
		Total:        summary.Total,
	}
	if cart.Voucher != nil {
		code := cart.Voucher.Code
		out.VoucherCode = &code
	}
	for _, line := range summary.Lines {
		out.Items = append(out.Items, CartItemResponse{
			ID:           line.ItemID,
			Kind:         line.Kind,
			TicketTypeID: line.TicketTypeID,
			AddOnID:      line.AddOnID,
			Description:  line.Description,
			UnitPrice:    line.UnitPrice,
			Quantity:     line.Quantity,
			Subtotal:     line.Subtotal,
			Discount:     line.Discount,
			LineTotal:    line.LineTotal,
		})
	}
	return out
}

// OrderResponse is the buyer-facing order view.
type OrderResponse struct {
	ID            uuid.UUID           `json:"id"`
	ConferenceID  uuid.UUID           `json:"conference_id"`
	Reference     string              `json:"reference"`
	Status        enums.OrderStatus   `json:"status"`
	Currency      string              `json:"currency"`
	Subtotal      decimal.Decimal     `json:"subtotal"`
	Discount      decimal.Decimal     `json:"discount"`
	Total         decimal.Decimal     `json:"total"`
	HoldExpiresAt *time.Time          `json:"hold_expires_at,omitempty"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
	CancelledAt   *time.Time          `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	Items         []OrderLineResponse `json:"items"`
	Payments      []PaymentResponse   `json:"payments,omitempty"`
}

type OrderLineResponse struct {
	ID           uuid.UUID          `json:"id"`
	Kind         enums.LineItemKind `json:"kind"`
	TicketTypeID *uuid.UUID         `json:"ticket_type_id,omitempty"`
	AddOnID      *uuid.UUID         `json:"addon_id,omitempty"`
	Description  string             `json:"description"`
	UnitPrice    decimal.Decimal    `json:"unit_price"`
	Quantity     int                `json:"quantity"`
	Discount     decimal.Decimal    `json:"discount"`
	LineTotal    decimal.Decimal    `json:"line_total"`
}

type PaymentResponse struct {
	ID     uuid.UUID           `json:"id"`
	Method enums.PaymentMethod `json:"method"`
	Status enums.PaymentStatus `json:"status"`
	Amount decimal.Decimal     `json:"amount"`
}

func newOrderResponse(order *models.Order) OrderResponse {
	out := OrderResponse{
		ID:            order.ID,
		ConferenceID:  order.ConferenceID,
		Reference:     order.Reference,
		Status:        order.Status,
		Currency:      order.Currency,
		Subtotal:      order.Subtotal,
		Discount:      order.Discount,
		Total:         order.Total,
		HoldExpiresAt: order.HoldExpiresAt,
		PaidAt:        order.PaidAt,
		CancelledAt:   order.CancelledAt,
		CreatedAt:     order.CreatedAt,
		Items:         make([]OrderLineResponse, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		out.Items = append(out.Items, OrderLineResponse{
			ID:           item.ID,
			Kind:         item.Kind,
			TicketTypeID: item.TicketTypeID,
			AddOnID:      item.AddOnID,
			Description:  item.Description,
			UnitPrice:    item.UnitPrice,
			Quantity:     item.Quantity,
			Discount:     item.Discount,
			LineTotal:    item.LineTotal,
		})
	}
	for _, payment := range order.Payments {
		out.Payments = append(out.Payments, PaymentResponse{
			ID:     payment.ID,
			Method: payment.Method,
			Status: payment.Status,
			Amount: payment.Amount,
		})
	}
	return out
}

func newOrderList(orders []models.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, newOrderResponse(&orders[i]))
	}
	return out
}

// OrderListResponse is one page of orders plus the cursor for the next page.
type OrderListResponse struct {
	Orders     []OrderResponse `json:"orders"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// CreditResponse is the buyer-facing credit view.
type CreditResponse struct {
	ID              uuid.UUID          `json:"id"`
	ConferenceID    uuid.UUID          `json:"conference_id"`
	Status          enums.CreditStatus `json:"status"`
	Amount          decimal.Decimal    `json:"amount"`
	RemainingAmount decimal.Decimal    `json:"remaining_amount"`
	SourceOrderID   *uuid.UUID         `json:"source_order_id,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

func newCreditList(credits []models.Credit) []CreditResponse {
	out := make([]CreditResponse, 0, len(credits))
	for _, credit := range credits {
		out = append(out, CreditResponse{
			ID:              credit.ID,
			ConferenceID:    credit.ConferenceID,
			Status:          credit.Status,
			Amount:          credit.Amount,
			RemainingAmount: credit.RemainingAmount,
			SourceOrderID:   credit.SourceOrderID,
			CreatedAt:       credit.CreatedAt,
		})
	}
	return out
}

// VoucherResponse is the admin view of a minted voucher.
type VoucherResponse struct {
	ID                   uuid.UUID         `json:"id"`
	ConferenceID         uuid.UUID         `json:"conference_id"`
	Code                 string            `json:"code"`
	Kind                 enums.VoucherKind `json:"kind"`
	DiscountValue        decimal.Decimal   `json:"discount_value"`
	MaxUses              int               `json:"max_uses"`
	UnlocksHiddenTickets bool              `json:"unlocks_hidden_tickets"`
}

func newVoucherList(vouchers []models.Voucher) []VoucherResponse {
	out := make([]VoucherResponse, 0, len(vouchers))
	for _, voucher := range vouchers {
		out = append(out, VoucherResponse{
			ID:                   voucher.ID,
			ConferenceID:         voucher.ConferenceID,
			Code:                 voucher.Code,
			Kind:                 voucher.Kind,
			DiscountValue:        voucher.DiscountValue,
			MaxUses:              voucher.MaxUses,
			UnlocksHiddenTickets: voucher.UnlocksHiddenTickets,
		})
	}
	return out
}
