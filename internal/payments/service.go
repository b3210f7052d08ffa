package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	stripesdk "github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/openconf/confreg-backend/internal/catalog"
	"github.com/openconf/confreg-backend/internal/orders"
	pkgdb "github.com/openconf/confreg-backend/pkg/db"
	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/outbox"
	"github.com/openconf/confreg-backend/pkg/stripe"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// paymentGateway is the slice of the Stripe wrapper this service needs.
type paymentGateway interface {
	CreateCustomer(ctx context.Context, secretKey string, params stripe.CustomerCreateParams) (*stripesdk.Customer, error)
	CreatePaymentIntent(ctx context.Context, secretKey string, params stripe.PaymentIntentCreateParams) (*stripesdk.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, secretKey, intentID string) (*stripesdk.PaymentIntent, error)
}

// ServiceParams wires the payments service dependencies.
type ServiceParams struct {
	Orders            *orders.Repository
	Catalog           *catalog.Repository
	Events            *outbox.Service
	Gateway           paymentGateway
	TransactionRunner txRunner
	Now               func() time.Time
}

// Service initiates provider payments and records out-of-band settlements
// (comp and manual). All PENDING→PAID transitions funnel through
// orders.MarkPaid.
type Service struct {
	orders  *orders.Repository
	catalog *catalog.Repository
	events  *outbox.Service
	gateway paymentGateway
	tx      txRunner
	now     func() time.Time
}

// NewService builds a payments service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		orders:  params.Orders,
		catalog: params.Catalog,
		events:  params.Events,
		gateway: params.Gateway,
		tx:      params.TransactionRunner,
		now:     now,
	}, nil
}

// IntentResult is returned to the client to confirm the payment browser-side.
type IntentResult struct {
	PaymentID    uuid.UUID
	IntentID     string
	ClientSecret string
	Amount       decimal.Decimal
	Currency     string
}

// InitiatePayment creates (or resumes) a provider payment intent for the
// order's outstanding balance. Retries reuse the pending intent instead of
// minting a second charge.
func (s *Service) InitiatePayment(ctx context.Context, userID, orderID uuid.UUID) (*IntentResult, error) {
	var result *IntentResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		order, err := s.orders.LockOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")
		}
		if order.Status != enums.OrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not pending")
		}
		if order.HoldExpired(now) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order hold has expired")
		}

		settled, err := s.orders.SumSucceededPayments(tx, order.ID)
		if err != nil {
			return err
		}
		balance := order.Total.Sub(settled)
		if !balance.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no outstanding balance")
		}

		conference, err := s.catalog.WithTx(tx).GetConferenceByID(ctx, order.ConferenceID)
		if err != nil {
			return err
		}
		var secretKey string
		if conference.StripeSecretKey != nil {
			secretKey = *conference.StripeSecretKey
		}

		if resumed, err := s.resumePendingIntent(ctx, tx, order, secretKey); err != nil {
			return err
		} else if resumed != nil {
			result = resumed
			return nil
		}

		customerID, err := s.getOrCreateCustomer(ctx, tx, order, secretKey)
		if err != nil {
			return err
		}

		intent, err := s.gateway.CreatePaymentIntent(ctx, secretKey, stripe.PaymentIntentCreateParams{
			Amount:     balance,
			Currency:   order.Currency,
			CustomerID: customerID,
			Metadata: map[string]string{
				"order_id":      order.ID.String(),
				"conference_id": order.ConferenceID.String(),
				"reference":     order.Reference,
			},
			// deterministic per order: a retried initiation after a dropped
			// response resolves to the same intent
			IdempotencyKey: fmt.Sprintf("intent-%s", order.ID),
		})
		if err != nil {
			return err
		}

		intentID := intent.ID
		payment := models.Payment{
			ID:               uuid.New(),
			OrderID:          order.ID,
			Method:           enums.PaymentMethodStripe,
			Status:           enums.PaymentStatusPending,
			Amount:           balance,
			Currency:         order.Currency,
			ProviderIntentID: &intentID,
		}
		if err := s.orders.CreatePayment(tx, &payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment intent")
		}

		result = &IntentResult{
			PaymentID:    payment.ID,
			IntentID:     intent.ID,
			ClientSecret: intent.ClientSecret,
			Amount:       balance,
			Currency:     order.Currency,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// resumePendingIntent returns the existing pending provider payment for the
// order, refreshed from the provider, or nil when there is none.
func (s *Service) resumePendingIntent(ctx context.Context, tx *gorm.DB, order *models.Order, secretKey string) (*IntentResult, error) {
	rows, err := s.orders.ListPayments(tx, order.ID)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		payment := rows[i]
		if payment.Method != enums.PaymentMethodStripe ||
			payment.Status != enums.PaymentStatusPending ||
			payment.ProviderIntentID == nil {
			continue
		}
		intent, err := s.gateway.GetPaymentIntent(ctx, secretKey, *payment.ProviderIntentID)
		if err != nil {
			return nil, err
		}
		if intent.Status == stripesdk.PaymentIntentStatusCanceled {
			payment.Status = enums.PaymentStatusFailed
			if err := s.orders.UpdatePayment(tx, &payment); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark cancelled intent failed")
			}
			continue
		}
		return &IntentResult{
			PaymentID:    payment.ID,
			IntentID:     intent.ID,
			ClientSecret: intent.ClientSecret,
			Amount:       payment.Amount,
			Currency:     payment.Currency,
		}, nil
	}
	return nil, nil
}

// getOrCreateCustomer resolves the provider customer for the order's
// (user, conference) pair, creating one on first use. A concurrent create is
// absorbed by re-reading after the unique-index violation.
func (s *Service) getOrCreateCustomer(ctx context.Context, tx *gorm.DB, order *models.Order, secretKey string) (string, error) {
	var row models.StripeCustomer
	err := tx.Where("user_id = ? AND conference_id = ?", order.UserID, order.ConferenceID).
		First(&row).Error
	if err == nil {
		return row.CustomerID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load provider customer")
	}

	customer, err := s.gateway.CreateCustomer(ctx, secretKey, stripe.CustomerCreateParams{
		Email:          order.BillingEmail,
		Name:           order.BillingName,
		UserID:         order.UserID,
		ConferenceID:   order.ConferenceID,
		IdempotencyKey: fmt.Sprintf("customer-%s-%s", order.UserID, order.ConferenceID),
	})
	if err != nil {
		return "", err
	}

	row = models.StripeCustomer{
		ID:           uuid.New(),
		UserID:       order.UserID,
		ConferenceID: order.ConferenceID,
		CustomerID:   customer.ID,
	}
	if err := tx.Create(&row).Error; err != nil {
		if pkgdb.IsUniqueViolation(err, "ux_stripe_customers_user_conference") {
			var existing models.StripeCustomer
			if err := tx.Where("user_id = ? AND conference_id = ?", order.UserID, order.ConferenceID).
				First(&existing).Error; err != nil {
				return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load provider customer")
			}
			return existing.CustomerID, nil
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save provider customer")
	}
	return row.CustomerID, nil
}

// RecordComp settles a zero-total order without any provider involvement.
func (s *Service) RecordComp(ctx context.Context, orderID uuid.UUID, recordedBy uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		order, err := s.orders.LockOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not pending")
		}
		if !order.Total.IsZero() {
			return pkgerrors.New(pkgerrors.CodeValidation, "comp settlement requires a zero-total order")
		}

		by := recordedBy
		payment := models.Payment{
			ID:         uuid.New(),
			OrderID:    order.ID,
			Method:     enums.PaymentMethodComp,
			Status:     enums.PaymentStatusSucceeded,
			Amount:     decimal.Zero,
			Currency:   order.Currency,
			RecordedBy: &by,
		}
		if err := s.orders.CreatePayment(tx, &payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record comp payment")
		}

		return orders.MarkPaid(ctx, tx, s.events, s.orders, order, enums.PaymentMethodComp, now)
	})
}

// RecordManualInput describes an out-of-band settlement (bank transfer,
// on-site cash) recorded by an operator.
type RecordManualInput struct {
	OrderID    uuid.UUID
	Amount     decimal.Decimal
	Reference  string
	Note       string
	RecordedBy uuid.UUID
}

// RecordManual records an operator-entered payment. The order settles once
// cumulative succeeded payments cover the total.
func (s *Service) RecordManual(ctx context.Context, input RecordManualInput) error {
	if !input.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		order, err := s.orders.LockOrder(tx, input.OrderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not pending")
		}

		by := input.RecordedBy
		payment := models.Payment{
			ID:         uuid.New(),
			OrderID:    order.ID,
			Method:     enums.PaymentMethodManual,
			Status:     enums.PaymentStatusSucceeded,
			Amount:     input.Amount,
			Currency:   order.Currency,
			RecordedBy: &by,
		}
		if input.Reference != "" {
			ref := input.Reference
			payment.Reference = &ref
		}
		if input.Note != "" {
			note := input.Note
			payment.Note = &note
		}
		if err := s.orders.CreatePayment(tx, &payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record manual payment")
		}

		settled, err := s.orders.SumSucceededPayments(tx, order.ID)
		if err != nil {
			return err
		}
		if settled.GreaterThanOrEqual(order.Total) {
			return orders.MarkPaid(ctx, tx, s.events, s.orders, order, enums.PaymentMethodManual, now)
		}
		return nil
	})
}
