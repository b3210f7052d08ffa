package refunds

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	stripesdk "github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/openconf/confreg-backend/internal/catalog"
	"github.com/openconf/confreg-backend/internal/credits"
	"github.com/openconf/confreg-backend/internal/orders"
	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/outbox"
	"github.com/openconf/confreg-backend/pkg/outbox/payloads"
	"github.com/openconf/confreg-backend/pkg/stripe"
)

const creditProvenanceRefund = "refund"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type refundGateway interface {
	CreateRefund(ctx context.Context, secretKey string, params stripe.RefundCreateParams) (*stripesdk.Refund, error)
}

// ServiceParams wires the refunds service dependencies.
type ServiceParams struct {
	Orders            *orders.Repository
	Catalog           *catalog.Repository
	Credits           *credits.Repository
	Events            *outbox.Service
	Gateway           refundGateway
	TransactionRunner txRunner
	Now               func() time.Time
}

// Service grants refunds as spendable credits. Provider charges are refunded
// at the gateway; the buyer receives a same-conference credit either way.
type Service struct {
	orders  *orders.Repository
	catalog *catalog.Repository
	credits *credits.Repository
	events  *outbox.Service
	gateway refundGateway
	tx      txRunner
	now     func() time.Time
}

// NewService builds a refunds service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if params.Credits == nil {
		return nil, fmt.Errorf("credits repository required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("refund gateway required")
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
		credits: params.Credits,
		events:  params.Events,
		gateway: params.Gateway,
		tx:      params.TransactionRunner,
		now:     now,
	}, nil
}

// CreateRefundInput describes a refund request. A zero Amount refunds the
// full refundable balance.
type CreateRefundInput struct {
	OrderID     uuid.UUID
	Amount      decimal.Decimal
	Reason      string
	RequestedBy uuid.UUID
}

// CreateRefund refunds part or all of a settled order. The refunded amount
// comes back as an AVAILABLE credit scoped to the same (user, conference)
// pair; provider-settled money is also refunded at the gateway.
func (s *Service) CreateRefund(ctx context.Context, input CreateRefundInput) (*models.Credit, error) {
	if input.Amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}
	var issued *models.Credit
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		order, err := s.orders.LockOrder(tx, input.OrderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusPaid && order.Status != enums.OrderStatusPartiallyRefunded {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not refundable")
		}

		captured, err := s.orders.SumSucceededPayments(tx, order.ID)
		if err != nil {
			return err
		}
		refunded, err := s.refundedSoFar(tx, order.ID)
		if err != nil {
			return err
		}
		refundable := captured.Sub(refunded)
		if !refundable.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no refundable balance")
		}

		amount := input.Amount
		if amount.IsZero() {
			amount = refundable
		}
		if amount.GreaterThan(refundable) {
			return pkgerrors.New(pkgerrors.CodeValidation, "amount exceeds refundable balance").
				WithDetails(map[string]any{"refundable": refundable.String()})
		}

		if err := s.refundProviderCharge(ctx, tx, order, amount, input.Reason, refunded); err != nil {
			return err
		}

		sourceOrderID := order.ID
		credit := models.Credit{
			ID:              uuid.New(),
			UserID:          order.UserID,
			ConferenceID:    order.ConferenceID,
			Status:          enums.CreditStatusAvailable,
			Amount:          amount,
			RemainingAmount: amount,
			Provenance:      creditProvenanceRefund,
			SourceOrderID:   &sourceOrderID,
		}
		if err := s.credits.Create(tx, &credit); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "issue refund credit")
		}

		status := enums.OrderStatusPartiallyRefunded
		if refunded.Add(amount).GreaterThanOrEqual(captured) {
			status = enums.OrderStatusRefunded
		}
		if err := s.orders.UpdateStatus(tx, order.ID, status, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}

		if err := s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			OccurredAt:    now,
			Data: payloads.OrderRefundedEvent{
				OrderID:        order.ID,
				ConferenceID:   order.ConferenceID,
				UserID:         order.UserID,
				Reference:      order.Reference,
				RefundedAmount: refunded.Add(amount),
				Status:         status,
			},
		}); err != nil {
			return err
		}

		issued = &credit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// refundedSoFar sums the credits already issued against this order.
func (s *Service) refundedSoFar(tx *gorm.DB, orderID uuid.UUID) (decimal.Decimal, error) {
	var raw *string
	err := tx.Model(&models.Credit{}).
		Where("source_order_id = ? AND provenance = ?", orderID, creditProvenanceRefund).
		Select("CAST(COALESCE(SUM(amount), 0) AS TEXT)").
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum refunded credits")
	}
	if raw == nil || *raw == "" {
		return decimal.Zero, nil
	}
	total, err := decimal.NewFromString(*raw)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "parse refunded sum")
	}
	return total, nil
}

// refundProviderCharge pushes the provider-settled share of the refund back
// through the gateway. Orders settled entirely out of band (manual, comp,
// credit) have no provider charge and skip the call.
func (s *Service) refundProviderCharge(ctx context.Context, tx *gorm.DB, order *models.Order, amount decimal.Decimal, reason string, refundedBefore decimal.Decimal) error {
	rows, err := s.orders.ListPayments(tx, order.ID)
	if err != nil {
		return err
	}
	var provider *models.Payment
	for i := range rows {
		payment := rows[i]
		if payment.Method == enums.PaymentMethodStripe &&
			payment.Status == enums.PaymentStatusSucceeded &&
			payment.ProviderIntentID != nil {
			provider = &payment
			break
		}
	}
	if provider == nil {
		return nil
	}

	providerRefundable := provider.Amount.Sub(refundedBefore)
	if !providerRefundable.IsPositive() {
		return nil
	}
	providerAmount := amount
	if providerAmount.GreaterThan(providerRefundable) {
		providerAmount = providerRefundable
	}

	_, err = s.gateway.CreateRefund(ctx, s.conferenceSecretKey(ctx, tx, order.ConferenceID), stripe.RefundCreateParams{
		PaymentIntentID: *provider.ProviderIntentID,
		Amount:          providerAmount,
		Currency:        provider.Currency,
		Reason:          reason,
		IdempotencyKey:  fmt.Sprintf("refund-%s-%s", order.ID, refundedBefore.Add(providerAmount)),
	})
	if err != nil {
		return err
	}

	if refundedBefore.Add(providerAmount).GreaterThanOrEqual(provider.Amount) {
		provider.Status = enums.PaymentStatusRefunded
		if err := s.orders.UpdatePayment(tx, provider); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment refunded")
		}
	}
	return nil
}

func (s *Service) conferenceSecretKey(ctx context.Context, tx *gorm.DB, conferenceID uuid.UUID) string {
	conference, err := s.catalog.WithTx(tx).GetConferenceByID(ctx, conferenceID)
	if err != nil || conference.StripeSecretKey == nil {
		return ""
	}
	return *conference.StripeSecretKey
}
