package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	stripesdk "github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/openconf/confreg-backend/internal/orders"
	pkgdb "github.com/openconf/confreg-backend/pkg/db"
	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/logger"
	"github.com/openconf/confreg-backend/pkg/metrics"
	"github.com/openconf/confreg-backend/pkg/outbox"
	"github.com/openconf/confreg-backend/pkg/outbox/payloads"
	"github.com/openconf/confreg-backend/pkg/stripe"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type handlerFunc func(ctx context.Context, tx *gorm.DB, conferenceID uuid.UUID, event *stripesdk.Event) error

// ServiceParams wires the webhook settlement service dependencies.
type ServiceParams struct {
	Orders            *orders.Repository
	Events            *outbox.Service
	Guard             *IdempotencyGuard
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.RegistrationMetrics
	Now               func() time.Time
}

// Service settles orders from provider webhook events. Processing is
// idempotent twice over: a redis fast path and the unique index on
// stripe_events.event_id inside the transaction.
type Service struct {
	orders   *orders.Repository
	events   *outbox.Service
	guard    *IdempotencyGuard
	tx       txRunner
	logg     *logger.Logger
	metrics  *metrics.RegistrationMetrics
	now      func() time.Time
	handlers map[stripesdk.EventType]handlerFunc
}

// NewService builds the webhook service and registers the handled event
// types. The guard is optional; dedup then rests on the database alone.
func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	s := &Service{
		orders:  params.Orders,
		events:  params.Events,
		guard:   params.Guard,
		tx:      params.TransactionRunner,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     now,
	}
	s.handlers = map[stripesdk.EventType]handlerFunc{
		stripesdk.EventTypePaymentIntentSucceeded:     s.handleIntentSucceeded,
		stripesdk.EventTypePaymentIntentPaymentFailed: s.handleIntentFailed,
		stripesdk.EventTypeChargeRefunded:             s.handleChargeRefunded,
		stripesdk.EventTypeChargeDisputeCreated:       s.handleDisputeCreated,
	}
	return s, nil
}

// Process runs the handler for one verified event. Failures are captured to
// webhook_processing_errors and returned; the HTTP layer acks the provider
// regardless so Stripe does not retry a poisoned event forever.
func (s *Service) Process(ctx context.Context, conferenceID uuid.UUID, event *stripesdk.Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event required")
	}

	if s.guard != nil {
		duplicate, err := s.guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			// redis being down must not block settlement; the DB dedup holds
			s.logg.Warn(ctx, fmt.Sprintf("webhook idempotency guard unavailable: %v", err))
		} else if duplicate {
			s.countEvent(event.Type, "duplicate")
			return nil
		}
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		recorded, err := s.recordEvent(tx, conferenceID, event)
		if err != nil {
			return err
		}
		if !recorded {
			return nil
		}

		handler, ok := s.handlers[event.Type]
		if !ok {
			// unhandled types are acked and remembered, never retried
			return nil
		}
		return handler(ctx, tx, conferenceID, event)
	})
	if err != nil {
		s.countEvent(event.Type, "error")
		s.captureFailure(ctx, conferenceID, event, err)
		if s.guard != nil {
			if delErr := s.guard.Delete(ctx, event.ID); delErr != nil {
				s.logg.Warn(ctx, fmt.Sprintf("release webhook idempotency key: %v", delErr))
			}
		}
		return err
	}
	s.countEvent(event.Type, "ok")
	return nil
}

// recordEvent inserts the dedup row. A unique violation means another
// delivery already processed this event.
func (s *Service) recordEvent(tx *gorm.DB, conferenceID uuid.UUID, event *stripesdk.Event) (bool, error) {
	processedAt := s.now()
	row := models.StripeEvent{
		ID:           uuid.New(),
		ConferenceID: conferenceID,
		EventID:      event.ID,
		EventType:    string(event.Type),
		ProcessedAt:  &processedAt,
	}
	if err := tx.Create(&row).Error; err != nil {
		if pkgdb.IsUniqueViolation(err, "ux_stripe_events_event_id") {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook event")
	}
	return true, nil
}

func (s *Service) handleIntentSucceeded(ctx context.Context, tx *gorm.DB, _ uuid.UUID, event *stripesdk.Event) error {
	var intent stripesdk.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}

	// lock the order before the payment; the cancel path holds locks in the
	// same order, so the two can never deadlock on each other
	unlocked, err := s.orders.GetPaymentByIntentID(tx, intent.ID)
	if err != nil {
		return err
	}
	order, err := s.orders.LockOrder(tx, unlocked.OrderID)
	if err != nil {
		return err
	}
	payment, err := s.orders.FindPaymentByIntentID(tx, intent.ID)
	if err != nil {
		return err
	}
	if payment.Status == enums.PaymentStatusSucceeded {
		return nil
	}

	payment.Status = enums.PaymentStatusSucceeded
	if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
		chargeID := intent.LatestCharge.ID
		payment.ProviderChargeID = &chargeID
	}
	if err := s.orders.UpdatePayment(tx, payment); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment succeeded")
	}

	if order.Status != enums.OrderStatusPending {
		// a comp/manual/credit settlement or duplicate delivery won the race
		return nil
	}
	return orders.MarkPaid(ctx, tx, s.events, s.orders, order, enums.PaymentMethodStripe, s.now())
}

func (s *Service) handleIntentFailed(_ context.Context, tx *gorm.DB, _ uuid.UUID, event *stripesdk.Event) error {
	var intent stripesdk.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}

	payment, err := s.orders.FindPaymentByIntentID(tx, intent.ID)
	if err != nil {
		return err
	}
	if payment.Status != enums.PaymentStatusPending {
		return nil
	}
	payment.Status = enums.PaymentStatusFailed
	if err := s.orders.UpdatePayment(tx, payment); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment failed")
	}
	return nil
}

func (s *Service) handleChargeRefunded(ctx context.Context, tx *gorm.DB, _ uuid.UUID, event *stripesdk.Event) error {
	var charge stripesdk.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge")
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "charge has no payment intent")
	}

	unlocked, err := s.orders.GetPaymentByIntentID(tx, charge.PaymentIntent.ID)
	if err != nil {
		return err
	}
	// order lock first, same as the settle and cancel paths
	order, err := s.orders.LockOrder(tx, unlocked.OrderID)
	if err != nil {
		return err
	}
	payment, err := s.orders.FindPaymentByIntentID(tx, charge.PaymentIntent.ID)
	if err != nil {
		return err
	}
	if order.Status == enums.OrderStatusRefunded {
		return nil
	}

	refunded := stripe.FromMinorUnits(charge.AmountRefunded, string(charge.Currency))
	now := s.now()

	status := enums.OrderStatusPartiallyRefunded
	if refunded.GreaterThanOrEqual(payment.Amount) {
		status = enums.OrderStatusRefunded
		payment.Status = enums.PaymentStatusRefunded
		if err := s.orders.UpdatePayment(tx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment refunded")
		}
	}
	if err := s.orders.UpdateStatus(tx, order.ID, status, now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}

	return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
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
			RefundedAmount: refunded,
			Status:         status,
		},
	})
}

// handleDisputeCreated only records the dispute; resolution is manual.
func (s *Service) handleDisputeCreated(ctx context.Context, _ *gorm.DB, _ uuid.UUID, event *stripesdk.Event) error {
	var dispute stripesdk.Dispute
	if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode dispute")
	}
	s.logg.Warn(ctx, fmt.Sprintf("stripe dispute %s opened (reason %s)", dispute.ID, dispute.Reason))
	return nil
}

// captureFailure writes the failed event for operator reconciliation. This
// runs outside the rolled-back transaction.
func (s *Service) captureFailure(ctx context.Context, conferenceID uuid.UUID, event *stripesdk.Event, cause error) {
	confID := conferenceID
	row := models.WebhookProcessingError{
		ID:           uuid.New(),
		ConferenceID: &confID,
		EventID:      event.ID,
		EventType:    string(event.Type),
		Message:      cause.Error(),
	}
	if event.Data != nil {
		row.Payload = json.RawMessage(event.Data.Raw)
	}
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	}); err != nil {
		s.logg.Error(ctx, "record webhook processing error", err)
	}
}

func (s *Service) countEvent(eventType stripesdk.EventType, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncWebhookEvent(string(eventType), outcome)
}
