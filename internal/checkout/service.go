package checkout

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/openconf/confreg-backend/internal/capacity"
	"github.com/openconf/confreg-backend/internal/cart"
	"github.com/openconf/confreg-backend/internal/catalog"
	"github.com/openconf/confreg-backend/internal/credits"
	"github.com/openconf/confreg-backend/internal/orders"
	"github.com/openconf/confreg-backend/internal/pricing"
	"github.com/openconf/confreg-backend/internal/vouchers"
	"github.com/openconf/confreg-backend/pkg/config"
	pkgdb "github.com/openconf/confreg-backend/pkg/db"
	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/outbox"
	"github.com/openconf/confreg-backend/pkg/outbox/payloads"
)

const (
	referenceAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	referenceLength      = 8
	maxReferenceAttempts = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// BillingInfo is captured on the order at checkout time.
type BillingInfo struct {
	Name  string
	Email string
}

// ServiceParams wires the checkout service dependencies.
type ServiceParams struct {
	Orders            *orders.Repository
	Carts             *cart.Repository
	Catalog           *catalog.Repository
	Credits           *credits.Repository
	Guard             *capacity.Guard
	Events            *outbox.Service
	TransactionRunner txRunner
	Registration      config.RegistrationConfig
	Now               func() time.Time
}

// Service converts validated carts into immutable orders and owns the order
// state machine up to settlement.
type Service struct {
	orders    *orders.Repository
	carts     *cart.Repository
	catalog   *catalog.Repository
	credits   *credits.Repository
	guard     *capacity.Guard
	events    *outbox.Service
	tx        txRunner
	refPrefix string
	currency  string
	holdTTL   time.Duration
	now       func() time.Time
}

// NewService builds a checkout service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if params.Credits == nil {
		return nil, fmt.Errorf("credits repository required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("capacity guard required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		orders:    params.Orders,
		carts:     params.Carts,
		catalog:   params.Catalog,
		credits:   params.Credits,
		guard:     params.Guard,
		events:    params.Events,
		tx:        params.TransactionRunner,
		refPrefix: params.Registration.OrderReferencePrefix,
		currency:  params.Registration.Currency,
		holdTTL:   params.Registration.PendingOrderExpiry(),
		now:       now,
	}, nil
}

// Checkout converts an OPEN cart into a PENDING order in one transaction:
// sweep expired holds, lock the cart, re-validate stock and voucher, price,
// snapshot line items, mark the cart CHECKED_OUT, and consume a voucher use.
func (s *Service) Checkout(ctx context.Context, userID, cartID uuid.UUID, billing BillingInfo) (*models.Order, error) {
	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		cartRepo := s.carts.WithTx(tx)

		locked, err := cartRepo.LockCart(tx, cartID)
		if err != nil {
			return err
		}
		if locked.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "cart belongs to another user")
		}

		// expired holds for this conference stop counting toward capacity
		// before the authoritative re-validation below
		if err := s.sweepExpiredHolds(ctx, tx, locked.ConferenceID, now); err != nil {
			return err
		}

		if locked.Status != enums.CartStatusOpen {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart is not open")
		}
		if locked.ExpiredAt(now) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart has expired")
		}

		items, err := cartRepo.ListItems(tx, locked.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
		}

		if err := s.revalidateStock(tx, locked, items, now); err != nil {
			return err
		}

		var voucher *models.Voucher
		if locked.VoucherID != nil {
			voucher, err = s.catalog.WithTx(tx).GetVoucherByID(ctx, *locked.VoucherID)
			if err != nil {
				return err
			}
			if !voucher.UsableAt(now) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "voucher is no longer usable")
			}
		}

		summary := pricing.Summarize(pricing.LinesFromCartItems(items), voucher)

		order, err := s.createOrder(tx, locked, voucher, summary, billing, now)
		if err != nil {
			return err
		}

		lineItems := make([]models.OrderLineItem, 0, len(summary.Lines))
		for _, line := range summary.Lines {
			lineItems = append(lineItems, models.OrderLineItem{
				ID:           uuid.New(),
				OrderID:      order.ID,
				Kind:         line.Kind,
				TicketTypeID: line.TicketTypeID,
				AddOnID:      line.AddOnID,
				Description:  line.Description,
				UnitPrice:    line.UnitPrice,
				Quantity:     line.Quantity,
				Discount:     line.Discount,
				LineTotal:    line.LineTotal,
			})
		}
		if err := s.orders.CreateLineItems(tx, lineItems); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "snapshot line items")
		}

		if err := tx.Model(&models.Cart{}).
			Where("id = ?", locked.ID).
			Update("status", enums.CartStatusCheckedOut).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark cart checked out")
		}

		if voucher != nil {
			if err := vouchers.IncrementUsage(tx, voucher.ID); err != nil {
				return err
			}
		}

		if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			OccurredAt:    now,
			Data: payloads.OrderCreatedEvent{
				OrderID:      order.ID,
				ConferenceID: order.ConferenceID,
				UserID:       order.UserID,
				Reference:    order.Reference,
				Total:        order.Total,
				Currency:     order.Currency,
			},
		}); err != nil {
			return err
		}

		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CancelOrder cancels a PENDING order: credit payments are restored to
// AVAILABLE, the voucher use is released, and the cancelled event queued.
func (s *Service) CancelOrder(ctx context.Context, orderID uuid.UUID, reason string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		order, err := s.orders.LockOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only pending orders can be cancelled")
		}
		if err := s.cancelLocked(tx, order, now); err != nil {
			return err
		}
		return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			OccurredAt:    now,
			Data: payloads.OrderCancelledEvent{
				OrderID:      order.ID,
				ConferenceID: order.ConferenceID,
				UserID:       order.UserID,
				Reference:    order.Reference,
				CancelledAt:  now,
				Reason:       reason,
			},
		})
	})
}

// ApplyCredit spends an AVAILABLE credit against a PENDING order's remaining
// balance. Full coverage settles the order.
func (s *Service) ApplyCredit(ctx context.Context, userID, orderID, creditID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
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

		credit, err := s.credits.LockCredit(tx, creditID)
		if err != nil {
			return err
		}
		if credit.UserID != userID || credit.ConferenceID != order.ConferenceID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "credit is not usable on this order")
		}
		if credit.Status != enums.CreditStatusAvailable {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "credit is not available")
		}

		settled, err := s.orders.SumSucceededPayments(tx, order.ID)
		if err != nil {
			return err
		}
		balance := order.Total.Sub(settled)
		if !balance.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no outstanding balance")
		}

		amount := credit.RemainingAmount
		if amount.GreaterThan(balance) {
			amount = balance
		}
		if !amount.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeConflict, "credit has no remaining balance")
		}

		if err := s.credits.Deduct(tx, credit, amount); err != nil {
			return err
		}

		spentCreditID := credit.ID
		payment := models.Payment{
			ID:       uuid.New(),
			OrderID:  order.ID,
			Method:   enums.PaymentMethodCredit,
			Status:   enums.PaymentStatusSucceeded,
			Amount:   amount,
			Currency: order.Currency,
			CreditID: &spentCreditID,
		}
		if err := s.orders.CreatePayment(tx, &payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record credit payment")
		}

		if amount.Equal(balance) {
			return orders.MarkPaid(ctx, tx, s.events, s.orders, order, enums.PaymentMethodCredit, now)
		}
		return nil
	})
}

// ReleaseLapsedHolds cancels PENDING orders across all conferences whose
// holds have lapsed and returns how many were released. The checkout path
// sweeps lazily per conference; this is the cron backstop. Each order is
// released in its own transaction so one poisoned row cannot stall the
// whole sweep; per-order failures are combined and reported together.
func (s *Service) ReleaseLapsedHolds(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	var lapsed []models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var listErr error
		lapsed, listErr = s.orders.ListLapsedHolds(tx, s.now(), batchSize)
		return listErr
	})
	if err != nil {
		return 0, err
	}

	released := 0
	var errs []error
	for i := range lapsed {
		order := lapsed[i]
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			now := s.now()
			locked, err := s.orders.LockOrder(tx, order.ID)
			if err != nil {
				return err
			}
			if !locked.HoldExpired(now) {
				return nil
			}
			if err := s.cancelLocked(tx, locked, now); err != nil {
				return err
			}
			return s.emitOrderExpired(ctx, tx, locked, now)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("release order %s: %w", order.ID, err))
			continue
		}
		released++
	}
	return released, multierr.Combine(errs...)
}

// sweepExpiredHolds lazily cancels this conference's PENDING orders whose
// holds lapsed, releasing voucher uses and credit payments.
func (s *Service) sweepExpiredHolds(ctx context.Context, tx *gorm.DB, conferenceID uuid.UUID, now time.Time) error {
	expired, err := s.orders.ListExpiredPendingOrders(tx, conferenceID, now)
	if err != nil {
		return err
	}
	for i := range expired {
		order := expired[i]
		if err := s.cancelLocked(tx, &order, now); err != nil {
			return err
		}
		if err := s.emitOrderExpired(ctx, tx, &order, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) emitOrderExpired(ctx context.Context, tx *gorm.DB, order *models.Order, now time.Time) error {
	return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderExpired,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		OccurredAt:    now,
		Data: payloads.OrderExpiredEvent{
			OrderID:      order.ID,
			ConferenceID: order.ConferenceID,
			UserID:       order.UserID,
			Reference:    order.Reference,
			ExpiredAt:    now,
		},
	})
}

// cancelLocked cancels an already locked PENDING order. Callers emit the
// appropriate event afterwards.
func (s *Service) cancelLocked(tx *gorm.DB, order *models.Order, now time.Time) error {
	payments, err := s.orders.ListPayments(tx, order.ID)
	if err != nil {
		return err
	}
	for i := range payments {
		payment := payments[i]
		if payment.Method != enums.PaymentMethodCredit ||
			payment.Status != enums.PaymentStatusSucceeded ||
			payment.CreditID == nil {
			continue
		}
		if err := s.credits.Restore(tx, *payment.CreditID, payment.Amount); err != nil {
			return err
		}
		payment.Status = enums.PaymentStatusRefunded
		if err := s.orders.UpdatePayment(tx, &payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release credit payment")
		}
	}

	if order.VoucherID != nil {
		if err := vouchers.DecrementUsage(tx, *order.VoucherID); err != nil {
			return err
		}
	}

	if err := s.orders.UpdateStatus(tx, order.ID, enums.OrderStatusCancelled, now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
	}
	order.Status = enums.OrderStatusCancelled
	return nil
}

// revalidateStock is the authoritative capacity check, run under the
// conference lock. Add-time checks are only optimistic.
func (s *Service) revalidateStock(tx *gorm.DB, locked *models.Cart, items []models.CartItem, now time.Time) error {
	conference, err := s.guard.LockConference(tx, locked.ConferenceID)
	if err != nil {
		return err
	}

	ticketQty := 0
	for _, item := range items {
		switch {
		case item.TicketTypeID != nil:
			if item.TicketType == nil {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "ticket type no longer exists")
			}
			if !item.TicketType.AvailableAt(now) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "ticket type is no longer on sale")
			}
			ticketQty += item.Quantity
			if item.TicketType.TotalQuantity > 0 {
				sold, err := s.guard.SoldTicketType(tx, *item.TicketTypeID, now)
				if err != nil {
					return err
				}
				if sold+item.Quantity > item.TicketType.TotalQuantity {
					return pkgerrors.New(pkgerrors.CodeConflict, "ticket type is sold out")
				}
			}
		case item.AddOnID != nil:
			if item.AddOn == nil {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "add-on no longer exists")
			}
			if !item.AddOn.AvailableAt(now) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "add-on is no longer on sale")
			}
		}
	}

	return s.guard.Reserve(tx, conference, ticketQty, now)
}

func (s *Service) createOrder(tx *gorm.DB, locked *models.Cart, voucher *models.Voucher, summary pricing.Summary, billing BillingInfo, now time.Time) (*models.Order, error) {
	holdExpiresAt := now.Add(s.holdTTL)
	cartID := locked.ID

	var snapshot json.RawMessage
	var voucherID *uuid.UUID
	if voucher != nil {
		data, err := json.Marshal(models.VoucherSnapshotData{
			Code:                 voucher.Code,
			Kind:                 voucher.Kind,
			DiscountValue:        voucher.DiscountValue,
			UnlocksHiddenTickets: voucher.UnlocksHiddenTickets,
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "snapshot voucher")
		}
		snapshot = data
		id := voucher.ID
		voucherID = &id
	}

	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		reference, err := s.generateReference()
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order reference")
		}
		order := &models.Order{
			ID:              uuid.New(),
			ConferenceID:    locked.ConferenceID,
			UserID:          locked.UserID,
			CartID:          &cartID,
			Reference:       reference,
			Status:          enums.OrderStatusPending,
			Currency:        s.currency,
			Subtotal:        summary.Subtotal,
			Discount:        summary.Discount,
			Total:           summary.Total,
			VoucherID:       voucherID,
			VoucherSnapshot: snapshot,
			HoldExpiresAt:   &holdExpiresAt,
			BillingName:     billing.Name,
			BillingEmail:    billing.Email,
		}
		err = s.orders.Create(tx, order)
		if err == nil {
			return order, nil
		}
		if !pkgdb.IsUniqueViolation(err, "ux_orders_reference") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "order reference space exhausted")
}

func (s *Service) generateReference() (string, error) {
	buf := make([]byte, referenceLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(referenceAlphabet))))
		if err != nil {
			return "", err
		}
		buf[i] = referenceAlphabet[n.Int64()]
	}
	return fmt.Sprintf("%s-%s", s.refPrefix, string(buf)), nil
}
