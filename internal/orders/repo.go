package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/openconf/confreg-backend/pkg/db"
	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/pagination"
)

// Repository persists orders, line items, and payments.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx rebinds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(tx *gorm.DB, order *models.Order) error {
	return tx.Create(order).Error
}

func (r *Repository) CreateLineItems(tx *gorm.DB, items []models.OrderLineItem) error {
	if len(items) == 0 {
		return nil
	}
	return tx.Create(&items).Error
}

// LockOrder loads an order under an exclusive row lock. The lock serializes
// payment, webhook, and refund mutations against the same order.
func (r *Repository) LockOrder(tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := db.ForUpdate(tx).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
	}
	return &order, nil
}

func (r *Repository) GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_line_items.created_at ASC")
		}).
		Preload("Payments").
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return &order, nil
}

func (r *Repository) GetByReference(ctx context.Context, reference string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Payments").
		Where("reference = ?", reference).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return &order, nil
}

// ListByUser returns a page of a user's orders for one conference, newest
// first. The returned cursor is empty when no further pages exist.
func (r *Repository) ListByUser(ctx context.Context, userID, conferenceID uuid.UUID, params pagination.Params) ([]models.Order, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).
		Preload("Items").
		Where("user_id = ? AND conference_id = ?", userID, conferenceID)
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	err = query.
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return rows, next, nil
}

func (r *Repository) UpdateStatus(tx *gorm.DB, orderID uuid.UUID, status enums.OrderStatus, now time.Time) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": now,
	}
	switch status {
	case enums.OrderStatusPaid:
		updates["paid_at"] = now
	case enums.OrderStatusCancelled:
		updates["cancelled_at"] = now
	}
	return tx.Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates).Error
}

// ListExpiredPendingOrders returns PENDING orders for the conference whose
// holds have lapsed, locked for the sweep.
func (r *Repository) ListExpiredPendingOrders(tx *gorm.DB, conferenceID uuid.UUID, now time.Time) ([]models.Order, error) {
	var rows []models.Order
	err := db.ForUpdate(tx).
		Where("conference_id = ? AND status = ?", conferenceID, enums.OrderStatusPending).
		Where("hold_expires_at IS NOT NULL AND hold_expires_at < ?", now).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired pending orders")
	}
	return rows, nil
}

// ListLapsedHolds returns PENDING orders across all conferences whose holds
// have lapsed, locked, capped for batch sweeps.
func (r *Repository) ListLapsedHolds(tx *gorm.DB, now time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := db.ForUpdate(tx).
		Where("status = ?", enums.OrderStatusPending).
		Where("hold_expires_at IS NOT NULL AND hold_expires_at < ?", now).
		Order("hold_expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list lapsed holds")
	}
	return rows, nil
}

func (r *Repository) CreatePayment(tx *gorm.DB, payment *models.Payment) error {
	return tx.Create(payment).Error
}

func (r *Repository) UpdatePayment(tx *gorm.DB, payment *models.Payment) error {
	return tx.Save(payment).Error
}

// FindPaymentByIntentID resolves a payment from the provider's intent id,
// locked because webhook handlers mutate it.
func (r *Repository) FindPaymentByIntentID(tx *gorm.DB, intentID string) (*models.Payment, error) {
	var payment models.Payment
	err := db.ForUpdate(tx).
		Where("provider_intent_id = ?", intentID).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found for intent")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find payment by intent")
	}
	return &payment, nil
}

// GetPaymentByIntentID is the unlocked variant, used to resolve the owning
// order before any row lock is taken. Webhook handlers lock the order first
// and only then the payment, the same order the checkout cancel path uses.
func (r *Repository) GetPaymentByIntentID(tx *gorm.DB, intentID string) (*models.Payment, error) {
	var payment models.Payment
	err := tx.Where("provider_intent_id = ?", intentID).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found for intent")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find payment by intent")
	}
	return &payment, nil
}

// ListPayments returns an order's payments in creation order.
func (r *Repository) ListPayments(tx *gorm.DB, orderID uuid.UUID) ([]models.Payment, error) {
	var rows []models.Payment
	err := tx.Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return rows, nil
}

// SumSucceededPayments totals settled payments against an order.
func (r *Repository) SumSucceededPayments(tx *gorm.DB, orderID uuid.UUID) (decimal.Decimal, error) {
	var raw *string
	err := tx.Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", orderID, enums.PaymentStatusSucceeded).
		Select("CAST(COALESCE(SUM(amount), 0) AS TEXT)").
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum succeeded payments")
	}
	if raw == nil || *raw == "" {
		return decimal.Zero, nil
	}
	total, err := decimal.NewFromString(*raw)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "parse payment sum")
	}
	return total, nil
}
