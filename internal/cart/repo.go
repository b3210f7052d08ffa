package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openconf/confreg-backend/pkg/db"
	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
)

// Repository persists carts and cart items.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a cart repository bound to the provided DB.
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

// FindOpenCart returns the OPEN cart for the pair, or nil when none exists.
func (r *Repository) FindOpenCart(ctx context.Context, userID, conferenceID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND conference_id = ? AND status = ?", userID, conferenceID, enums.CartStatusOpen).
		First(&cart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open cart")
	}
	return &cart, nil
}

// LockCart loads a cart under an exclusive row lock. The lock serializes all
// mutations and checkouts against the same cart.
func (r *Repository) LockCart(tx *gorm.DB, cartID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := db.ForUpdate(tx).
		Where("id = ?", cartID).
		First(&cart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock cart")
	}
	return &cart, nil
}

// GetCartWithItems loads a cart with items (insertion order), catalog
// references, and the attached voucher's scope sets.
func (r *Repository) GetCartWithItems(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("cart_items.created_at ASC")
		}).
		Preload("Items.TicketType").
		Preload("Items.AddOn").
		Preload("Items.AddOn.RequiredTicketTypes").
		Preload("Voucher").
		Preload("Voucher.TicketTypes").
		Preload("Voucher.AddOns").
		Where("id = ?", cartID).
		First(&cart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return &cart, nil
}

func (r *Repository) Create(ctx context.Context, cart *models.Cart) error {
	return r.db.WithContext(ctx).Create(cart).Error
}

func (r *Repository) Save(ctx context.Context, cart *models.Cart) error {
	return r.db.WithContext(ctx).Save(cart).Error
}

// ExpireStaleOpenCarts marks timed-out OPEN carts for the pair as EXPIRED.
func (r *Repository) ExpireStaleOpenCarts(tx *gorm.DB, userID, conferenceID uuid.UUID, now time.Time) error {
	return tx.Model(&models.Cart{}).
		Where("user_id = ? AND conference_id = ? AND status = ?", userID, conferenceID, enums.CartStatusOpen).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Updates(map[string]any{
			"status":     enums.CartStatusExpired,
			"updated_at": now,
		}).Error
}

// ListStaleOpenCarts returns timed-out OPEN carts across all users, locked,
// capped for batch sweeps.
func (r *Repository) ListStaleOpenCarts(tx *gorm.DB, now time.Time, limit int) ([]models.Cart, error) {
	var rows []models.Cart
	err := db.ForUpdate(tx).
		Where("status = ?", enums.CartStatusOpen).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale open carts")
	}
	return rows, nil
}

// MarkExpired flips one cart to EXPIRED.
func (r *Repository) MarkExpired(tx *gorm.DB, cartID uuid.UUID, now time.Time) error {
	return tx.Model(&models.Cart{}).
		Where("id = ?", cartID).
		Updates(map[string]any{
			"status":     enums.CartStatusExpired,
			"updated_at": now,
		}).Error
}

// TouchExpiry pushes the cart's soft timeout forward after a mutation.
func (r *Repository) TouchExpiry(tx *gorm.DB, cartID uuid.UUID, expiresAt time.Time) error {
	return tx.Model(&models.Cart{}).
		Where("id = ?", cartID).
		Update("expires_at", expiresAt).Error
}

func (r *Repository) InsertItem(tx *gorm.DB, item *models.CartItem) error {
	return tx.Create(item).Error
}

// LockItemByTicketType loads the (cart, ticket_type) row under lock, used as
// the fallback when a concurrent insert hit the unique index.
func (r *Repository) LockItemByTicketType(tx *gorm.DB, cartID, ticketTypeID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := db.ForUpdate(tx).
		Where("cart_id = ? AND ticket_type_id = ?", cartID, ticketTypeID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// LockItemByAddOn is the add-on counterpart of LockItemByTicketType.
func (r *Repository) LockItemByAddOn(tx *gorm.DB, cartID, addOnID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := db.ForUpdate(tx).
		Where("cart_id = ? AND addon_id = ?", cartID, addOnID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) LockItem(tx *gorm.DB, cartID, itemID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := db.ForUpdate(tx).
		Where("id = ? AND cart_id = ?", itemID, cartID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock cart item")
	}
	return &item, nil
}

func (r *Repository) UpdateItemQuantity(tx *gorm.DB, itemID uuid.UUID, quantity int) error {
	return tx.Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Update("quantity", quantity).Error
}

func (r *Repository) DeleteItem(tx *gorm.DB, itemID uuid.UUID) error {
	return tx.Where("id = ?", itemID).Delete(&models.CartItem{}).Error
}

// ListItems returns the cart's items with catalog references in insertion order.
func (r *Repository) ListItems(tx *gorm.DB, cartID uuid.UUID) ([]models.CartItem, error) {
	var items []models.CartItem
	err := tx.
		Preload("TicketType").
		Preload("AddOn").
		Preload("AddOn.RequiredTicketTypes").
		Where("cart_id = ?", cartID).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list cart items")
	}
	return items, nil
}

// UserSettledTicketQuantity sums a user's quantities for one ticket type on
// paid or partially refunded orders, feeding the per-user cumulative limit.
func (r *Repository) UserSettledTicketQuantity(tx *gorm.DB, userID, conferenceID, ticketTypeID uuid.UUID) (int, error) {
	var total int64
	err := tx.Model(&models.OrderLineItem{}).
		Joins("JOIN orders ON orders.id = order_line_items.order_id").
		Where("orders.user_id = ? AND orders.conference_id = ?", userID, conferenceID).
		Where("orders.status IN ?", []string{string(enums.OrderStatusPaid), string(enums.OrderStatusPartiallyRefunded)}).
		Where("order_line_items.ticket_type_id = ?", ticketTypeID).
		Select("COALESCE(SUM(order_line_items.quantity), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum settled ticket quantity")
	}
	return int(total), nil
}

// UserSettledAddOnQuantity is the add-on counterpart of UserSettledTicketQuantity.
func (r *Repository) UserSettledAddOnQuantity(tx *gorm.DB, userID, conferenceID, addOnID uuid.UUID) (int, error) {
	var total int64
	err := tx.Model(&models.OrderLineItem{}).
		Joins("JOIN orders ON orders.id = order_line_items.order_id").
		Where("orders.user_id = ? AND orders.conference_id = ?", userID, conferenceID).
		Where("orders.status IN ?", []string{string(enums.OrderStatusPaid), string(enums.OrderStatusPartiallyRefunded)}).
		Where("order_line_items.addon_id = ?", addOnID).
		Select("COALESCE(SUM(order_line_items.quantity), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum settled add-on quantity")
	}
	return int(total), nil
}
