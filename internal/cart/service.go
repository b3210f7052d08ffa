package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openconf/confreg-backend/internal/capacity"
	"github.com/openconf/confreg-backend/internal/catalog"
	"github.com/openconf/confreg-backend/internal/pricing"
	"github.com/openconf/confreg-backend/pkg/config"
	pkgdb "github.com/openconf/confreg-backend/pkg/db"
	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the cart service dependencies.
type ServiceParams struct {
	Repository        *Repository
	Catalog           *catalog.Repository
	Guard             *capacity.Guard
	TransactionRunner txRunner
	Registration      config.RegistrationConfig
	Now               func() time.Time
}

// Service mutates cart contents. Every operation runs in one short-lived
// transaction holding a lock on the mutated row(s).
type Service struct {
	repo       *Repository
	catalog    *catalog.Repository
	guard      *capacity.Guard
	tx         txRunner
	cartExpiry time.Duration
	now        func() time.Time
}

// NewService builds a cart service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("capacity guard required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:       params.Repository,
		catalog:    params.Catalog,
		guard:      params.Guard,
		tx:         params.TransactionRunner,
		cartExpiry: params.Registration.CartExpiry(),
		now:        now,
	}, nil
}

// GetOrCreateCart expires stale OPEN carts for the pair, reuses a surviving
// OPEN cart (repairing a missing expiry), or creates a fresh one.
func (s *Service) GetOrCreateCart(ctx context.Context, userID, conferenceID uuid.UUID) (*models.Cart, error) {
	if userID == uuid.Nil || conferenceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user and conference are required")
	}

	var result *models.Cart
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		repo := s.repo.WithTx(tx)

		if err := repo.ExpireStaleOpenCarts(tx, userID, conferenceID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire stale carts")
		}

		existing, err := repo.FindOpenCart(ctx, userID, conferenceID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.ExpiresAt == nil {
				expiresAt := now.Add(s.cartExpiry)
				existing.ExpiresAt = &expiresAt
				if err := repo.Save(ctx, existing); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "repair cart expiry")
				}
			}
			result = existing
			return nil
		}

		expiresAt := now.Add(s.cartExpiry)
		cart := &models.Cart{
			ID:           uuid.New(),
			UserID:       userID,
			ConferenceID: conferenceID,
			Status:       enums.CartStatusOpen,
			ExpiresAt:    &expiresAt,
		}
		if err := repo.Create(ctx, cart); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
		}
		result = cart
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddTicket adds a ticket line with ordered validation: cart open and
// unexpired, ticket belongs to the conference, active and within its window,
// capacity and stock under the conference lock, per-user cumulative limit,
// then voucher gating.
func (s *Service) AddTicket(ctx context.Context, userID, cartID, ticketTypeID uuid.UUID, qty int) error {
	if qty < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		repo := s.repo.WithTx(tx)

		cart, err := s.lockOpenCart(tx, repo, userID, cartID, now)
		if err != nil {
			return err
		}

		ticketType, err := s.catalog.WithTx(tx).GetTicketType(ctx, ticketTypeID)
		if err != nil {
			return err
		}
		if ticketType.ConferenceID != cart.ConferenceID {
			return pkgerrors.New(pkgerrors.CodeValidation, "ticket type does not belong to this conference")
		}
		if !ticketType.AvailableAt(now) {
			return pkgerrors.New(pkgerrors.CodeValidation, "ticket type is not on sale")
		}

		existingQty := 0
		existing, err := repo.LockItemByTicketType(tx, cart.ID, ticketTypeID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart item")
		}
		if existing != nil {
			existingQty = existing.Quantity
		}

		if err := s.checkTicketStock(tx, repo, cart, ticketType, existingQty, qty, now); err != nil {
			return err
		}

		if err := s.checkVoucherGate(ctx, tx, cart, ticketType); err != nil {
			return err
		}

		if existing != nil {
			if err := repo.UpdateItemQuantity(tx, existing.ID, existing.Quantity+qty); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment cart item")
			}
		} else if err := s.insertTicketItem(tx, repo, cart.ID, ticketTypeID, qty); err != nil {
			return err
		}

		return repo.TouchExpiry(tx, cart.ID, now.Add(s.cartExpiry))
	})
}

// AddAddOn adds an add-on line. Add-ons are not capacity gated, but may
// require one of a set of ticket types to already be in the cart.
func (s *Service) AddAddOn(ctx context.Context, userID, cartID, addOnID uuid.UUID, qty int) error {
	if qty < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		repo := s.repo.WithTx(tx)

		cart, err := s.lockOpenCart(tx, repo, userID, cartID, now)
		if err != nil {
			return err
		}

		addOn, err := s.catalog.WithTx(tx).GetAddOn(ctx, addOnID)
		if err != nil {
			return err
		}
		if addOn.ConferenceID != cart.ConferenceID {
			return pkgerrors.New(pkgerrors.CodeValidation, "add-on does not belong to this conference")
		}
		if !addOn.AvailableAt(now) {
			return pkgerrors.New(pkgerrors.CodeValidation, "add-on is not on sale")
		}

		existingQty := 0
		existing, err := repo.LockItemByAddOn(tx, cart.ID, addOnID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart item")
		}
		if existing != nil {
			existingQty = existing.Quantity
		}

		if addOn.LimitPerUser > 0 {
			settled, err := repo.UserSettledAddOnQuantity(tx, userID, cart.ConferenceID, addOnID)
			if err != nil {
				return err
			}
			if settled+existingQty+qty > addOn.LimitPerUser {
				return pkgerrors.New(pkgerrors.CodeConflict, "per-user add-on limit exceeded")
			}
		}

		if len(addOn.RequiredTicketTypes) > 0 {
			items, err := repo.ListItems(tx, cart.ID)
			if err != nil {
				return err
			}
			if !addOnRequirementMet(*addOn, items) {
				return pkgerrors.New(pkgerrors.CodeValidation, "add-on requires a ticket not present in the cart")
			}
		}

		if existing != nil {
			if err := repo.UpdateItemQuantity(tx, existing.ID, existing.Quantity+qty); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment cart item")
			}
		} else if err := s.insertAddOnItem(tx, repo, cart.ID, addOnID, qty); err != nil {
			return err
		}

		return repo.TouchExpiry(tx, cart.ID, now.Add(s.cartExpiry))
	})
}

// RemoveItem deletes a line and cascades: add-ons whose required-ticket set
// is no longer satisfied by the remaining items are removed too.
func (s *Service) RemoveItem(ctx context.Context, userID, cartID, itemID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		repo := s.repo.WithTx(tx)

		cart, err := s.lockOpenCart(tx, repo, userID, cartID, now)
		if err != nil {
			return err
		}

		item, err := repo.LockItem(tx, cart.ID, itemID)
		if err != nil {
			return err
		}
		if err := repo.DeleteItem(tx, item.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart item")
		}

		if item.IsTicket() {
			if err := s.cascadeUnsatisfiedAddOns(tx, repo, cart.ID); err != nil {
				return err
			}
		}

		return repo.TouchExpiry(tx, cart.ID, now.Add(s.cartExpiry))
	})
}

// UpdateQuantity sets an absolute quantity. Zero or negative delegates to
// RemoveItem; growth re-runs the stock and per-user checks for the delta.
func (s *Service) UpdateQuantity(ctx context.Context, userID, cartID, itemID uuid.UUID, qty int) error {
	if qty <= 0 {
		return s.RemoveItem(ctx, userID, cartID, itemID)
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		repo := s.repo.WithTx(tx)

		cart, err := s.lockOpenCart(tx, repo, userID, cartID, now)
		if err != nil {
			return err
		}

		item, err := repo.LockItem(tx, cart.ID, itemID)
		if err != nil {
			return err
		}

		delta := qty - item.Quantity
		if delta > 0 {
			switch {
			case item.TicketTypeID != nil:
				ticketType, err := s.catalog.WithTx(tx).GetTicketType(ctx, *item.TicketTypeID)
				if err != nil {
					return err
				}
				if err := s.checkTicketStock(tx, repo, cart, ticketType, item.Quantity, delta, now); err != nil {
					return err
				}
			case item.AddOnID != nil:
				addOn, err := s.catalog.WithTx(tx).GetAddOn(ctx, *item.AddOnID)
				if err != nil {
					return err
				}
				if addOn.LimitPerUser > 0 {
					settled, err := repo.UserSettledAddOnQuantity(tx, userID, cart.ConferenceID, addOn.ID)
					if err != nil {
						return err
					}
					if settled+qty > addOn.LimitPerUser {
						return pkgerrors.New(pkgerrors.CodeConflict, "per-user add-on limit exceeded")
					}
				}
			}
		}

		if err := repo.UpdateItemQuantity(tx, item.ID, qty); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item quantity")
		}

		return repo.TouchExpiry(tx, cart.ID, now.Add(s.cartExpiry))
	})
}

// ApplyVoucher validates and attaches a voucher, replacing any previous one.
func (s *Service) ApplyVoucher(ctx context.Context, userID, cartID uuid.UUID, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "voucher code is required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		repo := s.repo.WithTx(tx)

		cart, err := s.lockOpenCart(tx, repo, userID, cartID, now)
		if err != nil {
			return err
		}

		voucher, err := s.catalog.WithTx(tx).FindVoucherByCode(ctx, cart.ConferenceID, code)
		if err != nil {
			return err
		}
		if !voucher.UsableAt(now) {
			return pkgerrors.New(pkgerrors.CodeValidation, "voucher is not usable")
		}

		cart.VoucherID = &voucher.ID
		if err := repo.Save(ctx, cart); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach voucher")
		}
		return repo.TouchExpiry(tx, cart.ID, now.Add(s.cartExpiry))
	})
}

// Quote loads the cart and returns its pricing summary without mutating
// anything.
func (s *Service) Quote(ctx context.Context, userID, cartID uuid.UUID) (*models.Cart, pricing.Summary, error) {
	cart, err := s.repo.GetCartWithItems(ctx, cartID)
	if err != nil {
		return nil, pricing.Summary{}, err
	}
	if cart.UserID != userID {
		return nil, pricing.Summary{}, pkgerrors.New(pkgerrors.CodeForbidden, "cart belongs to another user")
	}
	summary := pricing.Summarize(pricing.LinesFromCartItems(cart.Items), cart.Voucher)
	return cart, summary, nil
}

// lockOpenCart locks the cart row, checks ownership, and lazily expires a
// timed-out cart before rejecting the mutation.
func (s *Service) lockOpenCart(tx *gorm.DB, repo *Repository, userID, cartID uuid.UUID, now time.Time) (*models.Cart, error) {
	cart, err := repo.LockCart(tx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "cart belongs to another user")
	}
	if cart.Status != enums.CartStatusOpen {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart is not open")
	}
	if cart.ExpiredAt(now) {
		cart.Status = enums.CartStatusExpired
		if err := tx.Model(&models.Cart{}).
			Where("id = ?", cart.ID).
			Update("status", enums.CartStatusExpired).Error; err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire cart")
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart has expired")
	}
	return cart, nil
}

// checkTicketStock enforces global capacity under the conference lock, the
// per-type quantity cap, and the per-user cumulative limit.
func (s *Service) checkTicketStock(tx *gorm.DB, repo *Repository, cart *models.Cart, ticketType *models.TicketType, existingQty, addQty int, now time.Time) error {
	conference, err := s.guard.LockConference(tx, cart.ConferenceID)
	if err != nil {
		return err
	}
	if err := s.guard.Reserve(tx, conference, addQty, now); err != nil {
		return err
	}

	if ticketType.TotalQuantity > 0 {
		sold, err := s.guard.SoldTicketType(tx, ticketType.ID, now)
		if err != nil {
			return err
		}
		if sold+existingQty+addQty > ticketType.TotalQuantity {
			return pkgerrors.New(pkgerrors.CodeConflict, "ticket type is sold out")
		}
	}

	if ticketType.LimitPerUser > 0 {
		settled, err := repo.UserSettledTicketQuantity(tx, cart.UserID, cart.ConferenceID, ticketType.ID)
		if err != nil {
			return err
		}
		if settled+existingQty+addQty > ticketType.LimitPerUser {
			return pkgerrors.New(pkgerrors.CodeConflict, "per-user ticket limit exceeded")
		}
	}

	return nil
}

// checkVoucherGate enforces requires_voucher: the cart must hold a voucher
// that unlocks hidden tickets and whose scope covers this ticket type.
func (s *Service) checkVoucherGate(ctx context.Context, tx *gorm.DB, cart *models.Cart, ticketType *models.TicketType) error {
	if !ticketType.RequiresVoucher {
		return nil
	}
	if cart.VoucherID == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "ticket requires a voucher")
	}
	voucher, err := s.catalog.WithTx(tx).GetVoucherByID(ctx, *cart.VoucherID)
	if err != nil {
		return err
	}
	if !voucher.UnlocksHiddenTickets {
		return pkgerrors.New(pkgerrors.CodeValidation, "voucher does not unlock this ticket")
	}
	if len(voucher.TicketTypes) == 0 {
		return nil
	}
	for _, tt := range voucher.TicketTypes {
		if tt.ID == ticketType.ID {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "voucher does not unlock this ticket")
}

// insertTicketItem inserts a new line; a unique violation from a concurrent
// insert falls back to a locked increment so racing writers converge on one
// row.
func (s *Service) insertTicketItem(tx *gorm.DB, repo *Repository, cartID, ticketTypeID uuid.UUID, qty int) error {
	item := &models.CartItem{
		ID:           uuid.New(),
		CartID:       cartID,
		TicketTypeID: &ticketTypeID,
		Quantity:     qty,
	}
	err := repo.InsertItem(tx, item)
	if err == nil {
		return nil
	}
	if !pkgdb.IsUniqueViolation(err, "ux_cart_items_cart_ticket_type") {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert cart item")
	}
	existing, lockErr := repo.LockItemByTicketType(tx, cartID, ticketTypeID)
	if lockErr != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, lockErr, "recover racing cart item")
	}
	return repo.UpdateItemQuantity(tx, existing.ID, existing.Quantity+qty)
}

func (s *Service) insertAddOnItem(tx *gorm.DB, repo *Repository, cartID, addOnID uuid.UUID, qty int) error {
	item := &models.CartItem{
		ID:       uuid.New(),
		CartID:   cartID,
		AddOnID:  &addOnID,
		Quantity: qty,
	}
	err := repo.InsertItem(tx, item)
	if err == nil {
		return nil
	}
	if !pkgdb.IsUniqueViolation(err, "ux_cart_items_cart_addon") {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert cart item")
	}
	existing, lockErr := repo.LockItemByAddOn(tx, cartID, addOnID)
	if lockErr != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, lockErr, "recover racing cart item")
	}
	return repo.UpdateItemQuantity(tx, existing.ID, existing.Quantity+qty)
}

func (s *Service) cascadeUnsatisfiedAddOns(tx *gorm.DB, repo *Repository, cartID uuid.UUID) error {
	items, err := repo.ListItems(tx, cartID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.AddOn == nil || len(item.AddOn.RequiredTicketTypes) == 0 {
			continue
		}
		if addOnRequirementMet(*item.AddOn, items) {
			continue
		}
		if err := repo.DeleteItem(tx, item.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cascade add-on removal")
		}
	}
	return nil
}

// addOnRequirementMet reports whether any of the add-on's required ticket
// types is present among the cart's ticket items.
func addOnRequirementMet(addOn models.AddOn, items []models.CartItem) bool {
	for _, required := range addOn.RequiredTicketTypes {
		for _, item := range items {
			if item.TicketTypeID != nil && *item.TicketTypeID == required.ID {
				return true
			}
		}
	}
	return false
}
