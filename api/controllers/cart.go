package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/openconf/confreg-backend/api/responses"
	"github.com/openconf/confreg-backend/api/validators"
	"github.com/openconf/confreg-backend/internal/pricing"
	"github.com/openconf/confreg-backend/pkg/db/models"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/logger"
)

// CartService is the cart mutation surface used by the cart controllers.
type CartService interface {
	GetOrCreateCart(ctx context.Context, userID, conferenceID uuid.UUID) (*models.Cart, error)
	AddTicket(ctx context.Context, userID, cartID, ticketTypeID uuid.UUID, qty int) error
	AddAddOn(ctx context.Context, userID, cartID, addOnID uuid.UUID, qty int) error
	RemoveItem(ctx context.Context, userID, cartID, itemID uuid.UUID) error
	UpdateQuantity(ctx context.Context, userID, cartID, itemID uuid.UUID, qty int) error
	ApplyVoucher(ctx context.Context, userID, cartID uuid.UUID, code string) error
	Quote(ctx context.Context, userID, cartID uuid.UUID) (*models.Cart, pricing.Summary, error)
}

type addCartItemRequest struct {
	TicketTypeID *uuid.UUID `json:"ticket_type_id"`
	AddOnID      *uuid.UUID `json:"addon_id"`
	Quantity     int        `json:"quantity" validate:"required,min=1"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"min=0"`
}

type applyVoucherRequest struct {
	Code string `json:"code" validate:"required"`
}

// CartFetch returns the caller's open cart for the conference, creating one
// when none exists.
func CartFetch(svc CartService, catalog CatalogReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cart, summary, err := openCartQuote(r, svc, catalog)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart, summary))
	}
}

// CartAddItem adds a ticket or add-on line to the caller's open cart.
func CartAddItem(svc CartService, catalog CatalogReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, cart, err := openCart(r, svc, catalog)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload addCartItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if (payload.TicketTypeID == nil) == (payload.AddOnID == nil) {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "exactly one of ticket_type_id or addon_id is required"))
			return
		}

		if payload.TicketTypeID != nil {
			err = svc.AddTicket(r.Context(), userID, cart.ID, *payload.TicketTypeID, payload.Quantity)
		} else {
			err = svc.AddAddOn(r.Context(), userID, cart.ID, *payload.AddOnID, payload.Quantity)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		writeCartQuote(w, r, svc, logg, userID, cart.ID)
	}
}

// CartUpdateItem sets an absolute quantity for one cart line. Quantity zero
// removes the line (and any add-ons its removal orphans).
func CartUpdateItem(svc CartService, catalog CatalogReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, cart, err := openCart(r, svc, catalog)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := pathUUID(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateCartItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.UpdateQuantity(r.Context(), userID, cart.ID, itemID, payload.Quantity); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		writeCartQuote(w, r, svc, logg, userID, cart.ID)
	}
}

// CartRemoveItem removes one line from the caller's open cart.
func CartRemoveItem(svc CartService, catalog CatalogReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, cart, err := openCart(r, svc, catalog)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := pathUUID(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.RemoveItem(r.Context(), userID, cart.ID, itemID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		writeCartQuote(w, r, svc, logg, userID, cart.ID)
	}
}

// CartApplyVoucher attaches a voucher code, replacing any previous one.
func CartApplyVoucher(svc CartService, catalog CatalogReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, cart, err := openCart(r, svc, catalog)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload applyVoucherRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.ApplyVoucher(r.Context(), userID, cart.ID, payload.Code); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		writeCartQuote(w, r, svc, logg, userID, cart.ID)
	}
}

func openCart(r *http.Request, svc CartService, catalog CatalogReader) (uuid.UUID, *models.Cart, error) {
	if svc == nil || catalog == nil {
		return uuid.Nil, nil, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable")
	}
	userID, err := userIDFromContext(r)
	if err != nil {
		return uuid.Nil, nil, err
	}
	conference, err := resolveConference(r, catalog)
	if err != nil {
		return uuid.Nil, nil, err
	}
	cart, err := svc.GetOrCreateCart(r.Context(), userID, conference.ID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return userID, cart, nil
}

func openCartQuote(r *http.Request, svc CartService, catalog CatalogReader) (*models.Cart, pricing.Summary, error) {
	userID, cart, err := openCart(r, svc, catalog)
	if err != nil {
		return nil, pricing.Summary{}, err
	}
	return svc.Quote(r.Context(), userID, cart.ID)
}

func writeCartQuote(w http.ResponseWriter, r *http.Request, svc CartService, logg *logger.Logger, userID, cartID uuid.UUID) {
	cart, summary, err := svc.Quote(r.Context(), userID, cartID)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, newCartResponse(cart, summary))
}
