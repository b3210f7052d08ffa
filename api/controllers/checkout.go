package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/openconf/confreg-backend/api/responses"
	"github.com/openconf/confreg-backend/api/validators"
	checkoutsvc "github.com/openconf/confreg-backend/internal/checkout"
	"github.com/openconf/confreg-backend/pkg/db/models"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/logger"
)

// CheckoutService converts carts into pending orders.
type CheckoutService interface {
	Checkout(ctx context.Context, userID, cartID uuid.UUID, billing checkoutsvc.BillingInfo) (*models.Order, error)
}

type checkoutRequest struct {
	BillingName  string `json:"billing_name" validate:"required"`
	BillingEmail string `json:"billing_email" validate:"required,email"`
}

// Checkout converts the caller's open cart for the conference into a PENDING
// order holding inventory until the hold expires or payment settles.
func Checkout(svc CheckoutService, carts CartService, catalog CatalogReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID, cart, err := openCart(r, carts, catalog)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Checkout(r.Context(), userID, cart.ID, checkoutsvc.BillingInfo{
			Name:  validators.SanitizeString(payload.BillingName, 200),
			Email: validators.SanitizeString(payload.BillingEmail, 254),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(order))
	}
}
