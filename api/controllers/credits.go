package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/openconf/confreg-backend/api/responses"
	"github.com/openconf/confreg-backend/api/validators"
	"github.com/openconf/confreg-backend/pkg/db/models"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/logger"
)

// CreditReader lists a user's spendable balances.
type CreditReader interface {
	ListAvailable(ctx context.Context, userID, conferenceID uuid.UUID) ([]models.Credit, error)
}

// CreditApplier spends a credit against a pending order.
type CreditApplier interface {
	ApplyCredit(ctx context.Context, userID, orderID, creditID uuid.UUID) error
}

type applyCreditRequest struct {
	CreditID uuid.UUID `json:"credit_id" validate:"required"`
}

// CreditList returns the caller's AVAILABLE credits for one conference.
func CreditList(repo CreditReader, catalog CatalogReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit repository unavailable"))
			return
		}
		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		conference, err := resolveConference(r, catalog)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		credits, err := repo.ListAvailable(r.Context(), userID, conference.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCreditList(credits))
	}
}

// CreditApply spends a credit against the caller's pending order. Full
// coverage settles the order as paid.
func CreditApply(svc CreditApplier, orders OrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload applyCreditRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.ApplyCredit(r.Context(), userID, orderID, payload.CreditID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refreshed, err := orders.GetByID(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(refreshed))
	}
}
