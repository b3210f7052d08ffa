package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/openconf/confreg-backend/api/responses"
	paymentsvc "github.com/openconf/confreg-backend/internal/payments"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/logger"
)

// PaymentInitiator starts (or resumes) a Stripe payment for a pending order.
type PaymentInitiator interface {
	InitiatePayment(ctx context.Context, userID, orderID uuid.UUID) (*paymentsvc.IntentResult, error)
}

// PaymentInitiate returns a client secret for the order's payment intent.
// Safe to retry: an existing pending intent is resumed, never duplicated.
func PaymentInitiate(svc PaymentInitiator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
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

		result, err := svc.InitiatePayment(r.Context(), userID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
