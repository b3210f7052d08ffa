package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openconf/confreg-backend/api/responses"
	"github.com/openconf/confreg-backend/api/validators"
	paymentsvc "github.com/openconf/confreg-backend/internal/payments"
	refundsvc "github.com/openconf/confreg-backend/internal/refunds"
	"github.com/openconf/confreg-backend/pkg/db/models"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/logger"
)

// SettlementRecorder settles orders outside the Stripe flow.
type SettlementRecorder interface {
	RecordComp(ctx context.Context, orderID uuid.UUID, recordedBy uuid.UUID) error
	RecordManual(ctx context.Context, input paymentsvc.RecordManualInput) error
}

// RefundCreator issues refunds against settled orders.
type RefundCreator interface {
	CreateRefund(ctx context.Context, input refundsvc.CreateRefundInput) (*models.Credit, error)
}

type manualPaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
	Note      string          `json:"note"`
}

type refundRequest struct {
	// Zero or omitted amount refunds the remaining captured balance.
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// AdminRecordComp settles a zero-total order without payment.
func AdminRecordComp(svc SettlementRecorder, orders OrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		adminID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.RecordComp(r.Context(), orderID, adminID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeRefreshedOrder(w, r, orders, logg, orderID)
	}
}

// AdminRecordManual records an out-of-band payment (bank transfer, on-site
// cash) against a pending order.
func AdminRecordManual(svc SettlementRecorder, orders OrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		adminID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload manualPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		err = svc.RecordManual(r.Context(), paymentsvc.RecordManualInput{
			OrderID:    orderID,
			Amount:     payload.Amount,
			Reference:  validators.SanitizeString(payload.Reference, 200),
			Note:       validators.SanitizeString(payload.Note, 2000),
			RecordedBy: adminID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeRefreshedOrder(w, r, orders, logg, orderID)
	}
}

// AdminCreateRefund refunds part or all of a settled order, issuing a credit
// for the refunded amount.
func AdminCreateRefund(svc RefundCreator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}
		adminID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload refundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		credit, err := svc.CreateRefund(r.Context(), refundsvc.CreateRefundInput{
			OrderID:     orderID,
			Amount:      payload.Amount,
			Reason:      payload.Reason,
			RequestedBy: adminID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newCreditList([]models.Credit{*credit})[0])
	}
}

func writeRefreshedOrder(w http.ResponseWriter, r *http.Request, orders OrderReader, logg *logger.Logger, orderID uuid.UUID) {
	if orders == nil {
		responses.WriteSuccess(w, nil)
		return
	}
	refreshed, err := orders.GetByID(r.Context(), orderID)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, newOrderResponse(refreshed))
}
