package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openconf/confreg-backend/api/responses"
	"github.com/openconf/confreg-backend/api/validators"
	vouchersvc "github.com/openconf/confreg-backend/internal/vouchers"
	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/logger"
)

// VoucherMinter mints batches of voucher codes.
type VoucherMinter interface {
	BulkGenerate(ctx context.Context, input vouchersvc.BulkGenerateInput) ([]models.Voucher, error)
}

type generateVouchersRequest struct {
	ConferenceID         uuid.UUID         `json:"conference_id" validate:"required"`
	Count                int               `json:"count" validate:"required,min=1,max=1000"`
	Prefix               string            `json:"prefix"`
	Kind                 enums.VoucherKind `json:"kind" validate:"required"`
	DiscountValue        decimal.Decimal   `json:"discount_value"`
	MaxUses              int               `json:"max_uses" validate:"min=0"`
	UnlocksHiddenTickets bool              `json:"unlocks_hidden_tickets"`
	TicketTypeIDs        []uuid.UUID       `json:"ticket_type_ids"`
	AddOnIDs             []uuid.UUID       `json:"addon_ids"`
}

// AdminGenerateVouchers mints a batch of unique voucher codes in one
// transaction.
func AdminGenerateVouchers(svc VoucherMinter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "voucher service unavailable"))
			return
		}

		var payload generateVouchersRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		minted, err := svc.BulkGenerate(r.Context(), vouchersvc.BulkGenerateInput{
			ConferenceID:         payload.ConferenceID,
			Count:                payload.Count,
			Prefix:               payload.Prefix,
			Kind:                 payload.Kind,
			DiscountValue:        payload.DiscountValue,
			MaxUses:              payload.MaxUses,
			UnlocksHiddenTickets: payload.UnlocksHiddenTickets,
			TicketTypeIDs:        payload.TicketTypeIDs,
			AddOnIDs:             payload.AddOnIDs,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newVoucherList(minted))
	}
}
