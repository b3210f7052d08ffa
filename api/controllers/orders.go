package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/openconf/confreg-backend/api/middleware"
	"github.com/openconf/confreg-backend/api/responses"
	"github.com/openconf/confreg-backend/api/validators"
	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/logger"
	"github.com/openconf/confreg-backend/pkg/pagination"
)

// OrderReader is the read surface for order listings and detail views.
type OrderReader interface {
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListByUser(ctx context.Context, userID, conferenceID uuid.UUID, params pagination.Params) ([]models.Order, string, error)
}

// OrderCanceller releases a pending order and its holds.
type OrderCanceller interface {
	CancelOrder(ctx context.Context, orderID uuid.UUID, reason string) error
}

// OrderList returns the caller's orders for one conference, newest first.
func OrderList(repo OrderReader, catalog CatalogReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order repository unavailable"))
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

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orders, next, err := repo.ListByUser(r.Context(), userID, conference.ID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, OrderListResponse{
			Orders:     newOrderList(orders),
			NextCursor: next,
		})
	}
}

// OrderDetail returns one order with line items and payments. Attendees may
// only read their own orders; admins may read any.
func OrderDetail(repo OrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := loadOwnedOrder(r, repo)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// OrderCancel voids a PENDING order, releasing its hold, restoring any credit
// payments, and returning a voucher use.
func OrderCancel(repo OrderReader, svc OrderCanceller, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		order, err := loadOwnedOrder(r, repo)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.CancelOrder(r.Context(), order.ID, "cancelled by buyer"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refreshed, err := repo.GetByID(r.Context(), order.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(refreshed))
	}
}

// loadOwnedOrder fetches the order and enforces that the caller owns it or
// holds the admin role.
func loadOwnedOrder(r *http.Request, repo OrderReader) (*models.Order, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order repository unavailable")
	}
	userID, err := userIDFromContext(r)
	if err != nil {
		return nil, err
	}
	orderID, err := pathUUID(r, "orderId")
	if err != nil {
		return nil, err
	}
	order, err := repo.GetByID(r.Context(), orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID && middleware.RoleFromContext(r.Context()) != string(enums.ActorRoleAdmin) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")
	}
	return order, nil
}
