package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openconf/confreg-backend/api/responses"
	"github.com/openconf/confreg-backend/pkg/db/models"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/logger"
)

// CatalogReader is the read-only catalog surface the public controllers need.
type CatalogReader interface {
	GetConferenceBySlug(ctx context.Context, slug string) (*models.Conference, error)
	ListTicketTypes(ctx context.Context, conferenceID uuid.UUID, includeHidden bool) ([]models.TicketType, error)
	ListAddOns(ctx context.Context, conferenceID uuid.UUID) ([]models.AddOn, error)
}

// ConferenceCatalog returns the purchasable catalog for one conference.
// Voucher-gated ticket types stay hidden; they surface through cart
// validation once an unlocking voucher is applied.
func ConferenceCatalog(catalog CatalogReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if catalog == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog unavailable"))
			return
		}

		conference, err := resolveConference(r, catalog)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ticketTypes, err := catalog.ListTicketTypes(r.Context(), conference.ID, false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		addOns, err := catalog.ListAddOns(r.Context(), conference.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newConferenceCatalog(conference, ticketTypes, addOns))
	}
}

func resolveConference(r *http.Request, catalog CatalogReader) (*models.Conference, error) {
	slug := chi.URLParam(r, "conferenceSlug")
	if slug == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "conference slug is required")
	}
	conference, err := catalog.GetConferenceBySlug(r.Context(), slug)
	if err != nil {
		return nil, err
	}
	if !conference.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "conference not found")
	}
	return conference, nil
}
