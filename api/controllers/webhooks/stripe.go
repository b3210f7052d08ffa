package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	stripesdk "github.com/stripe/stripe-go/v84"

	"github.com/openconf/confreg-backend/api/responses"
	"github.com/openconf/confreg-backend/pkg/db/models"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/logger"
)

// StripeWebhookProcessor applies a verified Stripe event to order state.
type StripeWebhookProcessor interface {
	Process(ctx context.Context, conferenceID uuid.UUID, event *stripesdk.Event) error
}

type eventVerifier interface {
	VerifyEvent(payload []byte, sigHeader, signingSecret string) (stripesdk.Event, error)
}

type conferenceResolver interface {
	GetConferenceBySlug(ctx context.Context, slug string) (*models.Conference, error)
}

// StripeWebhook receives payment lifecycle events for one conference. The
// path carries the conference slug so each conference's events verify against
// its own signing secret; fallbackSecret covers conferences using platform
// credentials.
//
// After the signature verifies, the endpoint always acks. Handler failures
// are captured to webhook_processing_errors for reconciliation; re-delivering
// the same event to a failing handler would fail identically.
func StripeWebhook(svc StripeWebhookProcessor, verifier eventVerifier, conferences conferenceResolver, fallbackSecret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || verifier == nil || conferences == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}

		slug := chi.URLParam(r, "conferenceSlug")
		if slug == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "conference slug is required"))
			return
		}
		conference, err := conferences.GetConferenceBySlug(ctx, slug)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		signingSecret := fallbackSecret
		if conference.StripeWebhookSecret != nil && *conference.StripeWebhookSecret != "" {
			signingSecret = *conference.StripeWebhookSecret
		}
		if signingSecret == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook secret not configured"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := verifier.VerifyEvent(payload, sigHeader, signingSecret)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "verify signature"))
			return
		}

		if err := svc.Process(ctx, conference.ID, &event); err != nil && logg != nil {
			logCtx := logg.WithFields(ctx, map[string]any{
				"stripe_event_id": event.ID,
				"stripe_event":    string(event.Type),
			})
			logg.Error(logCtx, "stripe webhook processing failed", err)
		}

		responses.WriteSuccess(w, map[string]string{"received": event.ID})
	}
}
