package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	stripesdk "github.com/stripe/stripe-go/v84"

	"github.com/openconf/confreg-backend/pkg/db/models"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/logger"
)

type stubVerifier struct {
	secret string
	event  stripesdk.Event
	err    error
}

func (s *stubVerifier) VerifyEvent(_ []byte, _ string, signingSecret string) (stripesdk.Event, error) {
	s.secret = signingSecret
	return s.event, s.err
}

type stubProcessor struct {
	conferenceID uuid.UUID
	eventID      string
	err          error
	calls        int
}

func (s *stubProcessor) Process(_ context.Context, conferenceID uuid.UUID, event *stripesdk.Event) error {
	s.calls++
	s.conferenceID = conferenceID
	s.eventID = event.ID
	return s.err
}

type stubResolver struct {
	conference *models.Conference
	err        error
}

func (s *stubResolver) GetConferenceBySlug(_ context.Context, _ string) (*models.Conference, error) {
	return s.conference, s.err
}

func webhookRouter(svc StripeWebhookProcessor, verifier eventVerifier, conferences conferenceResolver, fallbackSecret string) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test"})
	r := chi.NewRouter()
	r.Post("/api/v1/webhooks/stripe/{conferenceSlug}", StripeWebhook(svc, verifier, conferences, fallbackSecret, logg))
	return r
}

func webhookRequest(sig string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe/gophercon", strings.NewReader(`{"id":"evt_1"}`))
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	return req
}

func TestStripeWebhookProcessesVerifiedEvent(t *testing.T) {
	conference := &models.Conference{ID: uuid.New(), Slug: "gophercon", IsActive: true}
	verifier := &stubVerifier{event: stripesdk.Event{ID: "evt_1", Type: "payment_intent.succeeded"}}
	processor := &stubProcessor{}
	router := webhookRouter(processor, verifier, &stubResolver{conference: conference}, "whsec_platform")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, webhookRequest("t=1,v1=sig"))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if processor.calls != 1 {
		t.Fatalf("expected one Process call, got %d", processor.calls)
	}
	if processor.conferenceID != conference.ID {
		t.Fatalf("expected conference %s, got %s", conference.ID, processor.conferenceID)
	}
	var envelope struct {
		Data map[string]string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data["received"] != "evt_1" {
		t.Fatalf("expected event id in ack, got %v", envelope.Data)
	}
}

func TestStripeWebhookMissingSignature(t *testing.T) {
	conference := &models.Conference{ID: uuid.New(), Slug: "gophercon"}
	processor := &stubProcessor{}
	router := webhookRouter(processor, &stubVerifier{}, &stubResolver{conference: conference}, "whsec_platform")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, webhookRequest(""))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if processor.calls != 0 {
		t.Fatal("unsigned requests must not reach the processor")
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	conference := &models.Conference{ID: uuid.New(), Slug: "gophercon"}
	verifier := &stubVerifier{err: errors.New("signature mismatch")}
	processor := &stubProcessor{}
	router := webhookRouter(processor, verifier, &stubResolver{conference: conference}, "whsec_platform")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, webhookRequest("t=1,v1=bad"))

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if processor.calls != 0 {
		t.Fatal("unverified events must not reach the processor")
	}
}

func TestStripeWebhookAcksDespiteProcessorFailure(t *testing.T) {
	conference := &models.Conference{ID: uuid.New(), Slug: "gophercon"}
	verifier := &stubVerifier{event: stripesdk.Event{ID: "evt_2"}}
	processor := &stubProcessor{err: errors.New("order lookup failed")}
	router := webhookRouter(processor, verifier, &stubResolver{conference: conference}, "whsec_platform")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, webhookRequest("t=1,v1=sig"))

	if resp.Code != http.StatusOK {
		t.Fatalf("processor failures must still ack, got %d", resp.Code)
	}
}

func TestStripeWebhookPrefersConferenceSecret(t *testing.T) {
	secret := "whsec_conference"
	conference := &models.Conference{ID: uuid.New(), Slug: "gophercon", StripeWebhookSecret: &secret}
	verifier := &stubVerifier{event: stripesdk.Event{ID: "evt_3"}}
	router := webhookRouter(&stubProcessor{}, verifier, &stubResolver{conference: conference}, "whsec_platform")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, webhookRequest("t=1,v1=sig"))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if verifier.secret != secret {
		t.Fatalf("expected conference secret, verifier saw %q", verifier.secret)
	}
}

func TestStripeWebhookUnknownConference(t *testing.T) {
	resolver := &stubResolver{err: pkgerrors.New(pkgerrors.CodeNotFound, "conference not found")}
	processor := &stubProcessor{}
	router := webhookRouter(processor, &stubVerifier{}, resolver, "whsec_platform")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, webhookRequest("t=1,v1=sig"))

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
	if processor.calls != 0 {
		t.Fatal("unknown conferences must not reach the processor")
	}
}
