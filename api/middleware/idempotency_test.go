package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type memoryIdempotencyStore struct {
	values map[string]string
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{values: map[string]string{}}
}

func (m *memoryIdempotencyStore) Get(_ context.Context, key string) (string, error) {
	return m.values[key], nil
}

func (m *memoryIdempotencyStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m *memoryIdempotencyStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func newIdempotencyRouter(store *memoryIdempotencyStore, hits *atomic.Int64) http.Handler {
	r := chi.NewRouter()
	r.Use(Idempotency(store, nil))
	r.Post("/api/v1/conferences/{conferenceSlug}/checkout", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{"reference":"ORD-AAAA1111"}}`))
	})
	r.Get("/api/v1/orders/{orderId}", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func checkoutRequest(userID uuid.UUID, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conferences/gophercon/checkout", strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req.WithContext(WithUserID(req.Context(), userID.String()))
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newMemoryIdempotencyStore()
	var hits atomic.Int64
	router := newIdempotencyRouter(store, &hits)
	userID := uuid.New()
	body := `{"billing_name":"Ada","billing_email":"ada@example.com"}`

	first := httptest.NewRecorder()
	router.ServeHTTP(first, checkoutRequest(userID, "key-1", body))
	if first.Code != http.StatusOK {
		t.Fatalf("first call: expected 200 got %d", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, checkoutRequest(userID, "key-1", body))
	if second.Code != http.StatusOK {
		t.Fatalf("replay: expected 200 got %d", second.Code)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replay body mismatch: %q vs %q", second.Body.String(), first.Body.String())
	}
	if hits.Load() != 1 {
		t.Fatalf("expected handler to run once, ran %d times", hits.Load())
	}
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	store := newMemoryIdempotencyStore()
	var hits atomic.Int64
	router := newIdempotencyRouter(store, &hits)
	userID := uuid.New()

	first := httptest.NewRecorder()
	router.ServeHTTP(first, checkoutRequest(userID, "key-1", `{"billing_name":"Ada","billing_email":"ada@example.com"}`))
	if first.Code != http.StatusOK {
		t.Fatalf("first call: expected 200 got %d", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, checkoutRequest(userID, "key-1", `{"billing_name":"Bob","billing_email":"bob@example.com"}`))
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", second.Code)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected handler to run once, ran %d times", hits.Load())
	}
}

func TestIdempotencyRequiresKeyOnGatedRoute(t *testing.T) {
	store := newMemoryIdempotencyStore()
	var hits atomic.Int64
	router := newIdempotencyRouter(store, &hits)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, checkoutRequest(uuid.New(), "", `{}`))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if hits.Load() != 0 {
		t.Fatalf("handler should not have run")
	}
}

func TestIdempotencyScopesKeysPerUser(t *testing.T) {
	store := newMemoryIdempotencyStore()
	var hits atomic.Int64
	router := newIdempotencyRouter(store, &hits)
	body := `{"billing_name":"Ada","billing_email":"ada@example.com"}`

	first := httptest.NewRecorder()
	router.ServeHTTP(first, checkoutRequest(uuid.New(), "shared-key", body))
	second := httptest.NewRecorder()
	router.ServeHTTP(second, checkoutRequest(uuid.New(), "shared-key", body))

	if hits.Load() != 2 {
		t.Fatalf("different users must not share records, handler ran %d times", hits.Load())
	}
}

func TestIdempotencyIgnoresUngatedRoutes(t *testing.T) {
	store := newMemoryIdempotencyStore()
	var hits atomic.Int64
	router := newIdempotencyRouter(store, &hits)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+uuid.NewString(), nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if len(store.values) != 0 {
		t.Fatalf("no record should be stored for ungated routes")
	}
}
