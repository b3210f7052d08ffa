package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgAuth "github.com/openconf/confreg-backend/pkg/auth"
	"github.com/openconf/confreg-backend/pkg/config"
	"github.com/openconf/confreg-backend/pkg/enums"
)

var testJWTConfig = config.JWTConfig{
	Secret:            "middleware-test-secret",
	Issuer:            "confreg-test",
	ExpirationMinutes: 60,
}

func mintToken(t *testing.T, role enums.ActorRole) (uuid.UUID, string) {
	t.Helper()
	userID := uuid.New()
	signed, err := pkgAuth.MintAccessToken(testJWTConfig, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: userID,
		Role:   role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return userID, signed
}

func TestAuthSeedsContext(t *testing.T) {
	userID, token := mintToken(t, enums.ActorRoleAttendee)

	var gotUser, gotRole string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	Auth(testJWTConfig, nil)(next).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if gotUser != userID.String() {
		t.Fatalf("expected user %s got %q", userID, gotUser)
	}
	if gotRole != string(enums.ActorRoleAttendee) {
		t.Fatalf("unexpected role %q", gotRole)
	}
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	resp := httptest.NewRecorder()
	Auth(testJWTConfig, nil)(next).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsGarbageToken(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp := httptest.NewRecorder()
	Auth(testJWTConfig, nil)(next).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestRequireRoleBlocksMismatch(t *testing.T) {
	_, token := mintToken(t, enums.ActorRoleAttendee)

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	})
	chain := Auth(testJWTConfig, nil)(RequireRole("admin", nil)(next))

	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/vouchers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	chain.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}
