package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgauth "github.com/openconf/confreg-backend/pkg/auth"
	"github.com/openconf/confreg-backend/pkg/config"
	"github.com/openconf/confreg-backend/pkg/enums"
	"github.com/openconf/confreg-backend/pkg/logger"
)

func testRouterConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "8080"},
		JWT: config.JWTConfig{
			Secret:            "router-test-secret",
			Issuer:            "confreg-test",
			ExpirationMinutes: 60,
		},
	}
}

func testRouter(t *testing.T) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testRouterConfig()
	return NewRouter(RouterParams{
		Config: cfg,
		Logger: logger.New(logger.Options{ServiceName: "test"}),
	}), cfg
}

func mintRouterToken(t *testing.T, cfg *config.Config, role enums.ActorRole) string {
	t.Helper()
	token, err := pkgauth.MintAccessToken(cfg.JWT, time.Now(), pkgauth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestRouterHealthLive(t *testing.T) {
	router, _ := testRouter(t)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if got := resp.Header().Get("X-ConfReg-Env"); got != "test" {
		t.Fatalf("expected env header, got %q", got)
	}
}

func TestRouterPublicPing(t *testing.T) {
	router, _ := testRouter(t)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/public/ping", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestRouterProtectedRoutesRequireAuth(t *testing.T) {
	router, _ := testRouter(t)

	for _, target := range []string{"/api/v1/ping", "/api/admin/v1/ping"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, target, nil))
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", target, resp.Code)
		}
	}
}

func TestRouterAcceptsBearerToken(t *testing.T) {
	router, cfg := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set("Authorization", "Bearer "+mintRouterToken(t, cfg, enums.ActorRoleAttendee))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestRouterAdminRoutesRejectAttendees(t *testing.T) {
	router, cfg := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/ping", nil)
	req.Header.Set("Authorization", "Bearer "+mintRouterToken(t, cfg, enums.ActorRoleAttendee))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestRouterAdminPing(t *testing.T) {
	router, cfg := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/ping", nil)
	req.Header.Set("Authorization", "Bearer "+mintRouterToken(t, cfg, enums.ActorRoleAdmin))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestRouterMetricsAbsentWithoutRegistry(t *testing.T) {
	router, _ := testRouter(t)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if resp.Code == http.StatusOK {
		t.Fatal("metrics endpoint must not be mounted without a registry")
	}
}
