package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/openconf/confreg-backend/api/responses"
	"github.com/openconf/confreg-backend/pkg/config"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is the readiness probe surface of a dependency client.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ConfReg-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports readiness of the API's hard dependencies. Redis is
// optional at runtime (idempotency degrades to DB-only dedup) but still
// reported so operators see the degradation.
func HealthReady(cfg *config.Config, logg *logger.Logger, db Pinger, redis Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ConfReg-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{}
		healthy := true

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				checks["db"] = "down"
				healthy = false
				if logg != nil {
					logg.Error(ctx, "readiness: db ping failed", err)
				}
			} else {
				checks["db"] = "ok"
			}
		}

		if redis != nil {
			if err := redis.Ping(ctx); err != nil {
				checks["redis"] = "down"
				if logg != nil {
					logg.Error(ctx, "readiness: redis ping failed", err)
				}
			} else {
				checks["redis"] = "ok"
			}
		}

		if !healthy {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
