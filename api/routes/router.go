package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openconf/confreg-backend/api/controllers"
	webhookcontrollers "github.com/openconf/confreg-backend/api/controllers/webhooks"
	"github.com/openconf/confreg-backend/api/middleware"
	cartsvc "github.com/openconf/confreg-backend/internal/cart"
	checkoutsvc "github.com/openconf/confreg-backend/internal/checkout"
	"github.com/openconf/confreg-backend/internal/credits"
	"github.com/openconf/confreg-backend/internal/orders"
	paymentsvc "github.com/openconf/confreg-backend/internal/payments"
	refundsvc "github.com/openconf/confreg-backend/internal/refunds"
	vouchersvc "github.com/openconf/confreg-backend/internal/vouchers"
	stripewebhook "github.com/openconf/confreg-backend/internal/webhooks/stripe"
	"github.com/openconf/confreg-backend/pkg/config"
	"github.com/openconf/confreg-backend/pkg/logger"
	pkgredis "github.com/openconf/confreg-backend/pkg/redis"
	"github.com/openconf/confreg-backend/pkg/stripe"
)

// RouterParams carries everything the HTTP surface depends on. Catalog is the
// only required repository-level dependency; handlers for absent services
// respond with an internal error rather than panicking.
type RouterParams struct {
	Config *config.Config
	Logger *logger.Logger

	DBPinger    controllers.Pinger
	RedisPinger controllers.Pinger
	Idempotency pkgredis.IdempotencyStore
	Registry    prometheus.Gatherer

	Catalog controllers.CatalogReader
	Orders  *orders.Repository
	Credits *credits.Repository

	Carts    *cartsvc.Service
	Checkout *checkoutsvc.Service
	Payments *paymentsvc.Service
	Refunds  *refundsvc.Service
	Vouchers *vouchersvc.Service

	StripeGateway  *stripe.Gateway
	StripeWebhooks *stripewebhook.Service
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.DBPinger, params.RedisPinger))
	})

	if params.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
		r.Get("/conferences/{conferenceSlug}", controllers.ConferenceCatalog(params.Catalog, logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe/{conferenceSlug}", webhookcontrollers.StripeWebhook(
			params.StripeWebhooks,
			params.StripeGateway,
			params.Catalog,
			cfg.Stripe.WebhookSecret,
			logg,
		))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(params.Idempotency, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/conferences/{conferenceSlug}", func(r chi.Router) {
			r.Route("/cart", func(r chi.Router) {
				r.Get("/", controllers.CartFetch(params.Carts, params.Catalog, logg))
				r.Post("/items", controllers.CartAddItem(params.Carts, params.Catalog, logg))
				r.Patch("/items/{itemId}", controllers.CartUpdateItem(params.Carts, params.Catalog, logg))
				r.Delete("/items/{itemId}", controllers.CartRemoveItem(params.Carts, params.Catalog, logg))
				r.Post("/voucher", controllers.CartApplyVoucher(params.Carts, params.Catalog, logg))
			})
			r.Post("/checkout", controllers.Checkout(params.Checkout, params.Carts, params.Catalog, logg))
			r.Get("/orders", controllers.OrderList(params.Orders, params.Catalog, logg))
			r.Get("/credits", controllers.CreditList(params.Credits, params.Catalog, logg))
		})

		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Get("/", controllers.OrderDetail(params.Orders, logg))
			r.Post("/cancel", controllers.OrderCancel(params.Orders, params.Checkout, logg))
			r.Post("/payments", controllers.PaymentInitiate(params.Payments, logg))
			r.Post("/credits", controllers.CreditApply(params.Checkout, params.Orders, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole("admin", logg))
		r.Use(middleware.Idempotency(params.Idempotency, logg))

		r.Get("/ping", controllers.AdminPing())
		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Get("/", controllers.OrderDetail(params.Orders, logg))
			r.Post("/comp", controllers.AdminRecordComp(params.Payments, params.Orders, logg))
			r.Post("/manual-payment", controllers.AdminRecordManual(params.Payments, params.Orders, logg))
			r.Post("/refunds", controllers.AdminCreateRefund(params.Refunds, logg))
		})
		r.Post("/vouchers", controllers.AdminGenerateVouchers(params.Vouchers, logg))
	})

	return r
}
