package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/openconf/confreg-backend/api/routes"
	"github.com/openconf/confreg-backend/internal/capacity"
	cartsvc "github.com/openconf/confreg-backend/internal/cart"
	"github.com/openconf/confreg-backend/internal/catalog"
	checkoutsvc "github.com/openconf/confreg-backend/internal/checkout"
	"github.com/openconf/confreg-backend/internal/credits"
	"github.com/openconf/confreg-backend/internal/orders"
	paymentsvc "github.com/openconf/confreg-backend/internal/payments"
	refundsvc "github.com/openconf/confreg-backend/internal/refunds"
	vouchersvc "github.com/openconf/confreg-backend/internal/vouchers"
	stripewebhook "github.com/openconf/confreg-backend/internal/webhooks/stripe"
	"github.com/openconf/confreg-backend/pkg/config"
	"github.com/openconf/confreg-backend/pkg/db"
	"github.com/openconf/confreg-backend/pkg/logger"
	"github.com/openconf/confreg-backend/pkg/metrics"
	"github.com/openconf/confreg-backend/pkg/migrate"
	"github.com/openconf/confreg-backend/pkg/outbox"
	"github.com/openconf/confreg-backend/pkg/redis"
	"github.com/openconf/confreg-backend/pkg/stripe"
)

const shutdownGrace = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gateway, err := stripe.NewGateway(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe gateway", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	registrationMetrics := metrics.NewRegistrationMetrics(promRegistry)

	catalogRepo := catalog.NewRepository(dbClient.DB())
	cartRepo := cartsvc.NewRepository(dbClient.DB())
	orderRepo := orders.NewRepository(dbClient.DB())
	creditRepo := credits.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	guard := capacity.NewGuard()

	cartService, err := cartsvc.NewService(cartsvc.ServiceParams{
		Repository:        cartRepo,
		Catalog:           catalogRepo,
		Guard:             guard,
		TransactionRunner: dbClient,
		Registration:      cfg.Registration,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		Orders:            orderRepo,
		Carts:             cartRepo,
		Catalog:           catalogRepo,
		Credits:           creditRepo,
		Guard:             guard,
		Events:            outboxService,
		TransactionRunner: dbClient,
		Registration:      cfg.Registration,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	paymentService, err := paymentsvc.NewService(paymentsvc.ServiceParams{
		Orders:            orderRepo,
		Catalog:           catalogRepo,
		Events:            outboxService,
		Gateway:           gateway,
		TransactionRunner: dbClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment service", err)
		os.Exit(1)
	}

	refundService, err := refundsvc.NewService(refundsvc.ServiceParams{
		Orders:            orderRepo,
		Catalog:           catalogRepo,
		Credits:           creditRepo,
		Events:            outboxService,
		Gateway:           gateway,
		TransactionRunner: dbClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refund service", err)
		os.Exit(1)
	}

	voucherService, err := vouchersvc.NewService(dbClient.DB(), dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create voucher service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Orders:            orderRepo,
		Events:            outboxService,
		Guard:             webhookGuard,
		TransactionRunner: dbClient,
		Logger:            logg,
		Metrics:           registrationMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:         cfg,
			Logger:         logg,
			DBPinger:       dbClient,
			RedisPinger:    redisClient,
			Idempotency:    redisClient,
			Registry:       promRegistry,
			Catalog:        catalogRepo,
			Orders:         orderRepo,
			Credits:        creditRepo,
			Carts:          cartService,
			Checkout:       checkoutService,
			Payments:       paymentService,
			Refunds:        refundService,
			Vouchers:       voucherService,
			StripeGateway:  gateway,
			StripeWebhooks: webhookService,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "graceful shutdown failed", err)
			os.Exit(1)
		}
	}

	logg.Info(ctx, "api server shut down")
}
