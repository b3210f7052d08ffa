package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openconf/confreg-backend/internal/capacity"
	cartsvc "github.com/openconf/confreg-backend/internal/cart"
	"github.com/openconf/confreg-backend/internal/catalog"
	checkoutsvc "github.com/openconf/confreg-backend/internal/checkout"
	"github.com/openconf/confreg-backend/internal/credits"
	"github.com/openconf/confreg-backend/internal/cron"
	"github.com/openconf/confreg-backend/internal/orders"
	"github.com/openconf/confreg-backend/pkg/config"
	"github.com/openconf/confreg-backend/pkg/db"
	"github.com/openconf/confreg-backend/pkg/logger"
	"github.com/openconf/confreg-backend/pkg/metrics"
	"github.com/openconf/confreg-backend/pkg/migrate"
	"github.com/openconf/confreg-backend/pkg/outbox"
	"github.com/openconf/confreg-backend/pkg/redis"
)

const lockKeyFormat = "confreg:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	registrationMetrics := metrics.NewRegistrationMetrics(prometheus.DefaultRegisterer)

	cartRepo := cartsvc.NewRepository(dbClient.DB())
	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		Orders:            orders.NewRepository(dbClient.DB()),
		Carts:             cartRepo,
		Catalog:           catalog.NewRepository(dbClient.DB()),
		Credits:           credits.NewRepository(dbClient.DB()),
		Guard:             capacity.NewGuard(),
		Events:            outboxService,
		TransactionRunner: dbClient,
		Registration:      cfg.Registration,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	holdSweep, err := cron.NewHoldSweepJob(cron.HoldSweepJobParams{
		Logger:   logg,
		Checkout: checkoutService,
		Metrics:  registrationMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create hold sweep job", err)
		os.Exit(1)
	}

	cartSweep, err := cron.NewCartSweepJob(cron.CartSweepJobParams{
		Logger:  logg,
		DB:      dbClient,
		Carts:   cartRepo,
		Outbox:  outboxService,
		Metrics: registrationMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cart sweep job", err)
		os.Exit(1)
	}

	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(holdSweep, cartSweep, outboxRetention)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
