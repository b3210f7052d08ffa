package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/openconf/confreg-backend/pkg/logger"
	"github.com/openconf/confreg-backend/pkg/metrics"
	"github.com/openconf/confreg-backend/pkg/outbox"
)

const holdSweepBatchSize = 100

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type holdReleaser interface {
	ReleaseLapsedHolds(ctx context.Context, batchSize int) (int, error)
}

// HoldSweepJobParams configure the lapsed-hold backstop.
type HoldSweepJobParams struct {
	Logger    *logger.Logger
	Checkout  holdReleaser
	Metrics   *metrics.RegistrationMetrics
	BatchSize int
}

// NewHoldSweepJob builds the cron job that cancels PENDING orders whose
// inventory holds lapsed. Checkout sweeps lazily per conference; this job
// catches conferences with no checkout traffic.
func NewHoldSweepJob(params HoldSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Checkout == nil {
		return nil, fmt.Errorf("checkout service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = holdSweepBatchSize
	}
	return &holdSweepJob{
		logg:    params.Logger,
		release: params.Checkout,
		metrics: params.Metrics,
		batch:   batch,
	}, nil
}

type holdSweepJob struct {
	logg    *logger.Logger
	release holdReleaser
	metrics *metrics.RegistrationMetrics
	batch   int
}

func (j *holdSweepJob) Name() string { return "hold-sweep" }

func (j *holdSweepJob) Run(ctx context.Context) error {
	total := 0
	start := time.Now()
	for {
		released, err := j.release.ReleaseLapsedHolds(ctx, j.batch)
		if err != nil {
			return fmt.Errorf("release lapsed holds: %w", err)
		}
		total += released
		if released < j.batch {
			break
		}
	}
	if j.metrics != nil {
		j.metrics.AddHoldsReleased(total)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"released":    total,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	j.logg.Info(logCtx, "hold sweep complete")
	return nil
}
