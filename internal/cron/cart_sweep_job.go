package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
	"github.com/openconf/confreg-backend/pkg/logger"
	"github.com/openconf/confreg-backend/pkg/metrics"
	"github.com/openconf/confreg-backend/pkg/outbox"
	"github.com/openconf/confreg-backend/pkg/outbox/payloads"
)

const cartSweepBatchSize = 200

type staleCartLister interface {
	ListStaleOpenCarts(tx *gorm.DB, now time.Time, limit int) ([]models.Cart, error)
	MarkExpired(tx *gorm.DB, cartID uuid.UUID, now time.Time) error
}

// CartSweepJobParams configure the abandoned-cart sweep.
type CartSweepJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Carts     staleCartLister
	Outbox    outboxEmitter
	Metrics   *metrics.RegistrationMetrics
	BatchSize int
	Now       func() time.Time
}

// NewCartSweepJob builds the cron job that expires abandoned OPEN carts.
// Cart reads already expire lazily; this keeps the table and the partial
// unique index on open carts from accumulating dead rows.
func NewCartSweepJob(params CartSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = cartSweepBatchSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &cartSweepJob{
		logg:    params.Logger,
		db:      params.DB,
		carts:   params.Carts,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		batch:   batch,
		now:     now,
	}, nil
}

type cartSweepJob struct {
	logg    *logger.Logger
	db      txRunner
	carts   staleCartLister
	outbox  outboxEmitter
	metrics *metrics.RegistrationMetrics
	batch   int
	now     func() time.Time
}

func (j *cartSweepJob) Name() string { return "cart-sweep" }

func (j *cartSweepJob) Run(ctx context.Context) error {
	total := 0
	for {
		expired, err := j.sweepBatch(ctx)
		if err != nil {
			return fmt.Errorf("cart sweep: %w", err)
		}
		total += expired
		if expired < j.batch {
			break
		}
	}
	if j.metrics != nil {
		j.metrics.AddCartsExpired(total)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"expired": total})
	j.logg.Info(logCtx, "cart sweep complete")
	return nil
}

func (j *cartSweepJob) sweepBatch(ctx context.Context) (int, error) {
	expired := 0
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		now := j.now().UTC()
		stale, err := j.carts.ListStaleOpenCarts(tx, now, j.batch)
		if err != nil {
			return err
		}
		for i := range stale {
			cart := stale[i]
			if err := j.carts.MarkExpired(tx, cart.ID, now); err != nil {
				return err
			}
			if err := j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventCartExpired,
				AggregateType: enums.AggregateCart,
				AggregateID:   cart.ID,
				Version:       1,
				OccurredAt:    now,
				Data: payloads.CartExpiredEvent{
					CartID:       cart.ID,
					ConferenceID: cart.ConferenceID,
					UserID:       cart.UserID,
					ExpiredAt:    now,
				},
			}); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}
