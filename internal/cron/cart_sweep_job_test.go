package cron

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
	"github.com/openconf/confreg-backend/pkg/logger"
	"github.com/openconf/confreg-backend/pkg/outbox"
)

type fakeCartRepo struct {
	stale   []models.Cart
	expired []uuid.UUID
}

func (f *fakeCartRepo) ListStaleOpenCarts(_ *gorm.DB, _ time.Time, limit int) ([]models.Cart, error) {
	if len(f.stale) == 0 {
		return nil, nil
	}
	n := limit
	if n > len(f.stale) {
		n = len(f.stale)
	}
	batch := f.stale[:n]
	f.stale = f.stale[n:]
	return batch, nil
}

func (f *fakeCartRepo) MarkExpired(_ *gorm.DB, cartID uuid.UUID, _ time.Time) error {
	f.expired = append(f.expired, cartID)
	return nil
}

type recordingEmitter struct {
	events []outbox.DomainEvent
}

func (r *recordingEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEmitter) EmitIfNotExists(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

type cartSweepTxRunner struct{}

func (cartSweepTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func TestCartSweepJobExpiresAndEmits(t *testing.T) {
	repo := &fakeCartRepo{stale: []models.Cart{
		{ID: uuid.New(), UserID: uuid.New(), ConferenceID: uuid.New(), Status: enums.CartStatusOpen},
		{ID: uuid.New(), UserID: uuid.New(), ConferenceID: uuid.New(), Status: enums.CartStatusOpen},
		{ID: uuid.New(), UserID: uuid.New(), ConferenceID: uuid.New(), Status: enums.CartStatusOpen},
	}}
	emitter := &recordingEmitter{}
	job, err := NewCartSweepJob(CartSweepJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		DB:        cartSweepTxRunner{},
		Carts:     repo,
		Outbox:    emitter,
		BatchSize: 2,
	})
	if err != nil {
		t.Fatalf("NewCartSweepJob: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(repo.expired) != 3 {
		t.Fatalf("expected 3 carts expired, got %d", len(repo.expired))
	}
	if len(emitter.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(emitter.events))
	}
	for _, event := range emitter.events {
		if event.EventType != enums.EventCartExpired {
			t.Fatalf("unexpected event type %s", event.EventType)
		}
		if event.AggregateType != enums.AggregateCart {
			t.Fatalf("unexpected aggregate type %s", event.AggregateType)
		}
	}
}

func TestCartSweepJobNoStaleCarts(t *testing.T) {
	emitter := &recordingEmitter{}
	job, err := NewCartSweepJob(CartSweepJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		DB:     cartSweepTxRunner{},
		Carts:  &fakeCartRepo{},
		Outbox: emitter,
	})
	if err != nil {
		t.Fatalf("NewCartSweepJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("expected no events, got %d", len(emitter.events))
	}
}
