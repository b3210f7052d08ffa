package orders

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/outbox"
	"github.com/openconf/confreg-backend/pkg/outbox/payloads"
)

// MarkPaid transitions a locked PENDING order to PAID and queues the paid
// event. Every settlement path (webhook, comp, manual, credit) funnels
// through here; the outbox unique index guarantees the event fires exactly
// once per transition no matter how many paths race.
func MarkPaid(ctx context.Context, tx *gorm.DB, events *outbox.Service, repo *Repository, order *models.Order, method enums.PaymentMethod, now time.Time) error {
	if order.Status != enums.OrderStatusPending {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not pending")
	}

	if err := repo.UpdateStatus(tx, order.ID, enums.OrderStatusPaid, now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
	}
	order.Status = enums.OrderStatusPaid
	order.PaidAt = &now

	return events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		OccurredAt:    now,
		Data: payloads.OrderPaidEvent{
			OrderID:      order.ID,
			ConferenceID: order.ConferenceID,
			UserID:       order.UserID,
			Reference:    order.Reference,
			Total:        order.Total,
			Currency:     order.Currency,
			Method:       method,
			PaidAt:       now,
		},
	})
}
