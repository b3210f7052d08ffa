package capacity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openconf/confreg-backend/pkg/db"
	"github.com/openconf/confreg-backend/pkg/db/models"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
)

// Guard computes sold/remaining inventory under the conference's global cap.
// Every method expects to run inside a transaction; Reserve additionally
// expects the caller to hold the conference row lock (LockConference).
type Guard struct{}

// NewGuard builds a capacity guard.
func NewGuard() *Guard {
	return &Guard{}
}

// LockConference loads the conference row under an exclusive lock. The row
// is the serialization point for all capacity decisions.
func (g *Guard) LockConference(tx *gorm.DB, conferenceID uuid.UUID) (*models.Conference, error) {
	var conference models.Conference
	err := db.ForUpdate(tx).
		Where("id = ?", conferenceID).
		First(&conference).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "conference not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock conference")
	}
	return &conference, nil
}

// SoldCount sums ticket-line quantities on orders that hold inventory:
// paid, partially refunded, or pending with an unexpired hold. Lines whose
// ticket-type reference was since soft-deleted still count, so catalog edits
// never leak inventory back in.
func (g *Guard) SoldCount(tx *gorm.DB, conferenceID uuid.UUID, now time.Time) (int, error) {
	var sold int64
	err := tx.Model(&models.OrderLineItem{}).
		Joins("JOIN orders ON orders.id = order_line_items.order_id").
		Where("orders.conference_id = ?", conferenceID).
		Where("order_line_items.kind = ?", "ticket").
		Where(
			tx.Session(&gorm.Session{NewDB: true}).
				Where("orders.status IN ?", []string{"paid", "partially_refunded"}).
				Or("orders.status = ? AND orders.hold_expires_at > ?", "pending", now),
		).
		Select("COALESCE(SUM(order_line_items.quantity), 0)").
		Scan(&sold).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "compute sold count")
	}
	return int(sold), nil
}

// Remaining returns nil when the conference is unbounded, otherwise the
// non-negative remaining capacity.
func (g *Guard) Remaining(tx *gorm.DB, conference *models.Conference, now time.Time) (*int, error) {
	if conference.Unbounded() {
		return nil, nil
	}
	sold, err := g.SoldCount(tx, conference.ID, now)
	if err != nil {
		return nil, err
	}
	remaining := conference.TotalCapacity - sold
	if remaining < 0 {
		remaining = 0
	}
	return &remaining, nil
}

// SoldTicketType sums ticket-line quantities for one ticket type across
// inventory-holding orders, used for the per-type quantity cap.
func (g *Guard) SoldTicketType(tx *gorm.DB, ticketTypeID uuid.UUID, now time.Time) (int, error) {
	var sold int64
	err := tx.Model(&models.OrderLineItem{}).
		Joins("JOIN orders ON orders.id = order_line_items.order_id").
		Where("order_line_items.ticket_type_id = ?", ticketTypeID).
		Where(
			tx.Session(&gorm.Session{NewDB: true}).
				Where("orders.status IN ?", []string{"paid", "partially_refunded"}).
				Or("orders.status = ? AND orders.hold_expires_at > ?", "pending", now),
		).
		Select("COALESCE(SUM(order_line_items.quantity), 0)").
		Scan(&sold).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "compute ticket type sold count")
	}
	return int(sold), nil
}

// Reserve fails when the additional quantity would exceed remaining global
// capacity. Caller must hold the conference row lock; the check is only
// authoritative under that lock.
func (g *Guard) Reserve(tx *gorm.DB, conference *models.Conference, additionalQty int, now time.Time) error {
	if additionalQty <= 0 {
		return nil
	}
	remaining, err := g.Remaining(tx, conference, now)
	if err != nil {
		return err
	}
	if remaining == nil {
		return nil
	}
	if additionalQty > *remaining {
		return pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("conference capacity exceeded: requested %d, remaining %d", additionalQty, *remaining)).
			WithDetails(map[string]int{
				"requested": additionalQty,
				"remaining": *remaining,
			})
	}
	return nil
}
