package credits

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/openconf/confreg-backend/pkg/db"
	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
)

// Repository persists spendable credit balances.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a credits repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx rebinds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(tx *gorm.DB, credit *models.Credit) error {
	return tx.Create(credit).Error
}

// LockCredit loads a credit under an exclusive lock; applications mutate the
// remaining balance.
func (r *Repository) LockCredit(tx *gorm.DB, creditID uuid.UUID) (*models.Credit, error) {
	var credit models.Credit
	err := db.ForUpdate(tx).
		Where("id = ?", creditID).
		First(&credit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "credit not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock credit")
	}
	return &credit, nil
}

func (r *Repository) GetByID(ctx context.Context, creditID uuid.UUID) (*models.Credit, error) {
	var credit models.Credit
	err := r.db.WithContext(ctx).Where("id = ?", creditID).First(&credit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "credit not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit")
	}
	return &credit, nil
}

// ListAvailable returns a user's spendable credits for one conference.
func (r *Repository) ListAvailable(ctx context.Context, userID, conferenceID uuid.UUID) ([]models.Credit, error) {
	var rows []models.Credit
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND conference_id = ? AND status = ?", userID, conferenceID, enums.CreditStatusAvailable).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list credits")
	}
	return rows, nil
}

// Deduct reduces the remaining balance and flips the credit to APPLIED when
// it reaches zero.
func (r *Repository) Deduct(tx *gorm.DB, credit *models.Credit, amount decimal.Decimal) error {
	remaining := credit.RemainingAmount.Sub(amount)
	if remaining.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeConflict, "credit balance insufficient")
	}
	credit.RemainingAmount = remaining
	if remaining.IsZero() {
		credit.Status = enums.CreditStatusApplied
	}
	if err := tx.Save(credit).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deduct credit")
	}
	return nil
}

// Restore returns a previously-applied amount to the credit, reviving
// APPLIED credits back to AVAILABLE.
func (r *Repository) Restore(tx *gorm.DB, creditID uuid.UUID, amount decimal.Decimal) error {
	credit, err := r.LockCredit(tx, creditID)
	if err != nil {
		return err
	}
	credit.RemainingAmount = credit.RemainingAmount.Add(amount)
	if credit.Status == enums.CreditStatusApplied {
		credit.Status = enums.CreditStatusAvailable
	}
	if err := tx.Save(credit).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restore credit")
	}
	return nil
}
