package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openconf/confreg-backend/pkg/db/models"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
)

// Repository reads conference catalog data. The catalog is owned by an
// external configuration surface; the engine only consumes it.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a catalog repository bound to the provided DB.
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

func (r *Repository) GetConferenceByID(ctx context.Context, id uuid.UUID) (*models.Conference, error) {
	var conference models.Conference
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&conference).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "conference not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load conference")
	}
	return &conference, nil
}

func (r *Repository) GetConferenceBySlug(ctx context.Context, slug string) (*models.Conference, error) {
	var conference models.Conference
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&conference).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "conference not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load conference")
	}
	return &conference, nil
}

func (r *Repository) GetTicketType(ctx context.Context, id uuid.UUID) (*models.TicketType, error) {
	var ticketType models.TicketType
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&ticketType).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ticket type not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ticket type")
	}
	return &ticketType, nil
}

func (r *Repository) GetAddOn(ctx context.Context, id uuid.UUID) (*models.AddOn, error) {
	var addOn models.AddOn
	err := r.db.WithContext(ctx).
		Preload("RequiredTicketTypes").
		Where("id = ?", id).
		First(&addOn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "add-on not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load add-on")
	}
	return &addOn, nil
}

// FindVoucherByCode loads a voucher with its scope sets. Lookup is scoped to
// one conference; codes are only unique within a conference.
func (r *Repository) FindVoucherByCode(ctx context.Context, conferenceID uuid.UUID, code string) (*models.Voucher, error) {
	var voucher models.Voucher
	err := r.db.WithContext(ctx).
		Preload("TicketTypes").
		Preload("AddOns").
		Where("conference_id = ? AND code = ?", conferenceID, code).
		First(&voucher).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "voucher not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load voucher")
	}
	return &voucher, nil
}

func (r *Repository) GetVoucherByID(ctx context.Context, id uuid.UUID) (*models.Voucher, error) {
	var voucher models.Voucher
	err := r.db.WithContext(ctx).
		Preload("TicketTypes").
		Preload("AddOns").
		Where("id = ?", id).
		First(&voucher).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "voucher not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load voucher")
	}
	return &voucher, nil
}

// ListTicketTypes returns active, non-deleted ticket types. Voucher-gated
// types are hidden unless includeHidden is set.
func (r *Repository) ListTicketTypes(ctx context.Context, conferenceID uuid.UUID, includeHidden bool) ([]models.TicketType, error) {
	query := r.db.WithContext(ctx).
		Where("conference_id = ? AND is_active = ?", conferenceID, true)
	if !includeHidden {
		query = query.Where("requires_voucher = ?", false)
	}
	var ticketTypes []models.TicketType
	if err := query.Order("created_at ASC").Find(&ticketTypes).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ticket types")
	}
	return ticketTypes, nil
}

func (r *Repository) ListAddOns(ctx context.Context, conferenceID uuid.UUID) ([]models.AddOn, error) {
	var addOns []models.AddOn
	err := r.db.WithContext(ctx).
		Preload("RequiredTicketTypes").
		Where("conference_id = ? AND is_active = ?", conferenceID, true).
		Order("created_at ASC").
		Find(&addOns).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list add-ons")
	}
	return addOns, nil
}
