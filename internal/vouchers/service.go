package vouchers

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	pkgdb "github.com/openconf/confreg-backend/pkg/db"
	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
)

const (
	codeAlphabet       = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength         = 8
	maxCodeGenAttempts = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service manages voucher usage counters and bulk code generation.
type Service struct {
	db *gorm.DB
	tx txRunner
}

// NewService builds a voucher service.
func NewService(db *gorm.DB, tx txRunner) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &Service{db: db, tx: tx}, nil
}

// IncrementUsage consumes one use with a conditional update that re-checks
// times_used < max_uses at write time, so racing checkouts can never exceed
// the cap.
func IncrementUsage(tx *gorm.DB, voucherID uuid.UUID) error {
	result := tx.Model(&models.Voucher{}).
		Where("id = ?", voucherID).
		Where("max_uses = 0 OR times_used < max_uses").
		Update("times_used", gorm.Expr("times_used + 1"))
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "increment voucher usage")
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "voucher has no remaining uses")
	}
	return nil
}

// DecrementUsage releases one use, flooring at zero.
func DecrementUsage(tx *gorm.DB, voucherID uuid.UUID) error {
	err := tx.Model(&models.Voucher{}).
		Where("id = ? AND times_used > 0", voucherID).
		Update("times_used", gorm.Expr("times_used - 1")).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement voucher usage")
	}
	return nil
}

// BulkGenerateInput describes a batch of vouchers to mint.
type BulkGenerateInput struct {
	ConferenceID         uuid.UUID
	Count                int
	Prefix               string
	Kind                 enums.VoucherKind
	DiscountValue        decimal.Decimal
	MaxUses              int
	UnlocksHiddenTickets bool
	TicketTypeIDs        []uuid.UUID
	AddOnIDs             []uuid.UUID
}

// BulkGenerate mints a batch of vouchers with random codes. Collisions on
// the per-conference code index are retried per voucher.
func (s *Service) BulkGenerate(ctx context.Context, input BulkGenerateInput) ([]models.Voucher, error) {
	if input.ConferenceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "conference is required")
	}
	if input.Count < 1 || input.Count > 1000 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "count must be between 1 and 1000")
	}
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid voucher kind")
	}
	if input.Kind != enums.VoucherKindComp && input.DiscountValue.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount value must be non-negative")
	}

	var minted []models.Voucher
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		for i := 0; i < input.Count; i++ {
			voucher, err := s.mintOne(tx, input)
			if err != nil {
				return err
			}
			minted = append(minted, *voucher)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

func (s *Service) mintOne(tx *gorm.DB, input BulkGenerateInput) (*models.Voucher, error) {
	for attempt := 0; attempt < maxCodeGenAttempts; attempt++ {
		code, err := randomCode(input.Prefix)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate voucher code")
		}
		voucher := models.Voucher{
			ID:                   uuid.New(),
			ConferenceID:         input.ConferenceID,
			Code:                 code,
			Kind:                 input.Kind,
			DiscountValue:        input.DiscountValue,
			MaxUses:              input.MaxUses,
			UnlocksHiddenTickets: input.UnlocksHiddenTickets,
			IsActive:             true,
		}
		for _, id := range input.TicketTypeIDs {
			voucher.TicketTypes = append(voucher.TicketTypes, models.TicketType{ID: id})
		}
		for _, id := range input.AddOnIDs {
			voucher.AddOns = append(voucher.AddOns, models.AddOn{ID: id})
		}

		err = tx.Create(&voucher).Error
		if err == nil {
			return &voucher, nil
		}
		if !pkgdb.IsUniqueViolation(err, "ux_vouchers_conference_code") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create voucher")
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "voucher code space exhausted")
}

func randomCode(prefix string) (string, error) {
	var b strings.Builder
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteByte('-')
	}
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
