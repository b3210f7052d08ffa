package stripe

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
)

// Currencies Stripe treats as having no minor unit.
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {},
	"krw": {}, "mga": {}, "pyg": {}, "rwf": {}, "ugx": {}, "vnd": {},
	"vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

// ToMinorUnits converts an exact decimal amount to the provider's integer
// minor units, rejecting amounts with sub-unit precision.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	cur := strings.ToLower(strings.TrimSpace(currency))
	scaled := amount
	if _, zero := zeroDecimalCurrencies[cur]; !zero {
		scaled = amount.Shift(2)
	}
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("amount %s has sub-unit precision for currency %s", amount, currency))
	}
	return scaled.IntPart(), nil
}

// FromMinorUnits converts provider integer minor units back to a decimal.
func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	cur := strings.ToLower(strings.TrimSpace(currency))
	d := decimal.NewFromInt(minor)
	if _, zero := zeroDecimalCurrencies[cur]; zero {
		return d
	}
	return d.Shift(-2)
}
