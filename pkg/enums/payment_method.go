package enums

import "fmt"

// PaymentMethod identifies how an order was (or will be) settled.
type PaymentMethod string

const (
	PaymentMethodStripe PaymentMethod = "stripe"
	PaymentMethodComp   PaymentMethod = "comp"
	PaymentMethodManual PaymentMethod = "manual"
	PaymentMethodCredit PaymentMethod = "credit"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodStripe,
	PaymentMethodComp,
	PaymentMethodManual,
	PaymentMethodCredit,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
