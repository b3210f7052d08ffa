package stripe

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	stripesdk "github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
)

// CustomerCreateParams defines the payload to create a provider customer.
type CustomerCreateParams struct {
	Email          string
	Name           string
	UserID         uuid.UUID
	ConferenceID   uuid.UUID
	IdempotencyKey string
}

func (p CustomerCreateParams) toStripeRequest(idempotencyKey string) *stripesdk.CustomerCreateParams {
	req := &stripesdk.CustomerCreateParams{
		Email: stripesdk.String(p.Email),
		Name:  stripesdk.String(p.Name),
		Metadata: map[string]string{
			"user_id":       p.UserID.String(),
			"conference_id": p.ConferenceID.String(),
		},
	}
	req.IdempotencyKey = stripesdk.String(idempotencyKey)
	return req
}

// PaymentIntentCreateParams defines the payload to create a payment intent.
type PaymentIntentCreateParams struct {
	Amount         decimal.Decimal
	Currency       string
	CustomerID     string
	Metadata       map[string]string
	IdempotencyKey string
}

func (p PaymentIntentCreateParams) toStripeRequest(idempotencyKey string) (*stripesdk.PaymentIntentCreateParams, error) {
	minor, err := ToMinorUnits(p.Amount, p.Currency)
	if err != nil {
		return nil, err
	}
	req := &stripesdk.PaymentIntentCreateParams{
		Amount:   stripesdk.Int64(minor),
		Currency: stripesdk.String(strings.ToLower(p.Currency)),
		Metadata: p.Metadata,
		AutomaticPaymentMethods: &stripesdk.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripesdk.Bool(true),
		},
	}
	if p.CustomerID != "" {
		req.Customer = stripesdk.String(p.CustomerID)
	}
	req.IdempotencyKey = stripesdk.String(idempotencyKey)
	return req, nil
}

// RefundCreateParams defines the payload to refund a settled intent.
type RefundCreateParams struct {
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
	Reason          string
	IdempotencyKey  string
}

func (p RefundCreateParams) toStripeRequest(idempotencyKey string) (*stripesdk.RefundCreateParams, error) {
	minor, err := ToMinorUnits(p.Amount, p.Currency)
	if err != nil {
		return nil, err
	}
	req := &stripesdk.RefundCreateParams{
		PaymentIntent: stripesdk.String(p.PaymentIntentID),
		Amount:        stripesdk.Int64(minor),
	}
	if p.Reason != "" {
		req.Reason = stripesdk.String(p.Reason)
	}
	req.IdempotencyKey = stripesdk.String(idempotencyKey)
	return req, nil
}

// IntentIDFromClientSecret extracts the intent id from a client secret of the
// form "pi_xxx_secret_yyy".
func IntentIDFromClientSecret(clientSecret string) (string, error) {
	idx := strings.Index(clientSecret, "_secret_")
	if idx <= 0 || !strings.HasPrefix(clientSecret, "pi_") {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "malformed payment intent client secret")
	}
	return clientSecret[:idx], nil
}
