package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	stripesdk "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/openconf/confreg-backend/pkg/config"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
	errKeyRequired      = errors.New("stripe secret key is required")
	errLoggerRequired   = errors.New("stripe logger is required")
)

// Gateway exposes the provider primitives the payment flow needs, with
// centralized auth, logging, idempotency, and error mapping. Conferences may
// carry their own secret key; calls without one fall back to the platform key.
type Gateway struct {
	environment string
	fallbackKey string
	keyPrefix   string
	tolerance   time.Duration
	logger      *logger.Logger

	mu      sync.Mutex
	clients map[string]*stripesdk.Client
}

// NewGateway initializes the Stripe wrapper and validates the platform key.
func NewGateway(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Gateway, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	fallbackKey := strings.TrimSpace(cfg.SecretKey)
	if fallbackKey != "" {
		if err := validateAPIKey(env, fallbackKey); err != nil {
			return nil, err
		}
	}

	g := &Gateway{
		environment: env,
		fallbackKey: fallbackKey,
		keyPrefix:   strings.TrimSpace(cfg.IdempotencyKeyPrefix),
		tolerance:   cfg.WebhookTolerance,
		logger:      logg,
		clients:     map[string]*stripesdk.Client{},
	}

	logg.Info(ctx, fmt.Sprintf("stripe gateway initialized (%s)", env))
	return g, nil
}

// Environment reports the normalized Stripe environment in use.
func (g *Gateway) Environment() string {
	if g == nil {
		return ""
	}
	return g.environment
}

// NewIdempotencyKey returns a unique key for Stripe operations.
func (g *Gateway) NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = g.keyPrefix
	}
	if key == "" {
		key = "confreg"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

// CreateCustomer creates a provider customer for a (user, conference) pair.
func (g *Gateway) CreateCustomer(ctx context.Context, secretKey string, params CustomerCreateParams) (*stripesdk.Customer, error) {
	api, err := g.clientFor(secretKey)
	if err != nil {
		return nil, err
	}

	req := params.toStripeRequest(g.ensureIdempotencyKey("customer.create", params.IdempotencyKey))
	g.log(ctx, "request", "create_customer", map[string]any{
		"user_id":       params.UserID,
		"conference_id": params.ConferenceID,
	})

	cust, err := api.V1Customers.Create(ctx, req)
	if err != nil {
		g.log(ctx, "error", "create_customer", map[string]any{"error": err.Error()})
		return nil, g.mapStripeError(err, "create customer")
	}

	g.log(ctx, "response", "create_customer", map[string]any{"customer_id": cust.ID})
	return cust, nil
}

// CreatePaymentIntent creates an intent for the order total. Retried calls
// with the same idempotency key never double-charge.
func (g *Gateway) CreatePaymentIntent(ctx context.Context, secretKey string, params PaymentIntentCreateParams) (*stripesdk.PaymentIntent, error) {
	api, err := g.clientFor(secretKey)
	if err != nil {
		return nil, err
	}

	req, err := params.toStripeRequest(g.ensureIdempotencyKey("intent.create", params.IdempotencyKey))
	if err != nil {
		return nil, err
	}
	g.log(ctx, "request", "create_payment_intent", map[string]any{
		"amount":   params.Amount,
		"currency": params.Currency,
	})

	intent, err := api.V1PaymentIntents.Create(ctx, req)
	if err != nil {
		g.log(ctx, "error", "create_payment_intent", map[string]any{"error": err.Error()})
		return nil, g.mapStripeError(err, "create payment intent")
	}

	g.log(ctx, "response", "create_payment_intent", map[string]any{
		"intent_id": intent.ID,
		"status":    string(intent.Status),
	})
	return intent, nil
}

// GetPaymentIntent fetches an intent by id.
func (g *Gateway) GetPaymentIntent(ctx context.Context, secretKey, intentID string) (*stripesdk.PaymentIntent, error) {
	api, err := g.clientFor(secretKey)
	if err != nil {
		return nil, err
	}

	intent, err := api.V1PaymentIntents.Retrieve(ctx, intentID, nil)
	if err != nil {
		g.log(ctx, "error", "get_payment_intent", map[string]any{"error": err.Error()})
		return nil, g.mapStripeError(err, "get payment intent")
	}
	return intent, nil
}

// CreateRefund refunds a settled intent, fully or partially.
func (g *Gateway) CreateRefund(ctx context.Context, secretKey string, params RefundCreateParams) (*stripesdk.Refund, error) {
	api, err := g.clientFor(secretKey)
	if err != nil {
		return nil, err
	}

	req, err := params.toStripeRequest(g.ensureIdempotencyKey("refund.create", params.IdempotencyKey))
	if err != nil {
		return nil, err
	}
	g.log(ctx, "request", "create_refund", map[string]any{
		"payment_intent_id": params.PaymentIntentID,
		"amount":            params.Amount,
	})

	refund, err := api.V1Refunds.Create(ctx, req)
	if err != nil {
		g.log(ctx, "error", "create_refund", map[string]any{"error": err.Error()})
		return nil, g.mapStripeError(err, "create refund")
	}

	g.log(ctx, "response", "create_refund", map[string]any{
		"refund_id": refund.ID,
		"status":    string(refund.Status),
	})
	return refund, nil
}

// VerifyEvent checks the webhook signature against the given signing secret
// within the configured timestamp tolerance.
func (g *Gateway) VerifyEvent(payload []byte, sigHeader, signingSecret string) (stripesdk.Event, error) {
	event, err := webhook.ConstructEventWithTolerance(payload, sigHeader, signingSecret, g.tolerance)
	if err != nil {
		return stripesdk.Event{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "webhook signature verification failed")
	}
	return event, nil
}

func (g *Gateway) clientFor(secretKey string) (*stripesdk.Client, error) {
	key := strings.TrimSpace(secretKey)
	if key == "" {
		key = g.fallbackKey
	}
	if key == "" {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, errKeyRequired, "no stripe credentials configured")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if api, ok := g.clients[key]; ok {
		return api, nil
	}
	api := stripesdk.NewClient(key)
	g.clients[key] = api
	return api, nil
}

func (g *Gateway) ensureIdempotencyKey(prefix, provided string) string {
	if strings.TrimSpace(provided) != "" {
		return provided
	}
	return g.NewIdempotencyKey(prefix)
}

func (g *Gateway) log(ctx context.Context, phase, op string, fields map[string]any) {
	if g == nil || g.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = g.redact(k, v)
	}
	ctx = g.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		g.logger.Error(ctx, fmt.Sprintf("stripe %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		g.logger.Info(ctx, fmt.Sprintf("stripe %s", phase))
	}
}

func (g *Gateway) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "secret", "email", "phone", "token"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func (g *Gateway) mapStripeError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *stripesdk.Error
	if errors.As(err, &apiErr) {
		code := domainCodeForStatus(apiErr.HTTPStatusCode)
		if apiErr.Type == stripesdk.ErrorTypeCard {
			code = pkgerrors.CodeValidation
		}
		if apiErr.Code == stripesdk.ErrorCodeIdempotencyKeyInUse {
			code = pkgerrors.CodeIdempotency
		}
		return pkgerrors.Wrap(code, err, fmt.Sprintf("stripe %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("stripe %s failed", op))
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
