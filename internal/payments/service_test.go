package payments

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	stripesdk "github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openconf/confreg-backend/internal/catalog"
	"github.com/openconf/confreg-backend/internal/orders"
	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
	pkgerrors "github.com/openconf/confreg-backend/pkg/errors"
	"github.com/openconf/confreg-backend/pkg/logger"
	"github.com/openconf/confreg-backend/pkg/outbox"
	"github.com/openconf/confreg-backend/pkg/stripe"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fakeGateway struct {
	customers       int
	intents         int
	intentStatus    stripesdk.PaymentIntentStatus
	lastIntentInput stripe.PaymentIntentCreateParams
}

func (g *fakeGateway) CreateCustomer(_ context.Context, _ string, params stripe.CustomerCreateParams) (*stripesdk.Customer, error) {
	g.customers++
	return &stripesdk.Customer{ID: "cus_test_" + params.UserID.String()[:8]}, nil
}

func (g *fakeGateway) CreatePaymentIntent(_ context.Context, _ string, params stripe.PaymentIntentCreateParams) (*stripesdk.PaymentIntent, error) {
	g.intents++
	g.lastIntentInput = params
	id := "pi_test_1"
	return &stripesdk.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret_abc",
		Status:       stripesdk.PaymentIntentStatusRequiresPaymentMethod,
	}, nil
}

func (g *fakeGateway) GetPaymentIntent(_ context.Context, _ string, intentID string) (*stripesdk.PaymentIntent, error) {
	status := g.intentStatus
	if status == "" {
		status = stripesdk.PaymentIntentStatusRequiresPaymentMethod
	}
	return &stripesdk.PaymentIntent{
		ID:           intentID,
		ClientSecret: intentID + "_secret_abc",
		Status:       status,
	}, nil
}

func setupPaymentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	for _, ddl := range []string{
		`CREATE TABLE conferences (
  id TEXT PRIMARY KEY,
  slug TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  total_capacity INTEGER NOT NULL DEFAULT 0,
  currency TEXT NOT NULL DEFAULT 'USD',
  stripe_secret_key TEXT,
  stripe_webhook_secret TEXT,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  conference_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  cart_id TEXT,
  reference TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL DEFAULT 'pending',
  currency TEXT NOT NULL DEFAULT 'USD',
  subtotal NUMERIC NOT NULL,
  discount NUMERIC NOT NULL DEFAULT 0,
  total NUMERIC NOT NULL,
  voucher_id TEXT,
  voucher_snapshot TEXT,
  hold_expires_at DATETIME,
  billing_name TEXT,
  billing_email TEXT,
  paid_at DATETIME,
  cancelled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE payments (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  method TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  provider_intent_id TEXT,
  provider_charge_id TEXT,
  credit_id TEXT,
  reference TEXT,
  note TEXT,
  recorded_by TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE stripe_customers (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  conference_id TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE UNIQUE INDEX ux_stripe_customers_user_conference ON stripe_customers (user_id, conference_id);`,
		`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
		`CREATE UNIQUE INDEX ux_outbox_events_event_aggregate ON outbox_events (event_type, aggregate_type, aggregate_id);`,
	} {
		require.NoError(t, gdb.Exec(ddl).Error)
	}

	return gdb
}

func newPaymentsService(t *testing.T, gdb *gorm.DB, gateway paymentGateway) *Service {
	t.Helper()
	logg := logger.New(logger.Options{Output: io.Discard})
	service, err := NewService(ServiceParams{
		Orders:            orders.NewRepository(gdb),
		Catalog:           catalog.NewRepository(gdb),
		Events:            outbox.NewService(outbox.NewRepository(gdb), logg),
		Gateway:           gateway,
		TransactionRunner: testTxRunner{db: gdb},
	})
	require.NoError(t, err)
	return service
}

func seedConference(t *testing.T, gdb *gorm.DB) models.Conference {
	t.Helper()
	conference := models.Conference{
		ID:   uuid.New(),
		Slug: "conf-" + uuid.NewString()[:8],
		Name: "OpenConf",
	}
	require.NoError(t, gdb.Create(&conference).Error)
	return conference
}

func seedPendingOrder(t *testing.T, gdb *gorm.DB, conferenceID, userID uuid.UUID, total string) models.Order {
	t.Helper()
	holding := time.Now().UTC().Add(10 * time.Minute)
	order := models.Order{
		ID:            uuid.New(),
		ConferenceID:  conferenceID,
		UserID:        userID,
		Reference:     "ORD-" + uuid.NewString()[:8],
		Status:        enums.OrderStatusPending,
		Subtotal:      decimal.RequireFromString(total),
		Total:         decimal.RequireFromString(total),
		HoldExpiresAt: &holding,
		BillingName:   "Ada Lovelace",
		BillingEmail:  "ada@example.com",
	}
	require.NoError(t, gdb.Create(&order).Error)
	return order
}

func TestInitiatePaymentCreatesIntentAndPayment(t *testing.T) {
	gdb := setupPaymentsTestDB(t)
	gateway := &fakeGateway{}
	service := newPaymentsService(t, gdb, gateway)

	conference := seedConference(t, gdb)
	userID := uuid.New()
	order := seedPendingOrder(t, gdb, conference.ID, userID, "150.00")

	result, err := service.InitiatePayment(context.Background(), userID, order.ID)
	require.NoError(t, err)
	require.Equal(t, "pi_test_1", result.IntentID)
	require.NotEmpty(t, result.ClientSecret)
	require.True(t, result.Amount.Equal(decimal.RequireFromString("150.00")))
	require.Equal(t, 1, gateway.customers)
	require.Equal(t, 1, gateway.intents)
	require.Equal(t, order.ID.String(), gateway.lastIntentInput.Metadata["order_id"])

	var payment models.Payment
	require.NoError(t, gdb.Where("order_id = ?", order.ID).First(&payment).Error)
	require.Equal(t, enums.PaymentMethodStripe, payment.Method)
	require.Equal(t, enums.PaymentStatusPending, payment.Status)
	require.NotNil(t, payment.ProviderIntentID)

	var customer models.StripeCustomer
	require.NoError(t, gdb.Where("user_id = ? AND conference_id = ?", userID, conference.ID).First(&customer).Error)
	require.NotEmpty(t, customer.CustomerID)
}

func TestInitiatePaymentResumesPendingIntent(t *testing.T) {
	gdb := setupPaymentsTestDB(t)
	gateway := &fakeGateway{}
	service := newPaymentsService(t, gdb, gateway)

	conference := seedConference(t, gdb)
	userID := uuid.New()
	order := seedPendingOrder(t, gdb, conference.ID, userID, "150.00")

	first, err := service.InitiatePayment(context.Background(), userID, order.ID)
	require.NoError(t, err)

	second, err := service.InitiatePayment(context.Background(), userID, order.ID)
	require.NoError(t, err)
	require.Equal(t, first.IntentID, second.IntentID)
	require.Equal(t, 1, gateway.intents, "second call must not mint a new intent")

	var count int64
	require.NoError(t, gdb.Model(&models.Payment{}).Where("order_id = ?", order.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestInitiatePaymentRejectsExpiredHold(t *testing.T) {
	gdb := setupPaymentsTestDB(t)
	service := newPaymentsService(t, gdb, &fakeGateway{})

	conference := seedConference(t, gdb)
	userID := uuid.New()
	order := seedPendingOrder(t, gdb, conference.ID, userID, "150.00")
	lapsed := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, gdb.Model(&models.Order{}).
		Where("id = ?", order.ID).
		Update("hold_expires_at", lapsed).Error)

	_, err := service.InitiatePayment(context.Background(), userID, order.ID)
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestInitiatePaymentRejectsForeignOrder(t *testing.T) {
	gdb := setupPaymentsTestDB(t)
	service := newPaymentsService(t, gdb, &fakeGateway{})

	conference := seedConference(t, gdb)
	order := seedPendingOrder(t, gdb, conference.ID, uuid.New(), "50.00")

	_, err := service.InitiatePayment(context.Background(), uuid.New(), order.ID)
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
}

func TestRecordCompSettlesZeroTotalOrder(t *testing.T) {
	gdb := setupPaymentsTestDB(t)
	service := newPaymentsService(t, gdb, &fakeGateway{})

	conference := seedConference(t, gdb)
	userID := uuid.New()
	order := seedPendingOrder(t, gdb, conference.ID, userID, "0.00")
	operator := uuid.New()

	require.NoError(t, service.RecordComp(context.Background(), order.ID, operator))

	var reloaded models.Order
	require.NoError(t, gdb.First(&reloaded, "id = ?", order.ID).Error)
	require.Equal(t, enums.OrderStatusPaid, reloaded.Status)
	require.NotNil(t, reloaded.PaidAt)

	var paidEvents int64
	require.NoError(t, gdb.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventOrderPaid, order.ID).
		Count(&paidEvents).Error)
	require.EqualValues(t, 1, paidEvents)
}

func TestRecordCompRejectsNonZeroTotal(t *testing.T) {
	gdb := setupPaymentsTestDB(t)
	service := newPaymentsService(t, gdb, &fakeGateway{})

	conference := seedConference(t, gdb)
	order := seedPendingOrder(t, gdb, conference.ID, uuid.New(), "10.00")

	err := service.RecordComp(context.Background(), order.ID, uuid.New())
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestRecordManualSettlesWhenCovered(t *testing.T) {
	gdb := setupPaymentsTestDB(t)
	service := newPaymentsService(t, gdb, &fakeGateway{})

	conference := seedConference(t, gdb)
	order := seedPendingOrder(t, gdb, conference.ID, uuid.New(), "100.00")
	operator := uuid.New()

	require.NoError(t, service.RecordManual(context.Background(), RecordManualInput{
		OrderID:    order.ID,
		Amount:     decimal.RequireFromString("40.00"),
		Reference:  "WIRE-001",
		RecordedBy: operator,
	}))

	var afterPartial models.Order
	require.NoError(t, gdb.First(&afterPartial, "id = ?", order.ID).Error)
	require.Equal(t, enums.OrderStatusPending, afterPartial.Status)

	require.NoError(t, service.RecordManual(context.Background(), RecordManualInput{
		OrderID:    order.ID,
		Amount:     decimal.RequireFromString("60.00"),
		Reference:  "WIRE-002",
		Note:       "balance settled on site",
		RecordedBy: operator,
	}))

	var settled models.Order
	require.NoError(t, gdb.First(&settled, "id = ?", order.ID).Error)
	require.Equal(t, enums.OrderStatusPaid, settled.Status)
}

func TestRecordManualRejectsNonPositiveAmount(t *testing.T) {
	gdb := setupPaymentsTestDB(t)
	service := newPaymentsService(t, gdb, &fakeGateway{})

	err := service.RecordManual(context.Background(), RecordManualInput{
		OrderID: uuid.New(),
		Amount:  decimal.Zero,
	})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}
