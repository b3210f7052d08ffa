package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
	"github.com/openconf/confreg-backend/pkg/pagination"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	for _, ddl := range []string{
		`CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  conference_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  cart_id TEXT,
  reference TEXT NOT NULL,
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
		`CREATE UNIQUE INDEX ux_orders_reference ON orders (reference);`,
		`CREATE TABLE order_line_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  ticket_type_id TEXT,
  addon_id TEXT,
  description TEXT NOT NULL,
  unit_price NUMERIC NOT NULL,
  quantity INTEGER NOT NULL,
  line_total NUMERIC NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`,
	} {
		require.NoError(t, gdb.Exec(ddl).Error)
	}
	return gdb
}

func seedOrder(t *testing.T, gdb *gorm.DB, userID, conferenceID uuid.UUID, createdAt time.Time, ref string) models.Order {
	t.Helper()
	order := models.Order{
		ID:           uuid.New(),
		ConferenceID: conferenceID,
		UserID:       userID,
		Reference:    ref,
		Status:       enums.OrderStatusPending,
		Currency:     "USD",
		Subtotal:     decimal.RequireFromString("100.00"),
		Discount:     decimal.Zero,
		Total:        decimal.RequireFromString("100.00"),
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	require.NoError(t, gdb.Create(&order).Error)
	return order
}

func TestListByUserPaginates(t *testing.T) {
	gdb := setupOrdersTestDB(t)
	repo := NewRepository(gdb)

	userID := uuid.New()
	conferenceID := uuid.New()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedOrder(t, gdb, userID, conferenceID, base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("ORD-%04d", i))
	}
	// Another user's order must never appear.
	seedOrder(t, gdb, uuid.New(), conferenceID, base.Add(time.Hour), "ORD-OTHER")

	page1, cursor, err := repo.ListByUser(context.Background(), userID, conferenceID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, cursor)
	require.Equal(t, "ORD-0004", page1[0].Reference)
	require.Equal(t, "ORD-0003", page1[1].Reference)

	page2, cursor, err := repo.ListByUser(context.Background(), userID, conferenceID, pagination.Params{Limit: 2, Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.NotEmpty(t, cursor)
	require.Equal(t, "ORD-0002", page2[0].Reference)

	page3, cursor, err := repo.ListByUser(context.Background(), userID, conferenceID, pagination.Params{Limit: 2, Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, page3, 1)
	require.Empty(t, cursor)
	require.Equal(t, "ORD-0000", page3[0].Reference)
}

func TestListByUserRejectsGarbageCursor(t *testing.T) {
	gdb := setupOrdersTestDB(t)
	repo := NewRepository(gdb)

	_, _, err := repo.ListByUser(context.Background(), uuid.New(), uuid.New(), pagination.Params{Cursor: "not-base64!!"})
	require.Error(t, err)
}

func TestGetByIDNotFound(t *testing.T) {
	gdb := setupOrdersTestDB(t)
	repo := NewRepository(gdb)

	_, err := repo.GetByID(context.Background(), uuid.New())
	require.Error(t, err)
}
