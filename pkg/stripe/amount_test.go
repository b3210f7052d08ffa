package stripe

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestToMinorUnits(t *testing.T) {
	got, err := ToMinorUnits(decimal.RequireFromString("125.50"), "USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 12550 {
		t.Fatalf("expected 12550, got %d", got)
	}
}

func TestToMinorUnits_ZeroDecimalCurrency(t *testing.T) {
	got, err := ToMinorUnits(decimal.NewFromInt(5000), "JPY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 5000 {
		t.Fatalf("expected 5000, got %d", got)
	}
}

func TestToMinorUnits_RejectsSubUnitPrecision(t *testing.T) {
	if _, err := ToMinorUnits(decimal.RequireFromString("10.005"), "USD"); err == nil {
		t.Fatal("expected error for sub-cent amount")
	}
	if _, err := ToMinorUnits(decimal.RequireFromString("10.50"), "JPY"); err == nil {
		t.Fatal("expected error for fractional zero-decimal amount")
	}
}

func TestFromMinorUnits(t *testing.T) {
	if got := FromMinorUnits(12550, "usd"); !got.Equal(decimal.RequireFromString("125.50")) {
		t.Fatalf("expected 125.50, got %s", got)
	}
	if got := FromMinorUnits(5000, "jpy"); !got.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected 5000, got %s", got)
	}
}

func TestIntentIDFromClientSecret(t *testing.T) {
	id, err := IntentIDFromClientSecret("pi_3ABC123_secret_xyz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "pi_3ABC123" {
		t.Fatalf("expected pi_3ABC123, got %q", id)
	}

	if _, err := IntentIDFromClientSecret("not-a-secret"); err == nil {
		t.Fatal("expected error for malformed secret")
	}
}
