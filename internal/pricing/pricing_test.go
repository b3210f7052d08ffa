package pricing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
)

func ticketLine(ticketTypeID uuid.UUID, price string, qty int) Line {
	return Line{
		ItemID:       uuid.New(),
		Kind:         enums.LineItemKindTicket,
		TicketTypeID: &ticketTypeID,
		Description:  "ticket",
		UnitPrice:    decimal.RequireFromString(price),
		Quantity:     qty,
	}
}

func addonLine(addOnID uuid.UUID, price string, qty int) Line {
	return Line{
		ItemID:      uuid.New(),
		Kind:        enums.LineItemKindAddOn,
		AddOnID:     &addOnID,
		Description: "addon",
		UnitPrice:   decimal.RequireFromString(price),
		Quantity:    qty,
	}
}

func TestSummarizeNoVoucher(t *testing.T) {
	lines := []Line{
		ticketLine(uuid.New(), "100.00", 2),
		addonLine(uuid.New(), "25.50", 1),
	}

	summary := Summarize(lines, nil)

	if !summary.Subtotal.Equal(decimal.RequireFromString("225.50")) {
		t.Fatalf("subtotal = %s", summary.Subtotal)
	}
	if !summary.Discount.IsZero() {
		t.Fatalf("discount = %s", summary.Discount)
	}
	if !summary.Total.Equal(summary.Subtotal) {
		t.Fatalf("total = %s", summary.Total)
	}
}

func TestSummarizeCompVoucherZeroesApplicableLines(t *testing.T) {
	lines := []Line{
		ticketLine(uuid.New(), "100.00", 1),
		addonLine(uuid.New(), "40.00", 1),
	}
	voucher := &models.Voucher{Kind: enums.VoucherKindComp}

	summary := Summarize(lines, voucher)

	if !summary.Total.IsZero() {
		t.Fatalf("total = %s, want 0", summary.Total)
	}
	for _, line := range summary.Lines {
		if !line.LineTotal.IsZero() {
			t.Fatalf("line total = %s, want 0", line.LineTotal)
		}
	}
}

func TestSummarizePercentageRoundsHalfUpPerLine(t *testing.T) {
	// 10% of 33.33 = 3.333 → 3.33; 10% of 0.05 = 0.005 → 0.01
	lines := []Line{
		ticketLine(uuid.New(), "33.33", 1),
		ticketLine(uuid.New(), "0.05", 1),
	}
	voucher := &models.Voucher{
		Kind:          enums.VoucherKindPercentage,
		DiscountValue: decimal.RequireFromString("10"),
	}

	summary := Summarize(lines, voucher)

	if !summary.Lines[0].Discount.Equal(decimal.RequireFromString("3.33")) {
		t.Fatalf("line 0 discount = %s", summary.Lines[0].Discount)
	}
	if !summary.Lines[1].Discount.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("line 1 discount = %s", summary.Lines[1].Discount)
	}
	if !summary.Discount.Equal(decimal.RequireFromString("3.34")) {
		t.Fatalf("discount = %s", summary.Discount)
	}
}

func TestSummarizeFixedAmountLastLineAbsorbsRemainder(t *testing.T) {
	// 10.00 across 33.33 + 66.67: first line floor(10*33.33/100) = 3.33,
	// last line gets 10.00 - 3.33 = 6.67, never 6.66 or 6.68
	lines := []Line{
		ticketLine(uuid.New(), "33.33", 1),
		ticketLine(uuid.New(), "66.67", 1),
	}
	voucher := &models.Voucher{
		Kind:          enums.VoucherKindFixedAmount,
		DiscountValue: decimal.RequireFromString("10.00"),
	}

	summary := Summarize(lines, voucher)

	if !summary.Lines[0].Discount.Equal(decimal.RequireFromString("3.33")) {
		t.Fatalf("line 0 discount = %s", summary.Lines[0].Discount)
	}
	if !summary.Lines[1].Discount.Equal(decimal.RequireFromString("6.67")) {
		t.Fatalf("line 1 discount = %s", summary.Lines[1].Discount)
	}
	if !summary.Discount.Equal(voucher.DiscountValue) {
		t.Fatalf("discount = %s, want exactly %s", summary.Discount, voucher.DiscountValue)
	}
}

func TestSummarizeFixedAmountThreeWaySplitExact(t *testing.T) {
	lines := []Line{
		ticketLine(uuid.New(), "10.00", 1),
		ticketLine(uuid.New(), "10.00", 1),
		ticketLine(uuid.New(), "10.00", 1),
	}
	voucher := &models.Voucher{
		Kind:          enums.VoucherKindFixedAmount,
		DiscountValue: decimal.RequireFromString("10.00"),
	}

	summary := Summarize(lines, voucher)

	// floor shares: 3.33 + 3.33, remainder 3.34 on the last line
	if !summary.Lines[0].Discount.Equal(decimal.RequireFromString("3.33")) {
		t.Fatalf("line 0 discount = %s", summary.Lines[0].Discount)
	}
	if !summary.Lines[1].Discount.Equal(decimal.RequireFromString("3.33")) {
		t.Fatalf("line 1 discount = %s", summary.Lines[1].Discount)
	}
	if !summary.Lines[2].Discount.Equal(decimal.RequireFromString("3.34")) {
		t.Fatalf("line 2 discount = %s", summary.Lines[2].Discount)
	}
	if !summary.Discount.Equal(voucher.DiscountValue) {
		t.Fatalf("discount = %s", summary.Discount)
	}
}

func TestSummarizeFixedAmountCappedAtApplicableSubtotal(t *testing.T) {
	// a 200.00 voucher over 100.00 + 25.00 must not discount more than the
	// lines are worth
	lines := []Line{
		ticketLine(uuid.New(), "100.00", 1),
		addonLine(uuid.New(), "25.00", 1),
	}
	voucher := &models.Voucher{
		Kind:          enums.VoucherKindFixedAmount,
		DiscountValue: decimal.RequireFromString("200.00"),
	}

	summary := Summarize(lines, voucher)

	if !summary.Discount.Equal(decimal.RequireFromString("125.00")) {
		t.Fatalf("discount = %s, want 125.00", summary.Discount)
	}
	if !summary.Total.IsZero() {
		t.Fatalf("total = %s, want 0", summary.Total)
	}
	for i, line := range summary.Lines {
		if line.Discount.GreaterThan(line.Subtotal) {
			t.Fatalf("line %d discount %s exceeds its subtotal %s", i, line.Discount, line.Subtotal)
		}
	}
}

func TestSummarizeFixedAmountCapRespectsScope(t *testing.T) {
	// only the in-scope 30.00 line is applicable, so a 50.00 voucher is
	// capped at 30.00 and the out-of-scope line stays untouched
	inScope := uuid.New()
	lines := []Line{
		ticketLine(inScope, "30.00", 1),
		ticketLine(uuid.New(), "100.00", 1),
	}
	voucher := &models.Voucher{
		Kind:          enums.VoucherKindFixedAmount,
		DiscountValue: decimal.RequireFromString("50.00"),
		TicketTypes:   []models.TicketType{{ID: inScope}},
	}

	summary := Summarize(lines, voucher)

	if !summary.Lines[0].Discount.Equal(decimal.RequireFromString("30.00")) {
		t.Fatalf("in-scope discount = %s, want 30.00", summary.Lines[0].Discount)
	}
	if !summary.Lines[1].Discount.IsZero() {
		t.Fatalf("out-of-scope discount = %s, want 0", summary.Lines[1].Discount)
	}
	if !summary.Total.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("total = %s, want 100.00", summary.Total)
	}
}

func TestSummarizeVoucherScopeRestrictsLines(t *testing.T) {
	inScope := uuid.New()
	outOfScope := uuid.New()
	lines := []Line{
		ticketLine(inScope, "100.00", 1),
		ticketLine(outOfScope, "100.00", 1),
	}
	voucher := &models.Voucher{
		Kind:          enums.VoucherKindPercentage,
		DiscountValue: decimal.RequireFromString("50"),
		TicketTypes:   []models.TicketType{{ID: inScope}},
	}

	summary := Summarize(lines, voucher)

	if !summary.Lines[0].Discount.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("in-scope discount = %s", summary.Lines[0].Discount)
	}
	if !summary.Lines[1].Discount.IsZero() {
		t.Fatalf("out-of-scope discount = %s", summary.Lines[1].Discount)
	}
	if !summary.Total.Equal(decimal.RequireFromString("150.00")) {
		t.Fatalf("total = %s", summary.Total)
	}
}

func TestSummarizeLineTotalNeverNegative(t *testing.T) {
	lines := []Line{
		ticketLine(uuid.New(), "5.00", 1),
	}
	voucher := &models.Voucher{
		Kind:          enums.VoucherKindFixedAmount,
		DiscountValue: decimal.RequireFromString("20.00"),
	}

	summary := Summarize(lines, voucher)

	if !summary.Lines[0].LineTotal.IsZero() {
		t.Fatalf("line total = %s, want 0", summary.Lines[0].LineTotal)
	}
	if !summary.Total.IsZero() {
		t.Fatalf("total = %s, want 0", summary.Total)
	}
}

func TestLinesFromCartItemsSkipsDanglingRows(t *testing.T) {
	ticketTypeID := uuid.New()
	items := []models.CartItem{
		{
			ID:           uuid.New(),
			TicketTypeID: &ticketTypeID,
			TicketType: &models.TicketType{
				ID:    ticketTypeID,
				Name:  "General Admission",
				Price: decimal.RequireFromString("199.00"),
			},
			Quantity: 2,
		},
		{
			ID:       uuid.New(),
			Quantity: 1, // neither reference populated
		},
	}

	lines := LinesFromCartItems(items)

	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0].Kind != enums.LineItemKindTicket || lines[0].Description != "General Admission" {
		t.Fatalf("unexpected line %+v", lines[0])
	}
}
