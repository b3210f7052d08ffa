package pricing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openconf/confreg-backend/pkg/db/models"
	"github.com/openconf/confreg-backend/pkg/enums"
)

// Line is one cart line in insertion order. Insertion order matters: the
// fixed-amount strategy assigns the rounding remainder to the last applicable
// line, so callers must pass lines sorted by created_at.
type Line struct {
	ItemID       uuid.UUID
	Kind         enums.LineItemKind
	TicketTypeID *uuid.UUID
	AddOnID      *uuid.UUID
	Description  string
	UnitPrice    decimal.Decimal
	Quantity     int
}

// PricedLine carries the computed amounts for one line.
type PricedLine struct {
	Line
	Subtotal  decimal.Decimal
	Discount  decimal.Decimal
	LineTotal decimal.Decimal
}

// Summary is the full pricing result for a cart.
type Summary struct {
	Lines    []PricedLine
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

var oneHundred = decimal.NewFromInt(100)

// Summarize computes line totals and voucher discounts. Pure: it never reads
// or writes persistent state, so it is safe to call inside or outside a
// transaction.
func Summarize(lines []Line, voucher *models.Voucher) Summary {
	priced := make([]PricedLine, len(lines))
	subtotal := decimal.Zero
	for i, line := range lines {
		lineSubtotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		priced[i] = PricedLine{
			Line:      line,
			Subtotal:  lineSubtotal,
			Discount:  decimal.Zero,
			LineTotal: lineSubtotal,
		}
		subtotal = subtotal.Add(lineSubtotal)
	}

	if voucher != nil {
		applyVoucher(priced, voucher)
	}

	discount := decimal.Zero
	for i := range priced {
		priced[i].LineTotal = maxZero(priced[i].Subtotal.Sub(priced[i].Discount))
		discount = discount.Add(priced[i].Discount)
	}

	return Summary{
		Lines:    priced,
		Subtotal: subtotal,
		Discount: discount,
		Total:    maxZero(subtotal.Sub(discount)),
	}
}

func applyVoucher(priced []PricedLine, voucher *models.Voucher) {
	applicable := make([]int, 0, len(priced))
	applicableSubtotal := decimal.Zero
	for i := range priced {
		if !lineApplicable(priced[i].Line, voucher) {
			continue
		}
		applicable = append(applicable, i)
		applicableSubtotal = applicableSubtotal.Add(priced[i].Subtotal)
	}
	if len(applicable) == 0 {
		return
	}

	switch voucher.Kind {
	case enums.VoucherKindComp:
		for _, i := range applicable {
			priced[i].Discount = priced[i].Subtotal
		}

	case enums.VoucherKindPercentage:
		pct := voucher.DiscountValue.Div(oneHundred)
		for _, i := range applicable {
			// round half-up per line, independently
			priced[i].Discount = priced[i].Subtotal.Mul(pct).Round(2)
		}

	case enums.VoucherKindFixedAmount:
		if applicableSubtotal.IsZero() {
			return
		}
		// the budget never exceeds what the applicable lines are worth
		amount := voucher.DiscountValue
		if amount.GreaterThan(applicableSubtotal) {
			amount = applicableSubtotal
		}
		distributed := decimal.Zero
		// every line but the last gets its floored proportional share; the
		// last absorbs the exact remainder so the total never drifts
		for n, i := range applicable {
			if n == len(applicable)-1 {
				priced[i].Discount = amount.Sub(distributed)
				break
			}
			share := amount.Mul(priced[i].Subtotal).Div(applicableSubtotal).RoundDown(2)
			priced[i].Discount = share
			distributed = distributed.Add(share)
		}
	}
}

// lineApplicable reports whether the voucher's scope covers the line. An
// empty scope set applies to every line of that kind.
func lineApplicable(line Line, voucher *models.Voucher) bool {
	switch line.Kind {
	case enums.LineItemKindTicket:
		if line.TicketTypeID == nil {
			return false
		}
		if len(voucher.TicketTypes) == 0 {
			return true
		}
		for _, tt := range voucher.TicketTypes {
			if tt.ID == *line.TicketTypeID {
				return true
			}
		}
		return false
	case enums.LineItemKindAddOn:
		if line.AddOnID == nil {
			return false
		}
		if len(voucher.AddOns) == 0 {
			return true
		}
		for _, a := range voucher.AddOns {
			if a.ID == *line.AddOnID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// LinesFromCartItems converts preloaded cart items into pricing lines,
// preserving insertion order.
func LinesFromCartItems(items []models.CartItem) []Line {
	lines := make([]Line, 0, len(items))
	for _, item := range items {
		line := Line{
			ItemID:   item.ID,
			Quantity: item.Quantity,
		}
		switch {
		case item.TicketTypeID != nil && item.TicketType != nil:
			line.Kind = enums.LineItemKindTicket
			line.TicketTypeID = item.TicketTypeID
			line.Description = item.TicketType.Name
			line.UnitPrice = item.TicketType.Price
		case item.AddOnID != nil && item.AddOn != nil:
			line.Kind = enums.LineItemKindAddOn
			line.AddOnID = item.AddOnID
			line.Description = item.AddOn.Name
			line.UnitPrice = item.AddOn.Price
		default:
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func maxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
