package enums

import "fmt"

// LineItemKind distinguishes ticket lines from add-on lines on an order.
type LineItemKind string

const (
	LineItemKindTicket LineItemKind = "ticket"
	LineItemKindAddOn  LineItemKind = "addon"
)

var validLineItemKinds = []LineItemKind{
	LineItemKindTicket,
	LineItemKindAddOn,
}

// String implements fmt.Stringer.
func (l LineItemKind) String() string {
	return string(l)
}

// IsValid reports whether the value is a known LineItemKind.
func (l LineItemKind) IsValid() bool {
	for _, candidate := range validLineItemKinds {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLineItemKind converts raw input into a LineItemKind.
func ParseLineItemKind(value string) (LineItemKind, error) {
	for _, candidate := range validLineItemKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid line item kind %q", value)
}
