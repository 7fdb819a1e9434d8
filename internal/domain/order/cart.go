package order

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultItemName labels cart lines submitted without a name.
const DefaultItemName = "Item"

// Cart limits in major units. With at most MaxTotal per order every amount
// derived from it fits in int64 minor units.
var (
	MaxPrice = decimal.New(1, 8)
	MaxTotal = decimal.New(1, 10)
)

// maxPriceScale bounds the decimal exponent of a price in both directions.
const maxPriceScale = 12

// CartLine is a cart entry as submitted by the client. Nothing in it is
// trusted: Price is the raw textual number and Qty may be fractional or
// negative.
type CartLine struct {
	ProductID string
	Name      string
	Price     string
	Qty       float64
}

// SanitizeCart converts client cart lines into order items. Prices that do
// not parse or are negative become zero; quantities are truncated and
// clamped to at least one.
func SanitizeCart(lines []CartLine) []Item {
	items := make([]Item, len(lines))
	for i, l := range lines {
		name := strings.TrimSpace(l.Name)
		if name == "" {
			name = DefaultItemName
		}
		items[i] = Item{
			ProductID: strings.TrimSpace(l.ProductID),
			Name:      name,
			Price:     sanitizePrice(l.Price),
			Qty:       sanitizeQty(l.Qty),
		}
	}
	return items
}

func sanitizePrice(raw string) decimal.Decimal {
	p, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || p.IsNegative() || p.IsZero() {
		return decimal.Zero
	}
	return p
}

// CheckLimits rejects sanitized items whose prices or total are too large or
// too precise to charge. It must run before Total on untrusted items.
func CheckLimits(items []Item) error {
	for i, it := range items {
		field := fmt.Sprintf("cart[%d].price", i)
		if exp := it.Price.Exponent(); exp < -maxPriceScale || exp > maxPriceScale {
			return &ValidationError{Field: field, Reason: "out of range"}
		}
		if it.Price.GreaterThan(MaxPrice) {
			return &ValidationError{Field: field, Reason: "exceeds " + MaxPrice.String()}
		}
	}
	if Total(items).GreaterThan(MaxTotal) {
		return &ValidationError{Field: "cart", Reason: "total exceeds " + MaxTotal.String()}
	}
	return nil
}

func sanitizeQty(q float64) int {
	if math.IsNaN(q) || q < 1 {
		return 1
	}
	if q > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(q)
}

// Total sums price*qty over items without rounding.
func Total(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Qty))))
	}
	return total
}
