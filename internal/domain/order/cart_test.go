package order

import (
	"math"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeCart(t *testing.T) {
	tests := []struct {
		name      string
		line      CartLine
		wantPrice string
		wantQty   int
		wantName  string
	}{
		{"plain", CartLine{Name: "Tee", Price: "10.00", Qty: 2}, "10", 2, "Tee"},
		{"negative price", CartLine{Name: "Tee", Price: "-3", Qty: 1}, "0", 1, "Tee"},
		{"garbage price", CartLine{Name: "Tee", Price: "abc", Qty: 1}, "0", 1, "Tee"},
		{"empty price", CartLine{Name: "Tee", Qty: 1}, "0", 1, "Tee"},
		{"zero qty", CartLine{Name: "Tee", Price: "1", Qty: 0}, "1", 1, "Tee"},
		{"negative qty", CartLine{Name: "Tee", Price: "1", Qty: -4}, "1", 1, "Tee"},
		{"fractional qty", CartLine{Name: "Tee", Price: "1", Qty: 2.9}, "1", 2, "Tee"},
		{"nan qty", CartLine{Name: "Tee", Price: "1", Qty: math.NaN()}, "1", 1, "Tee"},
		{"missing name", CartLine{Price: "1", Qty: 1}, "1", 1, DefaultItemName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := SanitizeCart([]CartLine{tt.line})
			require.Len(t, items, 1)
			assert.True(t, decimal.RequireFromString(tt.wantPrice).Equal(items[0].Price),
				"price: got %s, want %s", items[0].Price, tt.wantPrice)
			assert.Equal(t, tt.wantQty, items[0].Qty)
			assert.Equal(t, tt.wantName, items[0].Name)
		})
	}
}

func TestCheckLimits(t *testing.T) {
	tests := []struct {
		name  string
		lines []CartLine
		field string
	}{
		{"huge exponent", []CartLine{{Price: "1e30000000", Qty: 1}, {Price: "1", Qty: 1}}, "cart[0].price"},
		{"tiny exponent", []CartLine{{Price: "1", Qty: 1}, {Price: "1e-30000000", Qty: 1}}, "cart[1].price"},
		{"above max price", []CartLine{{Price: "100000000.01", Qty: 1}}, "cart[0].price"},
		{"wraps int64 cents", []CartLine{{Price: "1e17", Qty: 1}, {Price: "92233720368547758.08", Qty: 1}}, "cart[0].price"},
		{"total too large", []CartLine{{Price: "100000000", Qty: 101}}, "cart"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckLimits(SanitizeCart(tt.lines))

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestCheckLimits_Accepts(t *testing.T) {
	tests := []struct {
		name  string
		lines []CartLine
	}{
		{"plain", []CartLine{{Price: "10.00", Qty: 2}, {Price: "5.50", Qty: 1}}},
		{"max price", []CartLine{{Price: "1e8", Qty: 100}}},
		{"zero with huge exponent", []CartLine{{Price: "0e30000000", Qty: 1}}},
		{"fractional cents", []CartLine{{Price: "0.333", Qty: 3}}},
		{"unparsable", []CartLine{{Price: "abc", Qty: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, CheckLimits(SanitizeCart(tt.lines)))
		})
	}
}

func TestTotal(t *testing.T) {
	items := SanitizeCart([]CartLine{
		{ProductID: "a", Name: "A", Price: "10.00", Qty: 2},
		{ProductID: "b", Name: "B", Price: "5.50", Qty: 1},
	})

	assert.True(t, decimal.RequireFromString("25.50").Equal(Total(items)))
}

func TestTotal_ClampsBeforeSumming(t *testing.T) {
	items := SanitizeCart([]CartLine{
		{Price: "-10", Qty: 5},
		{Price: "2.25", Qty: 0},
		{Price: "0.333", Qty: 3},
	})

	// -10 -> 0, qty 0 -> 1, no rounding of the fractional cents.
	assert.Equal(t, "3.249", Total(items).String())
}

func TestTotal_Empty(t *testing.T) {
	assert.True(t, Total(nil).IsZero())
}

func TestStatus(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusPaid.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusPending.Valid())
	assert.False(t, Status("refunded").Valid())
}

func TestParseProvider(t *testing.T) {
	p, ok := ParseProvider("")
	require.True(t, ok)
	assert.Equal(t, ProviderStripe, p)

	p, ok = ParseProvider("paypal")
	require.True(t, ok)
	assert.Equal(t, ProviderPayPal, p)

	_, ok = ParseProvider("bitcoin")
	assert.False(t, ok)
}

func TestNotFoundError_IsErrNotFound(t *testing.T) {
	err := errors.Wrap(&NotFoundError{Provider: ProviderStripe, Key: "cs_1"}, "reconcile")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedgerError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &LedgerError{Op: "create", OrderID: "o1", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "o1")
}
