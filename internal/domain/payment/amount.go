package payment

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/paybridge/internal/domain/order"
)

var hundred = decimal.NewFromInt(100)

// MinorUnits converts a major-unit amount to cents, rounding half to even.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).RoundBank(0).IntPart()
}

// FromMinorUnits converts cents back to a major-unit amount.
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// AmountDue is the amount charged by providers for items: each unit price is
// rounded to minor units before being multiplied by its quantity.
func AmountDue(items []order.Item) int64 {
	var sum int64
	for _, it := range items {
		sum += MinorUnits(it.Price) * int64(it.Qty)
	}
	return sum
}

// FormatAmount renders minor units as a fixed two-decimal string.
func FormatAmount(v int64) string {
	return FromMinorUnits(v).StringFixed(2)
}
