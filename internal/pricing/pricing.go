// Package pricing holds the pure money arithmetic shared by previews, sales
// and purchases. Amounts are rounded to 2 places, half away from zero, which
// is half-up for every non-negative value this package accepts.
package pricing

import (
	"github.com/shopspring/decimal"

	"khata/backend/internal/store"
)

const Places = 2

var hundred = decimal.NewFromInt(100)

// Round is idempotent: Round(Round(x)) == Round(x).
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Places)
}

// DeriveSellingPrice returns cost + cost*margin/100 rounded to 2 places.
func DeriveSellingPrice(costPrice decimal.Decimal, marginPercent decimal.Decimal) (decimal.Decimal, error) {
	if costPrice.IsNegative() {
		return decimal.Zero, store.Invalid("cost_price", "must not be negative")
	}
	if marginPercent.IsNegative() {
		return decimal.Zero, store.Invalid("margin_percent", "must not be negative")
	}
	return Round(costPrice.Add(costPrice.Mul(marginPercent).Div(hundred))), nil
}

type Line struct {
	Price           decimal.Decimal
	Quantity        int
	DiscountPercent decimal.Decimal
	LineTotal       decimal.Decimal
	Discount        decimal.Decimal
	FinalPrice      decimal.Decimal
}

// PriceLine computes the pre-discount total, the discount and the
// post-discount price of one line. Nothing is rounded here; rounding happens
// once per bill.
func PriceLine(price decimal.Decimal, quantity int, discountPercent decimal.Decimal) (Line, error) {
	if quantity < 1 {
		return Line{}, store.Invalid("quantity", "must be greater than zero")
	}
	if price.IsNegative() {
		return Line{}, store.Invalid("price", "must not be negative")
	}
	if discountPercent.IsNegative() || discountPercent.GreaterThan(hundred) {
		return Line{}, store.Invalid("discount_percent", "must be between 0 and 100")
	}

	lineTotal := price.Mul(decimal.NewFromInt(int64(quantity)))
	discount := lineTotal.Mul(discountPercent).Div(hundred)
	return Line{
		Price:           price,
		Quantity:        quantity,
		DiscountPercent: discountPercent,
		LineTotal:       lineTotal,
		Discount:        discount,
		FinalPrice:      lineTotal.Sub(discount),
	}, nil
}

type Bill struct {
	TotalAmount        decimal.Decimal
	TotalDiscount      decimal.Decimal
	FinalAmount        decimal.Decimal
	RoundedFinalAmount decimal.Decimal
}

// Summarize aggregates priced lines and applies the single bill rounding.
func Summarize(lines []Line) Bill {
	total := decimal.Zero
	discount := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.LineTotal)
		discount = discount.Add(line.Discount)
	}
	final := total.Sub(discount)
	return Bill{
		TotalAmount:        total,
		TotalDiscount:      discount,
		FinalAmount:        final,
		RoundedFinalAmount: Round(final),
	}
}
