package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	serviceFeeRate = decimal.RequireFromString("0.12")
	taxRate        = decimal.RequireFromString("0.15")
)

// PricingEngine computes stay prices from a flat nightly rate. It holds no
// state and is safe for concurrent use.
type PricingEngine struct{}

// Calculate prices a stay. guestCount does not change a flat nightly rate.
func (PricingEngine) Calculate(basePrice decimal.Decimal, stay StayRange, guestCount int, currency Currency) Pricing {
	nights := Nights(stay)
	subtotal := basePrice.Mul(decimal.NewFromInt(int64(nights)))
	cleaning := decimal.Zero
	service := subtotal.Mul(serviceFeeRate).Round(2)
	tax := subtotal.Mul(taxRate).Round(2)
	total := subtotal.Add(cleaning).Add(service).Add(tax).Round(2)

	return Pricing{
		BasePrice: basePrice,
		Nights:    nights,
		Subtotal:  subtotal,
		Fees: Fees{
			Cleaning: cleaning,
			Service:  service,
			Tax:      tax,
			Other:    []Fee{},
		},
		Total:    total,
		Currency: currency,
	}
}

// Nights rounds partial days up and never returns less than one.
func Nights(stay StayRange) int {
	n := int(math.Ceil(stay.CheckOut.Sub(stay.CheckIn).Hours() / 24))
	if n < 1 {
		return 1
	}
	return n
}

// MinorUnits converts an amount into the currency's smallest unit, rounding
// half up.
func MinorUnits(amount decimal.Decimal, c Currency) int64 {
	return amount.Shift(c.Exponent()).Round(0).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(minor int64, c Currency) decimal.Decimal {
	return decimal.New(minor, -c.Exponent())
}

// WithinTolerance reports whether declared is within pct percent of expected.
func WithinTolerance(declared, expected decimal.Decimal, pct int64) bool {
	limit := expected.Abs().Mul(decimal.NewFromInt(pct)).Div(decimal.NewFromInt(100))
	return declared.Sub(expected).Abs().LessThanOrEqual(limit)
}
