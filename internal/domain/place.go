package domain

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Place is the read-only view of a listing that the booking core needs.
// The catalog owns it.
type Place struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Price     decimal.Decimal
	Currency  Currency
	MaxGuests int
}

func (p Place) Validate() error {
	if p.Price.IsNegative() {
		return Validationf("place %s has a negative price", p.ID)
	}
	if p.MaxGuests < 1 {
		return Validationf("place %s must allow at least one guest", p.ID)
	}
	if !p.Currency.Supported() {
		return Validationf("place %s has unsupported currency %q", p.ID, p.Currency)
	}
	return nil
}

type Currency string

// minor-unit exponents of the currencies the processor settles in
var currencyExponents = map[Currency]int32{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"CAD": 2,
	"AUD": 2,
	"CHF": 2,
	"MXN": 2,
	"BRL": 2,
	"INR": 2,
	"JPY": 0,
	"KRW": 0,
}

func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Supported() {
		return "", Validationf("unsupported currency %q", s)
	}
	return c, nil
}

func (c Currency) Supported() bool {
	_, ok := currencyExponents[c]
	return ok
}

// Exponent returns the number of minor-unit digits; unknown currencies use 2.
func (c Currency) Exponent() int32 {
	if e, ok := currencyExponents[c]; ok {
		return e
	}
	return 2
}

// Lower is the lowercase form payment processors expect.
func (c Currency) Lower() string {
	return strings.ToLower(string(c))
}
