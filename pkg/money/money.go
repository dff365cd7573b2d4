// Package money converts between human decimal amounts and the integer
// minor-unit representation used everywhere inside the service. Conversion
// is exact: parsing rejects amounts with sub-cent precision instead of
// rounding them.
package money

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// minorFactor is 10^2: two decimal places, cents.
var minorFactor = decimal.NewFromInt(100)

// ErrPrecision is returned when an amount carries more precision than minor
// units can represent (e.g. "9.999").
var ErrPrecision = errors.New("amount has sub-minor-unit precision")

// ParseMinor parses a decimal amount string ("19.99") into minor units.
func ParseMinor(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrap(err, "parse amount")
	}
	return ToMinor(d)
}

// ToMinor converts a decimal amount into minor units exactly.
func ToMinor(d decimal.Decimal) (int64, error) {
	scaled := d.Mul(minorFactor)
	if !scaled.IsInteger() {
		return 0, ErrPrecision
	}
	return scaled.IntPart(), nil
}

// FromMinor converts minor units to a decimal amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(minorFactor)
}

// FormatMinor renders minor units as a fixed two-decimal string ("19.99").
func FormatMinor(minor int64) string {
	return FromMinor(minor).StringFixed(2)
}
