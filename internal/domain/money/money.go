// Package money converts between decimal amounts and integer minor units.
package money

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"order-payments/internal/domain"
)

// zero-decimal currencies per ISO 4217 as accepted by card processors.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

var threeDecimal = map[string]bool{
	"BHD": true, "JOD": true, "KWD": true, "OMR": true, "TND": true,
}

// Exponent returns the number of minor-unit digits of an ISO currency code.
func Exponent(currency string) int32 {
	c := strings.ToUpper(strings.TrimSpace(currency))
	switch {
	case zeroDecimal[c]:
		return 0
	case threeDecimal[c]:
		return 3
	default:
		return 2
	}
}

// ToMinor converts a decimal amount to integer minor units, rounding half away
// from zero. Negative amounts are rejected.
func ToMinor(amount decimal.Decimal, currency string) (int64, error) {
	if amount.IsNegative() {
		return 0, domain.ErrInvalidAmount
	}
	scaled := amount.Shift(Exponent(currency)).Round(0)
	if !scaled.IsInteger() || scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, domain.ErrInvalidAmount
	}
	return scaled.IntPart(), nil
}

// FromMinor converts integer minor units to a decimal amount.
func FromMinor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}

// Parse converts a decimal string ("49.99") to minor units.
func Parse(s, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, domain.ErrInvalidAmount
	}
	return ToMinor(d, currency)
}

// String renders minor units as a plain decimal string ("49.99").
func String(minor int64, currency string) string {
	return FromMinor(minor, currency).StringFixed(Exponent(currency))
}

// Format renders minor units as "49.99 USD".
func Format(minor int64, currency string) string {
	c := strings.ToUpper(currency)
	return String(minor, c) + " " + c
}

// ValidateMinor rejects minor-unit amounts that cannot be charged or
// refunded: zero and negative values.
func ValidateMinor(minor int64) error {
	if minor <= 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}
