package money

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitsPerMajor is the number of minor units (kobo) in one major unit (naira)
const MinorUnitsPerMajor = 100

// DefaultCurrency is used when a wallet or transaction does not name one.
// Set once at startup from config, before serving.
var DefaultCurrency = "NGN"

var minorFactor = decimal.NewFromInt(MinorUnitsPerMajor)

// ToMinorUnits converts a major-unit amount to minor units.
// Fractions of a minor unit are rounded half away from zero: 100.005 → 10001.
func ToMinorUnits(major decimal.Decimal) *big.Int {
	return major.Mul(minorFactor).Round(0).BigInt()
}

// ToMajorUnits converts minor units back to a major-unit decimal.
// The result is exact: ToMajorUnits(ToMinorUnits(x)) equals x for any x with at most two fractional digits.
func ToMajorUnits(minor *big.Int) decimal.Decimal {
	if minor == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(minor, -2)
}

// ParseMajor parses a human-readable amount such as "1500.50" into minor units
func ParseMajor(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("amount is required")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	return ToMinorUnits(d), nil
}

// ParseMinor parses an integer minor-unit amount such as "150050"
func ParseMinor(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("amount is required")
	}

	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount format: %q", s)
	}
	return v, nil
}

// FormatMajor renders minor units as a fixed two-decimal major amount: 150050 → "1500.50"
func FormatMajor(minor *big.Int) string {
	return ToMajorUnits(minor).StringFixed(2)
}

// IsPositive reports whether v is a strictly positive amount
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
