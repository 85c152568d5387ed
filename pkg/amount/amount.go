package amount

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TokenDecimals is the precision of the staked token mint.
const TokenDecimals = 6

// Tolerance absorbs rounding at the token's decimal precision when comparing
// an on-chain transfer amount against the amount a client claimed.
var Tolerance = decimal.New(1, -TokenDecimals)

// Parse parses a client-supplied amount string into a decimal. The amount
// must be a finite positive number with at most TokenDecimals fractional
// digits.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive, got %s", d)
	}
	if d.Exponent() < -TokenDecimals {
		return decimal.Zero, fmt.Errorf("amount %s exceeds %d decimal places", d, TokenDecimals)
	}
	return d, nil
}

// ParseCapped parses an amount and rejects values above max.
func ParseCapped(s string, max decimal.Decimal) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.GreaterThan(max) {
		return decimal.Zero, fmt.Errorf("amount %s exceeds maximum %s", d, max)
	}
	return d, nil
}

// WithinTolerance reports whether two amounts agree within Tolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}
