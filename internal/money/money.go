// Package money implements the six-decimal fixed-point monetary type used
// throughout synapse-core (the USDC convention: spec.md Design Notes,
// "Fixed-point money"). Ledger values and rate-limit accumulators must
// never be represented as floating point; only the bid scorer uses float64,
// and its output is an abstract score, never a monetary amount.
package money

import (
	"fmt"
	"strconv"
	"strings"
)

// Decimals is the number of fractional decimal digits every Amount carries.
const Decimals = 6

var scale int64 = 1_000_000

// Amount is a fixed-point monetary value stored as micro-units (1e-6).
type Amount int64

// Zero is the additive identity.
const Zero Amount = 0

// FromMicros builds an Amount directly from micro-units.
func FromMicros(micros int64) Amount { return Amount(micros) }

// Micros returns the underlying micro-unit integer.
func (a Amount) Micros() int64 { return int64(a) }

// ParseAmount parses a decimal string ("12.34") into an Amount, rejecting
// more than Decimals fractional digits.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("money: empty amount")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	parts := strings.SplitN(s, ".", 2)
	whole, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	var frac int64
	if len(parts) == 2 {
		fracStr := parts[1]
		if len(fracStr) > Decimals {
			return 0, fmt.Errorf("money: amount %q exceeds %d decimal places", s, Decimals)
		}
		for len(fracStr) < Decimals {
			fracStr += "0"
		}
		frac, err = strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("money: invalid fraction in %q: %w", s, err)
		}
	}
	v := whole*scale + frac
	if neg {
		v = -v
	}
	return Amount(v), nil
}

// Float64 converts to a float64. Use only for scoring/presentation math,
// never for ledger accounting.
func (a Amount) Float64() float64 {
	return float64(a) / float64(scale)
}

// Mul multiplies the amount by a fraction (e.g. a slash_fraction), rounding
// to the nearest micro-unit.
func (a Amount) Mul(fraction float64) Amount {
	product := float64(a) * fraction
	return Amount(int64(product + sign(product)*0.5))
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

// Add returns a+b.
func (a Amount) Add(b Amount) Amount { return a + b }

// Sub returns a-b.
func (a Amount) Sub(b Amount) Amount { return a - b }

// Cmp returns -1, 0, 1 as a is less than, equal to, or greater than b.
func (a Amount) Cmp(b Amount) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// String renders the amount with Decimals fractional digits.
func (a Amount) String() string {
	neg := a < 0
	v := int64(a)
	if neg {
		v = -v
	}
	whole := v / scale
	frac := v % scale
	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%s%d.%0*d", sign, whole, Decimals, frac)
}
