/*
Package ledger provides the core multi-currency ledger engine.

PURPOSE:
  This package contains the primitives and algorithms for an audit-grade
  money-movement log: currency-tagged amounts, an append-only movement
  ledger, and balance calculation as a pure projection over that ledger.

KEY CONCEPTS IN THIS FILE (money.go):
  - Currency: Closed enum, ARS or USD. Nothing else is representable.
  - RoundMoney: Half-up rounding to 2 decimal places, applied at every
    point money is persisted or compared.

DESIGN PRINCIPLES:
  1. Immutability: Movements are never modified, only compensated
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Closed enums make invalid type/currency combinations
     unrepresentable
  4. Explicit FX: No implicit cross-currency arithmetic - all conversion
     goes through the FX resolver

SEE ALSO:
  - types.go: Account and movement types
  - balance.go: Balance calculation from movements
  - fx.go: Exchange-rate resolution
*/
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCY - Closed enum, the two natively tracked units
// =============================================================================

type Currency string

const (
	ARS Currency = "ARS"
	USD Currency = "USD"
)

// ParseCurrency converts a string to a Currency, rejecting anything
// outside the closed set.
func ParseCurrency(s string) (Currency, error) {
	switch Currency(s) {
	case ARS, USD:
		return Currency(s), nil
	default:
		return "", fmt.Errorf("unknown currency %q", s)
	}
}

func (c Currency) Valid() bool {
	return c == ARS || c == USD
}

// =============================================================================
// ROUNDING - Applied at every persistence and comparison point
// =============================================================================

// RoundMoney rounds to 2 decimal places, half away from zero. Balances
// and results can go negative, where half away from zero rounds the
// midpoint to the larger magnitude (-1.005 becomes -1.01).
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Epsilon is the tolerance used when comparing derived monetary totals
// (the accounting-identity check).
var Epsilon = decimal.NewFromFloat(0.01)

// WithinEpsilon reports whether two rounded totals agree within Epsilon.
func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(Epsilon)
}

// MustDecimal parses a decimal literal; it is intended for constants and
// test fixtures, not user input.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
