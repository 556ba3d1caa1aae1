/*
money.go - Integer minor-unit money type

PURPOSE:
  All amounts in the engine are integer cents. Arithmetic on Cents can
  never drift the way float64 arithmetic does, so invoice balances,
  payment amounts, and reconciliation sums stay exact.

ROUNDING:
  Fractional cents only ever appear at the boundary, when a decimal
  string ("1234.565") or a decimal.Decimal enters the system. Those
  conversions use banker's rounding (round half to even), which is what
  bank statements and accounting exports use. Past the boundary there is
  nothing left to round.

NO FLOATS:
  Cents deliberately has no Float64 method and no float constructor.
  The one float in the data model (match confidence) is not money.

EXAMPLE:
  total, err := ledger.ParseCents("5000.00")   // 500000
  total.String()                                // "5000.00"
  total.Add(ledger.Cents(50))                   // 500050

SEE ALSO:
  - types.go: The entities these amounts live on
*/
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is a money amount in integer minor units (cents).
// Positive for credits and balances owed, negative for debits.
type Cents int64

// Add returns c + other.
func (c Cents) Add(other Cents) Cents { return c + other }

// Sub returns c - other.
func (c Cents) Sub(other Cents) Cents { return c - other }

// Neg returns -c.
func (c Cents) Neg() Cents { return -c }

// Abs returns the magnitude of c.
func (c Cents) Abs() Cents {
	if c < 0 {
		return -c
	}
	return c
}

// IsZero reports whether c is exactly zero.
func (c Cents) IsZero() bool { return c == 0 }

// IsPositive reports whether c is greater than zero.
func (c Cents) IsPositive() bool { return c > 0 }

// IsNegative reports whether c is less than zero.
func (c Cents) IsNegative() bool { return c < 0 }

// String renders the amount in major units with two decimal places,
// e.g. Cents(500000).String() == "5000.00".
func (c Cents) String() string {
	return decimal.New(int64(c), -2).StringFixed(2)
}

// Decimal returns the amount in major units as an exact decimal.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// FromDecimal converts a major-unit decimal amount to Cents,
// applying banker's rounding if the value carries sub-cent precision.
func FromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Shift(2).RoundBank(0).IntPart())
}

// ParseCents parses a major-unit decimal string ("5000.00", "12.345")
// into Cents with banker's rounding on any sub-cent remainder.
func ParseCents(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return FromDecimal(d), nil
}
