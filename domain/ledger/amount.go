package ledger

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// CentsPerUnit is the number of amount units in one unit of currency.
const CentsPerUnit = 100

// Amount represents a monetary value stored as an integer count of cents.
// Amounts are fixed-width on the wire so transaction hashes are stable.
type Amount int64

// round converts a floating point number, which may or may not be
// representable as an integer, to the Amount integer type by rounding to the
// nearest cent. This is performed by adding or subtracting 0.5 depending on
// the sign, and relying on integer truncation to round the value to the
// nearest Amount.
func round(f float64) Amount {
	if f < 0 {
		return Amount(f - 0.5)
	}
	return Amount(f + 0.5)
}

// NewAmount creates an Amount from a floating point value representing an
// amount in whole currency units.
func NewAmount(f float64) (Amount, error) {
	// The amount is only considered invalid if it cannot be represented as
	// an integer type. This may happen if f is NaN or +-Infinity.
	switch {
	case math.IsNaN(f):
		fallthrough
	case math.IsInf(f, 1):
		fallthrough
	case math.IsInf(f, -1):
		return 0, errors.New("invalid amount")
	}

	return round(f * CentsPerUnit), nil
}

// ToUnit returns the amount in whole currency units.
func (a Amount) ToUnit() float64 {
	return float64(a) / CentsPerUnit
}

// String returns the amount formatted with two decimal places.
func (a Amount) String() string {
	cents := int64(a)
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/CentsPerUnit, cents%CentsPerUnit)
}

// MulBasisPoints returns the amount multiplied by the given rate expressed in
// basis points (1/100 of a percent), rounded half up to the nearest cent.
// Used for deterministic tax computations.
func (a Amount) MulBasisPoints(basisPoints int64) Amount {
	product := int64(a) * basisPoints
	if product >= 0 {
		return Amount((product + 5000) / 10000)
	}
	return Amount((product - 5000) / 10000)
}
