// Package money converts and rounds amounts expressed in integer minor units
// (cents) of a single currency.
package money

import (
	"math"
	"math/bits"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned for money values that cannot be represented
// as non-negative int64 cents: NaN, infinities, negatives where they are not
// allowed, or results that overflow.
var ErrInvalidAmount = errors.New("invalid amount")

var (
	half    = decimal.NewFromFloat(0.5)
	maxCent = decimal.NewFromInt(math.MaxInt64)
	minCent = decimal.NewFromInt(math.MinInt64)
)

// ToCents converts a dollar amount to cents, rounding half up to the nearest
// cent.
func ToCents(dollars float64) (int64, error) {
	if math.IsNaN(dollars) || math.IsInf(dollars, 0) {
		return 0, errors.Wrapf(ErrInvalidAmount, "dollars %v", dollars)
	}

	cents := decimal.NewFromFloat(dollars).Shift(2).Add(half).Floor()
	if cents.GreaterThan(maxCent) || cents.LessThan(minCent) {
		return 0, errors.Wrapf(ErrInvalidAmount, "dollars %v overflows cents", dollars)
	}
	return cents.IntPart(), nil
}

// FromCents returns the dollar value of cents as an exact decimal.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// PercentOf returns floor(baseCents * percent / 100).
//
// Floor keeps stacked percentage discounts from ever exceeding what sequential
// "take X% off" arithmetic would give.
func PercentOf(baseCents int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(baseCents).Mul(percent).Shift(-2).Floor().IntPart()
}

// ClampNonNegative returns max(0, cents).
func ClampNonNegative(cents int64) int64 {
	if cents < 0 {
		return 0
	}
	return cents
}

// LineTotal returns unitCents * quantity, failing with ErrInvalidAmount when
// either operand is negative or the product does not fit in int64.
func LineTotal(unitCents int64, quantity int) (int64, error) {
	if unitCents < 0 || quantity < 0 {
		return 0, errors.Wrapf(ErrInvalidAmount, "line %d x %d", unitCents, quantity)
	}
	hi, lo := bits.Mul64(uint64(unitCents), uint64(quantity))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, errors.Wrapf(ErrInvalidAmount, "line %d x %d overflows", unitCents, quantity)
	}
	return int64(lo), nil
}

// Add returns a + b for non-negative operands, failing with ErrInvalidAmount
// on overflow.
func Add(a, b int64) (int64, error) {
	sum := a + b
	if sum < a {
		return 0, errors.Wrapf(ErrInvalidAmount, "sum %d + %d overflows", a, b)
	}
	return sum, nil
}
