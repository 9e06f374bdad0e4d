// Package amount provides token-unit arithmetic for the Strata engine.
// Amounts are 256-bit unsigned integers in base units (18 decimals). Every
// operation that could exceed 256 bits is checked and reports overflow
// instead of wrapping.
package amount

import (
	"github.com/holiman/uint256"

	"github.com/strataforge/strata/pkg/errors"
)

// Decimals is the number of base-unit decimals in one whole token.
const Decimals = 18

// BasisPointDenominator converts basis-point multipliers to ratios.
const BasisPointDenominator = 10_000

var unitsPerToken = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(Decimals))

// Zero returns a fresh zero amount.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Tokens returns n whole tokens in base units.
func Tokens(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), unitsPerToken)
}

// Units returns n base units.
func Units(n uint64) *uint256.Int {
	return uint256.NewInt(n)
}

// Parse decodes a decimal string of base units.
func Parse(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidArgument, "parse_amount",
			"malformed token amount").
			WithContext("input", s)
	}
	return v, nil
}

// String renders an amount as a decimal base-unit string.
func String(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// CheckedAdd returns a+b or an overflow error.
func CheckedAdd(op string, a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, overflowErr(op, "addition overflows 256 bits")
	}
	return sum, nil
}

// CheckedMul returns a*b or an overflow error.
func CheckedMul(op string, a, b *uint256.Int) (*uint256.Int, error) {
	prod, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, overflowErr(op, "multiplication overflows 256 bits")
	}
	return prod, nil
}

// Div returns a/b with floor semantics. Division by zero is an invalid
// argument, not a panic.
func Div(op string, a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, op, "division by zero")
	}
	return new(uint256.Int).Div(a, b), nil
}

func overflowErr(op, msg string) error {
	return errors.New(errors.ErrorTypeOverflow, op, msg)
}
