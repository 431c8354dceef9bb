// internal/math/checked.go
package math

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrArithmeticOverflow  = errors.New("stable: arithmetic overflow")
	ErrArithmeticUnderflow = errors.New("stable: arithmetic underflow")
	ErrDivisionByZero      = errors.New("stable: division by zero")
)

// All balances and ratios are u64. Intermediates run in 256 bits and are
// narrowed back with an explicit overflow check, so nothing ever wraps.

// Add returns a + b.
func Add(a, b uint64) (uint64, error) {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !sum.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return sum.Uint64(), nil
}

// Sub returns a - b, failing instead of going below zero.
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticUnderflow
	}
	return a - b, nil
}

// Mul returns a * b within the u64 working width.
func Mul(a, b uint64) (uint64, error) {
	prod, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !prod.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return prod.Uint64(), nil
}

// Div returns floor(a / b).
func Div(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	return a / b, nil
}

// MulDiv returns floor(a * b / d). The product must fit the u64 working
// width; a product that only fits in 256 bits is still an overflow.
func MulDiv(a, b, d uint64) (uint64, error) {
	prod, err := Mul(a, b)
	if err != nil {
		return 0, err
	}
	return Div(prod, d)
}

// Min returns the smaller of a and b.
func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
