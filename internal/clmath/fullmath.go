package clmath

import (
	"errors"

	"github.com/holiman/uint256"
)

// ErrOverflow is the panic value raised when an intermediate result does not
// fit its fixed-point width. It signals a sizing bug, not a recoverable state.
var ErrOverflow = errors.New("clmath: arithmetic overflow")

var (
	Q96        = new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	MaxUint128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
	MaxUint256 = new(uint256.Int).SetAllOne()
)

// MulDiv returns floor(a*b/denominator) with a full 512-bit intermediate.
func MulDiv(a, b, denominator *uint256.Int) *uint256.Int {
	if denominator.IsZero() {
		panic(ErrOverflow)
	}
	result, overflow := new(uint256.Int).MulDivOverflow(a, b, denominator)
	if overflow {
		panic(ErrOverflow)
	}
	return result
}

// MulDivRoundingUp returns ceil(a*b/denominator).
func MulDivRoundingUp(a, b, denominator *uint256.Int) *uint256.Int {
	result := MulDiv(a, b, denominator)
	if new(uint256.Int).MulMod(a, b, denominator).IsZero() {
		return result
	}
	if result.Eq(MaxUint256) {
		panic(ErrOverflow)
	}
	return result.AddUint64(result, 1)
}

// divRoundingUp returns ceil(x/y).
func divRoundingUp(x, y *uint256.Int) *uint256.Int {
	quotient := new(uint256.Int).Div(x, y)
	if !new(uint256.Int).Mod(x, y).IsZero() {
		quotient.AddUint64(quotient, 1)
	}
	return quotient
}

func toUint128(x *uint256.Int) *uint256.Int {
	if x.Gt(MaxUint128) {
		panic(ErrOverflow)
	}
	return x
}

func sortRatios(a, b *uint256.Int) (*uint256.Int, *uint256.Int) {
	if a.Gt(b) {
		return b, a
	}
	return a, b
}
