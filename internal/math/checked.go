package math

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrOverflow is returned when an unsigned amount computation exceeds 64 bits.
var ErrOverflow = errors.New("arithmetic overflow")

// AddU64 returns a + b, or ErrOverflow if the sum does not fit in a uint64.
func AddU64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%d + %d: %w", a, b, ErrOverflow)
	}
	return sum, nil
}

// SubU64 returns a - b, or ErrOverflow if b > a.
func SubU64(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, fmt.Errorf("%d - %d: %w", a, b, ErrOverflow)
	}
	return diff, nil
}

// MulU64 returns a * b, or ErrOverflow if the product needs more than 64 bits.
func MulU64(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, fmt.Errorf("%d * %d: %w", a, b, ErrOverflow)
	}
	return lo, nil
}
