package math

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// DivideRoundUp returns ceil(value / divisor). A zero divisor yields zero.
func DivideRoundUp[T constraints.Unsigned](value, divisor T) T {
	if divisor == 0 {
		return 0
	}
	return (value + divisor - 1) / divisor
}

// Align rounds value up to the next multiple of alignment.
func Align[T constraints.Unsigned](value, alignment T) T {
	if alignment == 0 {
		return value
	}
	return DivideRoundUp(value, alignment) * alignment
}
