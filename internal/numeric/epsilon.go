// Package numeric provides NaN-safe, relative-epsilon floating-point
// comparisons and step rounding for float64 values. The matching engine
// compares prices and quantities as shopspring/decimal values and does
// not import this package.
package numeric

import "math"

// DefaultEpsilon is the relative tolerance used when the caller does not
// supply one. It is tight enough to distinguish real price moves on
// instruments with 8 decimal places of precision while absorbing the
// rounding noise introduced by repeated decimal<->float conversions.
const DefaultEpsilon = 1e-9

// Eq reports whether a and b are equal within a relative epsilon. NaN
// never compares equal to anything, including another NaN, matching
// normal float semantics and preventing a corrupted bar from silently
// comparing "equal" to a sentinel value.
func Eq(a, b float64) bool {
	return EqEps(a, b, DefaultEpsilon)
}

// EqEps is Eq with an explicit epsilon.
func EqEps(a, b, eps float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	if a == b {
		return true
	}
	diff := math.Abs(a - b)
	largest := math.Max(math.Abs(a), math.Abs(b))
	if largest == 0 {
		return diff < eps
	}
	return diff/largest < eps
}

// IsZero reports whether v is within epsilon of zero.
func IsZero(v float64) bool {
	return !math.IsNaN(v) && math.Abs(v) < DefaultEpsilon
}

// Lt reports whether a < b, outside of epsilon-equality.
func Lt(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	return a < b && !Eq(a, b)
}

// Lte reports whether a <= b within epsilon.
func Lte(a, b float64) bool {
	return Lt(a, b) || Eq(a, b)
}

// Gt reports whether a > b, outside of epsilon-equality.
func Gt(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	return a > b && !Eq(a, b)
}

// Gte reports whether a >= b within epsilon.
func Gte(a, b float64) bool {
	return Gt(a, b) || Eq(a, b)
}

// Between reports whether v lies within [lo, hi] inclusive, epsilon-aware,
// regardless of whether lo <= hi or lo > hi in the caller's arguments.
func Between(v, lo, hi float64) bool {
	if lo > hi {
		lo, hi = hi, lo
	}
	return Gte(v, lo) && Lte(v, hi)
}

// RoundToStep rounds v to the nearest multiple of step (step must be > 0).
// Used to snap fill quantities/prices onto an instrument's qty_step or
// tick_size grid.
func RoundToStep(v, step float64) float64 {
	if step <= 0 || math.IsNaN(v) {
		return v
	}
	return math.Round(v/step) * step
}

// FloorToStep floors v to the nearest multiple of step at or below v.
func FloorToStep(v, step float64) float64 {
	if step <= 0 || math.IsNaN(v) {
		return v
	}
	return math.Floor(v/step) * step
}
