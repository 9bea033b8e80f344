package stall

import "math"

// IsSignificant decides whether newVal improves on oldVal by enough to reset
// the stall clock. The absolute and relative bars are OR-combined: clearing
// either one is sufficient. A regression is never significant.
func IsSignificant(oldVal, newVal, absTol, relTol float64, sense Sense) bool {
	var improvement float64
	if sense == Minimize {
		improvement = oldVal - newVal
	} else {
		improvement = newVal - oldVal
	}

	if improvement <= 0 {
		return false
	}
	if improvement > absTol {
		return true
	}

	// Relative to the old value; an old value of exactly zero falls back to the
	// new one, which cannot also be zero once improvement > 0.
	if oldVal != 0 {
		return improvement/math.Abs(oldVal) > relTol
	}
	return improvement/math.Abs(newVal) > relTol
}
