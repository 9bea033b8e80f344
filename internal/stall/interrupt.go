package stall

// Reason names the bound that triggered an interrupt decision
type Reason string

const (
	// ReasonNone means the search should continue
	ReasonNone Reason = ""
	// ReasonMaxTime means the time without improvement exceeded MaxTime
	ReasonMaxTime Reason = "max_time"
	// ReasonFracTime means the time without improvement exceeded FracTime of the total
	ReasonFracTime Reason = "frac_time"
)

// String returns "none" for ReasonNone so log lines stay readable
func (r Reason) String() string {
	if r == ReasonNone {
		return "none"
	}
	return string(r)
}

// StallReason classifies the time elapsed since the last improvement.
// All bounds are exclusive and minTime short-circuits the other two.
func StallReason(minTime, maxTime, fracTime, lastImprovement, now float64) Reason {
	elapsed := now - lastImprovement

	switch {
	case elapsed <= minTime:
		return ReasonNone
	case elapsed > maxTime:
		return ReasonMaxTime
	case elapsed > fracTime*now:
		return ReasonFracTime
	default:
		return ReasonNone
	}
}

// ShouldInterrupt reports whether the search has stalled long enough to stop
func ShouldInterrupt(minTime, maxTime, fracTime, lastImprovement, now float64) bool {
	return StallReason(minTime, maxTime, fracTime, lastImprovement, now) != ReasonNone
}
