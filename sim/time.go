package sim

import (
	"fmt"
	"math"
)

// VTime is a point in simulated time, counted in nanoseconds since the
// simulation started.
type VTime int64

// Common durations in simulated time.
const (
	Nanosecond  VTime = 1
	Microsecond       = 1000 * Nanosecond
	Millisecond       = 1000 * Microsecond
	Second            = 1000 * Millisecond
)

// MaxTime is a time that no event ever reaches. It is used as the "nothing
// pending" horizon and as the unbounded end of a scheduling window.
const MaxTime VTime = math.MaxInt64

// Seconds returns the time as a floating point number of seconds.
func (t VTime) Seconds() float64 {
	return float64(t) / float64(Second)
}

// String formats the time in seconds with nanosecond precision.
func (t VTime) String() string {
	if t == MaxTime {
		return "inf"
	}

	return fmt.Sprintf("%.9fs", t.Seconds())
}

// AddSaturating returns t+d, saturating at MaxTime instead of overflowing.
func (t VTime) AddSaturating(d VTime) VTime {
	if d > 0 && t > MaxTime-d {
		return MaxTime
	}

	return t + d
}
