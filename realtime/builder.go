package realtime

import "time"

// Builder can build pacers.
type Builder struct {
	enabled   bool
	scale     float64
	tolerance time.Duration
	busyWait  bool
	now       func() time.Time
	sleep     func(time.Duration)
}

// MakeBuilder creates a builder for an enabled pacer that runs simulated
// time at wall-clock speed with a millisecond of tolerance.
func MakeBuilder() Builder {
	return Builder{
		enabled:   true,
		scale:     1,
		tolerance: time.Millisecond,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// WithEnabled turns pacing on or off.
func (b Builder) WithEnabled(enabled bool) Builder {
	b.enabled = enabled
	return b
}

// WithScale sets how many simulated seconds pass per wall-clock second.
// Non-positive scales are ignored.
func (b Builder) WithScale(scale float64) Builder {
	if scale > 0 {
		b.scale = scale
	}

	return b
}

// WithTolerance sets how far simulated time may run ahead before the pacer
// blocks.
func (b Builder) WithTolerance(d time.Duration) Builder {
	b.tolerance = d
	return b
}

// WithBusyWait makes the pacer spin instead of sleeping. Spinning keeps a
// core busy but wakes up on time.
func (b Builder) WithBusyWait(busy bool) Builder {
	b.busyWait = busy
	return b
}

// WithWallClock replaces the wall clock that the pacer reads and sleeps on.
func (b Builder) WithWallClock(
	now func() time.Time,
	sleep func(time.Duration),
) Builder {
	b.now = now
	b.sleep = sleep

	return b
}

// Build creates the pacer.
func (b Builder) Build() *Pacer {
	return &Pacer{
		enabled:   b.enabled,
		scale:     b.scale,
		tolerance: b.tolerance,
		busyWait:  b.busyWait,
		now:       b.now,
		sleep:     b.sleep,
	}
}
