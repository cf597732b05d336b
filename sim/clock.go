package sim

import "sync/atomic"

// A Clock holds the time state of one partition.
//
// Only the partition's scheduler goroutine writes the clock (or the barrier
// coordinator while every partition is parked). Reads are atomic so that
// monitors can sample the clock from other goroutines.
type Clock struct {
	now          atomic.Int64
	safe         atomic.Int64
	nextInternal atomic.Int64
	maxSim       atomic.Int64
}

// ClockSnapshot is a consistent-enough copy of a Clock for reporting.
type ClockSnapshot struct {
	Now               VTime `json:"now"`
	SafeTime          VTime `json:"safe_time"`
	NextInternalEvent VTime `json:"next_internal_event"`
	MaxSimClock       VTime `json:"max_sim_clock"`
}

// NewClock creates a clock at time zero that ends at maxSimClock.
func NewClock(maxSimClock VTime) *Clock {
	c := &Clock{}
	c.maxSim.Store(int64(maxSimClock))
	c.nextInternal.Store(int64(MaxTime))
	return c
}

// Now returns the current simulation time.
func (c *Clock) Now() VTime {
	return VTime(c.now.Load())
}

// SafeTime returns the latest time up to which the partition has been
// granted to run.
func (c *Clock) SafeTime() VTime {
	return VTime(c.safe.Load())
}

// NextInternalEvent returns the earliest known local event time.
func (c *Clock) NextInternalEvent() VTime {
	return VTime(c.nextInternal.Load())
}

// MaxSimClock returns the time at which the simulation ends.
func (c *Clock) MaxSimClock() VTime {
	return VTime(c.maxSim.Load())
}

// AdvanceTo moves the current time forward. Moving backwards is a kernel
// defect.
func (c *Clock) AdvanceTo(t VTime) {
	now := c.Now()
	if t < now {
		panicf("sim: clock moving backwards from %s to %s", now, t)
	}

	c.now.Store(int64(t))
}

// AdvanceSafeTime raises the safe time to t. Lower values are ignored so
// that the safe time never decreases. It reports whether the safe time
// moved.
func (c *Clock) AdvanceSafeTime(t VTime) bool {
	if t <= c.SafeTime() {
		return false
	}

	c.safe.Store(int64(t))
	return true
}

// SetNextInternalEvent records the earliest known local event time.
func (c *Clock) SetNextInternalEvent(t VTime) {
	c.nextInternal.Store(int64(t))
}

// SetMaxSimClock changes the end of the simulation.
func (c *Clock) SetMaxSimClock(t VTime) {
	c.maxSim.Store(int64(t))
}

// Snapshot copies the clock.
func (c *Clock) Snapshot() ClockSnapshot {
	return ClockSnapshot{
		Now:               c.Now(),
		SafeTime:          c.SafeTime(),
		NextInternalEvent: c.NextInternalEvent(),
		MaxSimClock:       c.MaxSimClock(),
	}
}
