// Package realtime keeps simulated time from running ahead of wall-clock
// time.
package realtime

import (
	"time"

	"github.com/sarchlab/pdes/sim"
)

// A Pacer throttles a scheduler so that simulated time does not outrun
// wall-clock time.
//
// A nil or disabled Pacer never blocks. A Pacer belongs to one scheduler
// goroutine.
type Pacer struct {
	enabled   bool
	scale     float64
	tolerance time.Duration
	busyWait  bool

	anchored bool
	anchor   time.Time

	now   func() time.Time
	sleep func(time.Duration)

	throttled time.Duration
	numWaits  uint64
}

// ThrottleIfAhead blocks until the wall clock catches up with simNow, if the
// wall-clock instant that simNow maps to is more than the tolerance in the
// future. It returns how long it blocked.
//
// The first call anchors the mapping, so simNow on the first call maps to
// the current wall-clock instant.
func (p *Pacer) ThrottleIfAhead(simNow sim.VTime) time.Duration {
	if p == nil || !p.enabled {
		return 0
	}

	if !p.anchored {
		p.Reanchor(simNow)
		return 0
	}

	target := p.wallOf(simNow)
	ahead := target.Sub(p.now())
	if ahead <= p.tolerance {
		return 0
	}

	if p.busyWait {
		for p.now().Before(target) {
		}
	} else {
		p.sleep(ahead)
	}

	p.throttled += ahead
	p.numWaits++

	return ahead
}

// Reanchor maps simNow to the current wall-clock instant. Schedulers call it
// after a pause so that the pause is not made up for by running unpaced.
func (p *Pacer) Reanchor(simNow sim.VTime) {
	if p == nil {
		return
	}

	p.anchor = p.now().Add(-p.wallDuration(simNow))
	p.anchored = true
}

// Enabled tells if the pacer can block.
func (p *Pacer) Enabled() bool {
	return p != nil && p.enabled
}

// Throttled returns the total time spent blocking and the number of waits.
func (p *Pacer) Throttled() (time.Duration, uint64) {
	if p == nil {
		return 0, 0
	}

	return p.throttled, p.numWaits
}

func (p *Pacer) wallDuration(t sim.VTime) time.Duration {
	return time.Duration(float64(t) / p.scale)
}

func (p *Pacer) wallOf(t sim.VTime) time.Time {
	return p.anchor.Add(p.wallDuration(t))
}
