package partition

import (
	"github.com/pkg/errors"

	"github.com/sarchlab/pdes/sim"
)

// A Window is what a synchronization grants a partition.
type Window struct {
	// SafeTime is the time up to which the partition may dispatch.
	SafeTime sim.VTime

	// GVT is the earliest pending time over all partitions when the
	// window was computed.
	GVT sim.VTime

	// Over tells that no partition has anything left to do before its end
	// time.
	Over bool
}

// A Channel carries events between partitions and synchronizes their
// clocks.
type Channel interface {
	// Attach registers a scheduler. Every partition attaches once before
	// any of them runs.
	Attach(s *Scheduler) error

	// NumPartitions returns how many partitions the channel connects.
	NumPartitions() int

	// Parallel tells if the partitions run concurrently, in which case a
	// partition may only dispatch up to its safe time.
	Parallel() bool

	// Send takes ownership of evt, whose Time is the delivery time, and
	// delivers it to partition dest. It runs on the goroutine of src.
	Send(src *Scheduler, dest sim.PartitionID, evt *sim.Event) error

	// Synchronize blocks until every partition arrives and returns the
	// next window. horizon is the earliest event s still has.
	Synchronize(s *Scheduler, horizon sim.VTime) (Window, error)

	// Abort releases every partition blocked in Synchronize with err.
	Abort(s *Scheduler, err error)

	// Codec returns the envelope codec, or nil if events cross
	// partitions by reference.
	Codec() *Codec
}

// DeliveryTime computes when an event sent at now with the given delay
// reaches another partition. SAFE events never land in the committed past
// of the destination, so they are clamped to safeTime+1. LOOSE events are
// not clamped.
func DeliveryTime(
	now, safeTime, delay sim.VTime,
	mode sim.SchedulingMode,
) sim.VTime {
	t := now.AddSaturating(delay)

	if mode == sim.ModeSafe && t <= safeTime {
		t = safeTime + 1
	}

	return t
}

// Loopback is the channel of a single-partition run. There is no other
// partition to wait for, so every window is unbounded.
type Loopback struct {
	s *Scheduler
}

// NewLoopback creates a Loopback channel.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// Attach registers the only scheduler.
func (l *Loopback) Attach(s *Scheduler) error {
	if l.s != nil {
		return errors.New("loopback channel already has a partition")
	}

	if s.ID() != 0 {
		return errors.Errorf("loopback channel needs partition 0, got %d",
			s.ID())
	}

	l.s = s

	return nil
}

// NumPartitions returns 1.
func (l *Loopback) NumPartitions() int {
	return 1
}

// Parallel returns false.
func (l *Loopback) Parallel() bool {
	return false
}

// Send always fails, since there is no other partition.
func (l *Loopback) Send(
	src *Scheduler,
	dest sim.PartitionID,
	evt *sim.Event,
) error {
	return errors.WithStack(&sim.InvalidTargetError{
		Node:      evt.Target,
		Partition: dest,
		Reason:    "single-partition run",
	})
}

// Synchronize reports the run over once nothing is left before the end time
// of the partition.
func (l *Loopback) Synchronize(s *Scheduler, horizon sim.VTime) (Window, error) {
	now := s.CurrentTime()

	return Window{
		SafeTime: now,
		GVT:      horizon,
		Over: horizon == sim.MaxTime ||
			horizon > s.p.Clock.MaxSimClock(),
	}, nil
}

// Abort does nothing, as nobody else can be waiting.
func (l *Loopback) Abort(s *Scheduler, err error) {}

// Codec returns nil.
func (l *Loopback) Codec() *Codec {
	return nil
}
