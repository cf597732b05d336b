package sim

import "github.com/sirupsen/logrus"

// PoolStats reports how an EventPool has been used.
type PoolStats struct {
	Allocated uint64 `json:"allocated"`
	Reused    uint64 `json:"reused"`
	Free      int    `json:"free"`
}

// An EventPool recycles events through a singly-linked free list.
//
// A pool belongs to one partition and is not safe for concurrent use.
// Events may migrate between partitions; they are returned to the pool of
// the partition that frees them.
type EventPool struct {
	free    *Event
	numFree int

	// maxFree bounds the free list. Zero means unbounded. The bound only
	// limits how much memory is kept for reuse, it never limits allocation.
	maxFree int

	allocated uint64
	reused    uint64
}

// NewEventPool creates an EventPool that keeps at most maxFree recycled
// events.
func NewEventPool(maxFree int) *EventPool {
	return &EventPool{maxFree: maxFree}
}

// Get returns a zeroed event, reusing a recycled one if possible.
func (p *EventPool) Get() *Event {
	if p.free == nil {
		p.allocated++
		return &Event{}
	}

	e := p.free
	p.free = e.next
	p.numFree--
	p.reused++

	e.next = nil
	e.freed = false

	return e
}

// Put zeroes the event and returns it to the pool. Putting an event twice,
// or putting an event that a store still holds, is a kernel defect.
func (p *EventPool) Put(e *Event) {
	if e.freed {
		logrus.WithFields(e.Fields()).
			Panicf("sim: event freed twice (generation %d)", e.gen)
	}

	if e.pending {
		logrus.WithFields(e.Fields()).
			Panic("sim: freeing an event that is still scheduled")
	}

	gen := e.gen + 1
	clear(e.Info)
	info := e.Info[:0]

	*e = Event{}
	e.gen = gen
	e.freed = true
	e.Info = info

	if p.maxFree > 0 && p.numFree >= p.maxFree {
		return
	}

	e.next = p.free
	p.free = e
	p.numFree++
}

// Stats returns the allocation counters of the pool.
func (p *EventPool) Stats() PoolStats {
	return PoolStats{
		Allocated: p.allocated,
		Reused:    p.reused,
		Free:      p.numFree,
	}
}

// Lease checks an event out of the pool. The event goes back to the pool
// when the lease is released, unless ownership was transferred first:
//
//	l := pool.Lease()
//	defer l.Release()
//
//	evt := l.Event()
//	if err := fill(evt); err != nil {
//	    return err
//	}
//	scheduler.ScheduleLocal(node, l.Transfer(), delay)
func (p *EventPool) Lease() *Lease {
	return &Lease{pool: p, evt: p.Get()}
}

// A Lease is a scoped checkout of an event.
type Lease struct {
	pool *EventPool
	evt  *Event
	done bool
}

// Event returns the leased event.
func (l *Lease) Event() *Event {
	return l.evt
}

// Transfer hands the event to the caller. Release becomes a no-op.
func (l *Lease) Transfer() *Event {
	l.done = true
	return l.evt
}

// Release returns the event to the pool if it was not transferred.
func (l *Lease) Release() {
	if l.done {
		return
	}

	l.done = true
	l.pool.Put(l.evt)
}

// A Ref is a checked reference to an event. It detects use after the event
// has been recycled.
type Ref struct {
	evt *Event
	gen uint32
}

// NewRef creates a reference to a live event.
func NewRef(e *Event) Ref {
	e.MustBeLive()
	return Ref{evt: e, gen: e.gen}
}

// Valid tells if the referenced event is still the one the reference was
// taken on.
func (r Ref) Valid() bool {
	return r.evt != nil && !r.evt.freed && r.evt.gen == r.gen
}

// Get returns the event, panicking if it has been recycled since the
// reference was taken.
func (r Ref) Get() *Event {
	if !r.Valid() {
		logrus.WithField("generation", r.gen).
			Panic("sim: dangling event reference")
	}

	return r.evt
}
