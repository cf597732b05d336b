package partition

import (
	"sync"

	"github.com/sarchlab/pdes/sim"
)

// An arrival is one entry of the inbox. It carries either an event or an
// encoded frame.
type arrival struct {
	evt   *sim.Event
	frame []byte
	time  sim.VTime

	// relative arrivals come from other goroutines. Their time is computed
	// from delay when the scheduler drains them.
	relative bool
	delay    sim.VTime
}

// An Inbox is the only way into a partition from other goroutines. The
// scheduler drains it at the start of every loop iteration, never during a
// dispatch.
type Inbox struct {
	mu sync.Mutex

	items []arrival
	spare []arrival

	minTime sim.VTime

	endRequested bool
	endAt        sim.VTime
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{minTime: sim.MaxTime}
}

func (b *Inbox) push(a arrival) {
	b.mu.Lock()
	b.items = append(b.items, a)

	t := a.time
	if a.relative {
		// Unknown until drained; it can be as early as the next window.
		t = 0
	}

	if t < b.minTime {
		b.minTime = t
	}
	b.mu.Unlock()
}

func (b *Inbox) requestEnd(at sim.VTime) {
	b.mu.Lock()
	if !b.endRequested || at < b.endAt {
		b.endAt = at
	}
	b.endRequested = true
	b.mu.Unlock()
}

// take removes everything from the inbox. The returned slice is valid until
// the next call to take.
func (b *Inbox) take() (items []arrival, endAt sim.VTime, endRequested bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	items = b.items
	b.items = b.spare[:0]
	b.spare = items

	endAt, endRequested = b.endAt, b.endRequested
	b.endRequested = false
	b.minTime = sim.MaxTime

	return items, endAt, endRequested
}

// MinTime returns the earliest arrival time, or MaxTime if the inbox is
// empty.
func (b *Inbox) MinTime() sim.VTime {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.minTime
}

// Len returns the number of arrivals waiting.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.items)
}
