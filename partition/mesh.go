package partition

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/pdes/sim"
)

// Mesh connects several partitions that run on their own goroutines in one
// process.
//
// LOOSE events go straight into the inbox of the destination. SAFE events
// wait in a per-(source, destination) buffer until the next
// synchronization. Synchronization is a cyclic barrier. The last partition
// to arrive flushes the buffers, computes the earliest pending time over all
// partitions (GVT), and grants every partition the window up to
// GVT+lookahead-1.
type Mesh struct {
	numPartitions int
	lookahead     sim.VTime
	codec         *Codec
	log           *logrus.Entry

	members  []*Scheduler
	attached int

	// outbound[src][dst] is written only by the goroutine of src, and read
	// by the coordinator while src is parked in the barrier.
	outbound [][][]arrival

	mu         sync.Mutex
	cond       *sync.Cond
	arrived    int
	generation uint64
	result     Window
	abortErr   error

	lastGVT atomic.Int64
	rounds  atomic.Uint64
}

// NewMesh creates a Mesh of n partitions. lookahead is the least delay of
// any cross-partition interaction and must be positive. A nil codec passes
// events by reference.
func NewMesh(n int, lookahead sim.VTime, codec *Codec) *Mesh {
	if n < 1 {
		logrus.Panicf("partition: a mesh needs at least one partition, got %d", n)
	}

	if lookahead < 1 {
		logrus.Panicf("partition: lookahead must be positive, got %d", lookahead)
	}

	m := &Mesh{
		numPartitions: n,
		lookahead:     lookahead,
		codec:         codec,
		log:           logrus.WithField("channel", "mesh"),
		members:       make([]*Scheduler, n),
		outbound:      make([][][]arrival, n),
	}

	for i := range m.outbound {
		m.outbound[i] = make([][]arrival, n)
	}

	m.cond = sync.NewCond(&m.mu)

	return m
}

// Attach registers a scheduler under its partition ID.
func (m *Mesh) Attach(s *Scheduler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := s.ID()
	if id < 0 || int(id) >= m.numPartitions {
		return errors.Errorf("partition %d out of range [0, %d)",
			id, m.numPartitions)
	}

	if m.members[id] != nil {
		return errors.Errorf("partition %d attached twice", id)
	}

	m.members[id] = s
	m.attached++

	return nil
}

// NumPartitions returns the number of partitions.
func (m *Mesh) NumPartitions() int {
	return m.numPartitions
}

// Parallel returns true.
func (m *Mesh) Parallel() bool {
	return true
}

// Lookahead returns the lookahead of the mesh.
func (m *Mesh) Lookahead() sim.VTime {
	return m.lookahead
}

// LastGVT returns the GVT of the last completed synchronization.
func (m *Mesh) LastGVT() sim.VTime {
	return sim.VTime(m.lastGVT.Load())
}

// Rounds returns how many synchronizations have completed.
func (m *Mesh) Rounds() uint64 {
	return m.rounds.Load()
}

// Codec returns the envelope codec, if any.
func (m *Mesh) Codec() *Codec {
	return m.codec
}

// Send buffers a SAFE event for the next synchronization, or hands a LOOSE
// event to the destination right away.
func (m *Mesh) Send(src *Scheduler, dest sim.PartitionID, evt *sim.Event) error {
	if dest < 0 || int(dest) >= m.numPartitions || dest == src.ID() {
		return errors.WithStack(&sim.InvalidTargetError{
			Node:      evt.Target,
			Partition: dest,
			Reason:    "not a peer partition",
		})
	}

	mode := evt.Mode
	a := arrival{evt: evt, time: evt.Time}

	if m.codec != nil {
		frame, err := m.codec.Encode(evt)
		if err != nil {
			return err
		}

		a = arrival{frame: frame, time: evt.Time}
		src.release(evt)
	}

	if mode == sim.ModeLoose {
		m.members[dest].inbox.push(a)
		return nil
	}

	m.outbound[src.ID()][dest] = append(m.outbound[src.ID()][dest], a)

	return nil
}

// Synchronize parks s until every partition has arrived.
func (m *Mesh) Synchronize(s *Scheduler, horizon sim.VTime) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.attached != m.numPartitions {
		return Window{}, errors.Errorf(
			"only %d of %d partitions attached", m.attached, m.numPartitions)
	}

	if m.abortErr != nil {
		return Window{}, errors.Wrap(m.abortErr, "peer partition aborted")
	}

	s.horizon = horizon
	gen := m.generation
	m.arrived++

	if m.arrived == m.numPartitions {
		m.result = m.coordinate()
		m.arrived = 0
		m.generation++
		m.cond.Broadcast()

		return m.result, nil
	}

	for gen == m.generation && m.abortErr == nil {
		m.cond.Wait()
	}

	if gen == m.generation {
		return Window{}, errors.Wrap(m.abortErr, "peer partition aborted")
	}

	return m.result, nil
}

// Abort wakes every parked partition with err.
func (m *Mesh) Abort(s *Scheduler, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.abortErr == nil {
		m.abortErr = errors.Wrapf(err, "partition %d", s.ID())
	}

	m.cond.Broadcast()
}

// coordinate runs on the last arriving goroutine while all others are
// parked.
func (m *Mesh) coordinate() Window {
	for src := range m.outbound {
		for dst, buf := range m.outbound[src] {
			for i := range buf {
				m.members[dst].inbox.push(buf[i])
				buf[i] = arrival{}
			}
			m.outbound[src][dst] = buf[:0]
		}
	}

	gvt := sim.MaxTime
	end := sim.VTime(0)

	for _, s := range m.members {
		gvt = min(gvt, s.horizon, s.inbox.MinTime())
		end = max(end, s.p.Clock.MaxSimClock())
	}

	w := Window{
		GVT:      gvt,
		SafeTime: gvt.AddSaturating(m.lookahead - 1),
		Over:     gvt == sim.MaxTime || gvt > end,
	}

	m.lastGVT.Store(int64(gvt))
	m.rounds.Add(1)

	m.log.WithFields(logrus.Fields{
		"gvt":       gvt,
		"safe_time": w.SafeTime,
		"over":      w.Over,
	}).Trace("synchronized")

	return w
}
