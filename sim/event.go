package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// NodeID identifies a simulated node.
type NodeID uint32

// PartitionID identifies an independently scheduled shard of the simulated
// network.
type PartitionID int

// LayerID selects the handler that processes an event.
type LayerID int

// EventKind discriminates events within one layer.
type EventKind int

// Layers reserved by the kernel. Protocol layers use non-negative IDs.
const (
	// LayerPartition carries partition-internal events such as the end of
	// simulation heartbeat.
	LayerPartition LayerID = -1

	// LayerCommunication carries cross-partition control messages. The
	// event kind is the communicator ID.
	LayerCommunication LayerID = -2
)

// Kinds used on LayerPartition.
const (
	KindHeartbeat EventKind = iota
)

// SchedulingMode is the delivery discipline of a cross-partition event.
type SchedulingMode int

const (
	// ModeSafe never delivers into the destination's committed past.
	ModeSafe SchedulingMode = iota

	// ModeLoose delivers as soon as possible and is admitted even when it
	// arrives behind the destination's clock.
	ModeLoose
)

func (m SchedulingMode) String() string {
	switch m {
	case ModeSafe:
		return "safe"
	case ModeLoose:
		return "loose"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// An Event is something going to happen at a node at a given time.
//
// The exported fields form the envelope and the payload. The remaining
// fields are kernel bookkeeping. Events should be obtained from an
// EventPool; once handed to a scheduler the scheduler owns the event and
// returns it to the pool after dispatch.
type Event struct {
	Target   NodeID
	Time     VTime
	Layer    LayerID
	Kind     EventKind
	Mode     SchedulingMode
	Instance int

	// Payload is the protocol-defined content. Handlers type-switch on it.
	Payload any

	// Info is a companion byte block that survives serialization between
	// partitions. Its capacity is kept when the event is recycled.
	Info []byte

	seq     uint64
	pending bool
	remote  bool
	gen     uint32
	freed   bool
	next    *Event
}

// Seq returns the insertion sequence number stamped by the scheduler that
// currently owns the event.
func (e *Event) Seq() uint64 {
	return e.seq
}

// Admit stamps the event with a sequence number and marks it as owned by a
// scheduler. It clears the remote mark, which arrivals set again after
// admission. Admitting a freed event is a kernel defect.
func (e *Event) Admit(seq uint64) {
	e.MustBeLive()
	e.seq = seq
	e.pending = true
	e.remote = false
}

// MarkInFlight marks the event as handed to a cross-partition channel.
func (e *Event) MarkInFlight() {
	e.MustBeLive()
	e.pending = true
}

// Detach clears the ownership mark when the event is taken out of a store
// for dispatch.
func (e *Event) Detach() {
	e.pending = false
}

// Pending tells if the event is currently held by a store or a channel.
func (e *Event) Pending() bool {
	return e.pending
}

// MarkRemote records that the event arrived through the cross-partition
// path.
func (e *Event) MarkRemote() {
	e.remote = true
}

// Remote tells if the event arrived from another partition or from an
// external goroutine.
func (e *Event) Remote() bool {
	return e.remote
}

// Generation returns how many times the event has been recycled.
func (e *Event) Generation() uint32 {
	return e.gen
}

// Freed tells if the event has been returned to its pool.
func (e *Event) Freed() bool {
	return e.freed
}

// MustBeLive panics if the event has been returned to a pool.
func (e *Event) MustBeLive() {
	if e.freed {
		logrus.WithFields(e.Fields()).
			Panicf("sim: use of freed event (generation %d)", e.gen)
	}
}

// CopyTo copies the envelope, the payload and the info block into dst.
// Kernel bookkeeping of dst is left untouched.
func (e *Event) CopyTo(dst *Event) {
	dst.Target = e.Target
	dst.Time = e.Time
	dst.Layer = e.Layer
	dst.Kind = e.Kind
	dst.Mode = e.Mode
	dst.Instance = e.Instance
	dst.Payload = e.Payload
	dst.Info = append(dst.Info[:0], e.Info...)
}

// Fields returns the envelope as log fields.
func (e *Event) Fields() logrus.Fields {
	return logrus.Fields{
		"target":   e.Target,
		"time":     e.Time,
		"layer":    e.Layer,
		"kind":     e.Kind,
		"mode":     e.Mode,
		"instance": e.Instance,
		"seq":      e.seq,
		"payload":  fmt.Sprintf("%T", e.Payload),
	}
}

func (e *Event) String() string {
	return fmt.Sprintf("event{node %d, layer %d, kind %d, %s @ %s, seq %d}",
		e.Target, e.Layer, e.Kind, e.Mode, e.Time, e.seq)
}

// A Handler processes the events of one layer.
//
// Each protocol family defines its payloads as a closed set of types and
// type-switches on them:
//
//	func (h *MyLayer) Handle(evt *sim.Event) error {
//	    switch p := evt.Payload.(type) {
//	    case *MyTimer:
//	        // ...
//	    default:
//	        return fmt.Errorf("unknown payload %T", p)
//	    }
//	    return nil
//	}
type Handler interface {
	Handle(evt *Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(evt *Event) error

// Handle calls f(evt).
func (f HandlerFunc) Handle(evt *Event) error {
	return f(evt)
}
