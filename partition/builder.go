package partition

import (
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/pdes/comm"
	"github.com/sarchlab/pdes/realtime"
	"github.com/sarchlab/pdes/sim"
	"github.com/sarchlab/pdes/timertree"
)

// Builder can build schedulers.
type Builder struct {
	partition   *Partition
	channel     Channel
	pacer       *realtime.Pacer
	queueKind   timertree.Kind
	maxStore    int
	endTimeComm comm.ID
}

// MakeBuilder creates a builder with splay tree stores that keep up to 1024
// retired nodes.
func MakeBuilder() Builder {
	return Builder{
		queueKind: timertree.KindSplay,
		maxStore:  1024,
	}
}

// WithPartition sets the partition context.
func (b Builder) WithPartition(p *Partition) Builder {
	b.partition = p
	return b
}

// WithChannel sets the channel. A Loopback channel is used if none is set.
func (b Builder) WithChannel(c Channel) Builder {
	b.channel = c
	return b
}

// WithPacer sets the wall-clock pacer.
func (b Builder) WithPacer(p *realtime.Pacer) Builder {
	b.pacer = p
	return b
}

// WithQueueKind selects the event store implementation.
func (b Builder) WithQueueKind(kind timertree.Kind) Builder {
	b.queueKind = kind
	return b
}

// WithMaxStore bounds the node store of each splay tree.
func (b Builder) WithMaxStore(n int) Builder {
	b.maxStore = n
	return b
}

// WithEndTimeCommunicator sets the communicator used to broadcast end time
// changes.
func (b Builder) WithEndTimeCommunicator(id comm.ID) Builder {
	b.endTimeComm = id
	return b
}

// Build creates the scheduler and attaches it to the channel.
func (b Builder) Build() *Scheduler {
	if b.partition == nil {
		logrus.Panic("partition: building a scheduler without a partition")
	}

	if b.channel == nil {
		b.channel = NewLoopback()
	}

	s := &Scheduler{
		HookableBase: sim.NewHookableBase(),
		p:            b.partition,
		channel:      b.channel,
		codec:        b.channel.Codec(),
		pacer:        b.pacer,
		first:        b.mustQueue(),
		nodes:        b.mustQueue(),
		last:         b.mustQueue(),
		handlers:     make(map[sim.LayerID]sim.Handler),
		inbox:        NewInbox(),
		endTimeComm:  b.endTimeComm,
	}

	if err := b.channel.Attach(s); err != nil {
		b.partition.Log.WithError(err).Panic("cannot attach scheduler")
	}

	return s
}

func (b Builder) mustQueue() timertree.Queue {
	q, err := timertree.NewQueue(b.queueKind, b.maxStore)
	if err != nil {
		b.partition.Log.WithError(err).Panic("cannot create event store")
	}

	return q
}
