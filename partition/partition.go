// Package partition runs one independently scheduled shard of a simulation.
//
// A Scheduler owns the event stores, the clock, and the event pool of its
// partition and is driven by a single goroutine. Partitions talk to each
// other only through a Channel: the Loopback channel for single-partition
// runs, or the Mesh channel for several partitions in one process.
package partition

import (
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/pdes/comm"
	"github.com/sarchlab/pdes/sim"
)

// A Partition is the context that every kernel call of one partition works
// on. It is created before the simulation starts and passed explicitly to
// the scheduler.
type Partition struct {
	ID       sim.PartitionID
	Clock    *sim.Clock
	Pool     *sim.EventPool
	Topology *sim.Topology
	Registry *comm.Registry
	Log      *logrus.Entry
}

// NewPartition creates the context of partition id. The registry is shared
// by every partition of the simulation.
func NewPartition(
	id sim.PartitionID,
	topology *sim.Topology,
	registry *comm.Registry,
	maxSimClock sim.VTime,
	poolMaxFree int,
) *Partition {
	if !topology.ValidPartition(id) {
		logrus.Panicf("partition: id %d out of range [0, %d)",
			id, topology.NumPartitions())
	}

	return &Partition{
		ID:       id,
		Clock:    sim.NewClock(maxSimClock),
		Pool:     sim.NewEventPool(poolMaxFree),
		Topology: topology,
		Registry: registry,
		Log:      logrus.WithField("partition", id),
	}
}

// NewEvent takes an event from the pool of the partition.
func (p *Partition) NewEvent() *sim.Event {
	return p.Pool.Get()
}
