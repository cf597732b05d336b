package simulation

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/pdes/comm"
	"github.com/sarchlab/pdes/monitoring"
	"github.com/sarchlab/pdes/partition"
	"github.com/sarchlab/pdes/sim"
	"github.com/sarchlab/pdes/sim/serialization"
	"github.com/sarchlab/pdes/tracing"
)

// A Simulation owns the partitions of one run and the services around
// them.
type Simulation struct {
	id     string
	config Config
	log    *logrus.Entry

	topology    *sim.Topology
	registry    *comm.Registry
	types       *serialization.TypeRegistry
	endTimeComm comm.ID

	channel    partition.Channel
	schedulers []*partition.Scheduler

	monitor     *monitoring.Monitor
	traceWriter tracing.TraceWriter

	runLock    sync.Mutex
	terminated bool
}

// ID returns the unique ID of the run.
func (s *Simulation) ID() string {
	return s.id
}

// Config returns the configuration the simulation was built with.
func (s *Simulation) Config() Config {
	return s.config
}

// NumPartitions returns the number of partitions.
func (s *Simulation) NumPartitions() int {
	return len(s.schedulers)
}

// Scheduler returns the scheduler of a partition, or nil if there is no
// such partition.
func (s *Simulation) Scheduler(p sim.PartitionID) *partition.Scheduler {
	if p < 0 || int(p) >= len(s.schedulers) {
		return nil
	}

	return s.schedulers[p]
}

// Schedulers returns the schedulers of all the partitions.
func (s *Simulation) Schedulers() []*partition.Scheduler {
	return s.schedulers
}

// Topology returns the node to partition assignment.
func (s *Simulation) Topology() *sim.Topology {
	return s.topology
}

// Registry returns the communicator registry.
func (s *Simulation) Registry() *comm.Registry {
	return s.registry
}

// Types returns the payload types used to serialize cross-partition events.
// It is nil when events are not serialized and no registry was given.
func (s *Simulation) Types() *serialization.TypeRegistry {
	return s.types
}

// Channel returns the cross-partition channel.
func (s *Simulation) Channel() partition.Channel {
	return s.channel
}

// Monitor returns the monitor, nil when monitoring is disabled.
func (s *Simulation) Monitor() *monitoring.Monitor {
	return s.monitor
}

// TraceWriter returns the trace writer, nil when tracing is disabled.
func (s *Simulation) TraceWriter() tracing.TraceWriter {
	return s.traceWriter
}

// Now returns the time of the slowest partition.
func (s *Simulation) Now() sim.VTime {
	now := sim.MaxTime
	for _, scheduler := range s.schedulers {
		now = min(now, scheduler.CurrentTime())
	}

	return now
}

// Pause stops every partition from dispatching events.
func (s *Simulation) Pause() {
	for _, scheduler := range s.schedulers {
		scheduler.Pause()
	}
}

// Continue resumes every paused partition.
func (s *Simulation) Continue() {
	for _, scheduler := range s.schedulers {
		scheduler.Continue()
	}
}

// RequestEnd asks the simulation to end at the given time. Partition 0
// takes the request and tells the other partitions. A negative time ends
// the simulation as soon as possible.
func (s *Simulation) RequestEnd(at sim.VTime) {
	if at < 0 {
		at = s.Now() + 1
	}

	s.schedulers[0].RequestEndSimulation(at)
}

// Run runs every partition in its own goroutine until the simulation ends.
// Cancelling the context requests the end of the simulation as soon as
// possible. The first partition error is returned.
func (s *Simulation) Run(ctx context.Context) error {
	s.runLock.Lock()
	defer s.runLock.Unlock()

	start := time.Now()
	s.log.WithField("partitions", len(s.schedulers)).Info("simulation started")

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.log.Info("cancelled, ending the simulation")
			s.RequestEnd(-1)
		case <-finished:
		}
	}()

	errs := make([]error, len(s.schedulers))

	var wg sync.WaitGroup
	for i, scheduler := range s.schedulers {
		wg.Add(1)
		go func(i int, scheduler *partition.Scheduler) {
			defer wg.Done()
			errs[i] = scheduler.Run()
		}(i, scheduler)
	}

	wg.Wait()
	close(finished)

	s.log.WithFields(logrus.Fields{
		"now":       s.Now(),
		"wall_time": time.Since(start),
	}).Info("simulation finished")

	for i, err := range errs {
		if err != nil {
			return errors.Wrapf(err, "partition %d", i)
		}
	}

	return nil
}

// Stats returns the counters of every partition.
func (s *Simulation) Stats() []partition.Stats {
	stats := make([]partition.Stats, 0, len(s.schedulers))
	for _, scheduler := range s.schedulers {
		stats = append(stats, scheduler.Stats())
	}

	return stats
}

// Terminate flushes the traces and stops the monitoring server.
func (s *Simulation) Terminate() {
	s.runLock.Lock()
	defer s.runLock.Unlock()

	if s.terminated {
		return
	}
	s.terminated = true

	if s.traceWriter != nil {
		s.traceWriter.Flush()
	}

	if s.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := s.monitor.StopServer(ctx); err != nil {
			s.log.WithError(err).Warn("cannot stop the monitoring server")
		}
	}
}
