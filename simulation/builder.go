package simulation

import (
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/pdes/comm"
	"github.com/sarchlab/pdes/monitoring"
	"github.com/sarchlab/pdes/partition"
	"github.com/sarchlab/pdes/realtime"
	"github.com/sarchlab/pdes/sim"
	"github.com/sarchlab/pdes/sim/serialization"
	"github.com/sarchlab/pdes/tracing"
)

type namedCommunicator struct {
	name    string
	handler comm.Handler
}

// Builder can be used to build a simulation.
type Builder struct {
	config        Config
	topology      *sim.Topology
	types         *serialization.TypeRegistry
	communicators []namedCommunicator
	traceWriter   tracing.TraceWriter
	traceFilter   tracing.RecordFilter
}

// MakeBuilder creates a new builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b Builder) WithConfig(cfg Config) Builder {
	b.config = cfg
	return b
}

// WithTopology sets the node to partition assignment. Without a topology,
// every partition owns no node and only partition-level events can run.
func (b Builder) WithTopology(t *sim.Topology) Builder {
	b.topology = t
	return b
}

// WithTypeRegistry sets the payload types that can cross partitions when
// events are serialized.
func (b Builder) WithTypeRegistry(types *serialization.TypeRegistry) Builder {
	b.types = types
	return b
}

// WithCommunicator registers a named communicator. Communicators are
// registered in order, after the end time communicator.
func (b Builder) WithCommunicator(name string, h comm.Handler) Builder {
	b.communicators = append(append([]namedCommunicator(nil),
		b.communicators...), namedCommunicator{name: name, handler: h})
	return b
}

// WithTraceWriter sets a trace writer, overriding the configured backend.
func (b Builder) WithTraceWriter(w tracing.TraceWriter) Builder {
	b.traceWriter = w
	return b
}

// WithTraceFilter sets which records are traced.
func (b Builder) WithTraceFilter(f tracing.RecordFilter) Builder {
	b.traceFilter = f
	return b
}

// Build builds the simulation.
func (b Builder) Build() (*Simulation, error) {
	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	s := &Simulation{
		id:       xid.New().String(),
		config:   cfg,
		topology: b.topology,
		registry: comm.NewRegistry(),
		types:    b.types,
	}
	s.log = logrus.WithField("simulation", s.id)

	if s.topology == nil {
		s.topology = sim.NewTopology(cfg.Partitions)
	}
	if s.topology.NumPartitions() != cfg.Partitions {
		return nil, errors.Errorf(
			"topology has %d partitions, config has %d",
			s.topology.NumPartitions(), cfg.Partitions)
	}
	s.topology.Freeze()

	if err := b.registerCommunicators(s); err != nil {
		return nil, err
	}

	codec, err := b.codec(s)
	if err != nil {
		return nil, err
	}

	s.buildSchedulers(codec)

	b.attachTracing(s)
	b.attachMonitoring(s)

	return s, nil
}

func (b Builder) registerCommunicators(s *Simulation) error {
	cid, err := partition.RegisterEndTimeCommunicator(s.registry, s.Scheduler)
	if err != nil {
		return err
	}
	s.endTimeComm = cid

	for _, c := range b.communicators {
		if _, err := s.registry.Register(c.name, c.handler); err != nil {
			return err
		}
	}

	s.registry.Freeze()

	return nil
}

func (b Builder) codec(s *Simulation) (*partition.Codec, error) {
	if !s.config.Serialize || s.config.Partitions == 1 {
		return nil, nil
	}

	if s.types == nil {
		s.types = serialization.NewTypeRegistry(serialization.NewJSONCodec())
	}

	if _, ok := s.types.TypeName(&partition.EndTimeMessage{}); !ok {
		if err := s.types.RegisterType(&partition.EndTimeMessage{}); err != nil {
			return nil, err
		}
	}

	return partition.NewCodec(s.types), nil
}

func (s *Simulation) buildSchedulers(codec *partition.Codec) {
	cfg := s.config

	var mesh *partition.Mesh
	if cfg.Partitions > 1 {
		mesh = partition.NewMesh(cfg.Partitions, cfg.Lookahead, codec)
		s.channel = mesh
	}

	for i := 0; i < cfg.Partitions; i++ {
		p := partition.NewPartition(sim.PartitionID(i), s.topology,
			s.registry, cfg.EndTime(), cfg.PoolMaxFree)

		var ch partition.Channel = mesh
		if mesh == nil {
			ch = partition.NewLoopback()
			s.channel = ch
		}

		pacer := realtime.MakeBuilder().
			WithEnabled(cfg.RealTime.Enabled).
			WithScale(cfg.RealTime.Scale).
			WithTolerance(cfg.RealTime.Tolerance).
			WithBusyWait(cfg.RealTime.BusyWait).
			Build()

		scheduler := partition.MakeBuilder().
			WithPartition(p).
			WithChannel(ch).
			WithPacer(pacer).
			WithQueueKind(cfg.QueueKind).
			WithMaxStore(cfg.MaxStore).
			WithEndTimeCommunicator(s.endTimeComm).
			Build()

		s.schedulers = append(s.schedulers, scheduler)
	}
}

func (b Builder) attachTracing(s *Simulation) {
	if s.config.Tracing.LogEvents {
		for _, scheduler := range s.schedulers {
			scheduler.AcceptHook(sim.NewEventLogger(
				logrus.WithField("partition", scheduler.ID())))
		}
	}

	w := b.traceWriter
	if w == nil {
		switch s.config.Tracing.Backend {
		case TraceCSV:
			w = tracing.NewCSVTraceWriter(s.config.Tracing.Path)
		case TraceSQLite:
			w = tracing.NewSQLiteTraceWriter(s.config.Tracing.Path)
		default:
			return
		}
	}

	w.Init()
	s.traceWriter = w

	for _, scheduler := range s.schedulers {
		tracing.CollectTrace(scheduler, w, b.traceFilter)
	}
}

func (b Builder) attachMonitoring(s *Simulation) {
	cfg := s.config.Monitoring
	if !cfg.Enabled {
		return
	}

	s.monitor = monitoring.NewMonitor().
		WithPortNumber(cfg.Port).
		WithBrowser(cfg.OpenBrowser).
		WithStreamInterval(cfg.StreamInterval)

	for _, scheduler := range s.schedulers {
		s.monitor.RegisterScheduler(scheduler)
	}

	if end := s.config.EndTime(); end != sim.MaxTime {
		s.monitor.TrackSimulatedTime(end)
	}

	s.monitor.StartServer()
}
