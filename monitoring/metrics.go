package monitoring

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sarchlab/pdes/sim"
)

// Metrics exposes the scheduler counters as Prometheus metrics. All the
// metrics carry a "partition" label.
type Metrics struct {
	gatherer prometheus.Gatherer

	Dispatched *prometheus.CounterVec
	Failed     *prometheus.CounterVec
	Dropped    *prometheus.CounterVec
	CrossSent  *prometheus.CounterVec
	Now        *prometheus.GaugeVec
	SafeTime   *prometheus.GaugeVec
}

// NewMetrics registers the scheduler metrics against the provided
// registerer. A nil registerer means the default one.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{gatherer: gatherer}

	var err error
	m.Dispatched, err = registerCounterVec(reg,
		"pdes_events_dispatched_total",
		"Events handed to a handler.")
	if err != nil {
		return nil, err
	}

	m.Failed, err = registerCounterVec(reg,
		"pdes_events_failed_total",
		"Events whose handler returned an error.")
	if err != nil {
		return nil, err
	}

	m.Dropped, err = registerCounterVec(reg,
		"pdes_events_dropped_total",
		"Events discarded without being handled.")
	if err != nil {
		return nil, err
	}

	m.CrossSent, err = registerCounterVec(reg,
		"pdes_events_cross_sent_total",
		"Events sent to another partition.")
	if err != nil {
		return nil, err
	}

	m.Now, err = registerGaugeVec(reg,
		"pdes_simulation_time_seconds",
		"Time of the last dispatched event.")
	if err != nil {
		return nil, err
	}

	m.SafeTime, err = registerGaugeVec(reg,
		"pdes_safe_time_seconds",
		"Time up to which the partition may dispatch.")
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Gatherer returns the Prometheus gatherer associated with the metrics.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.gatherer
}

// Hook returns a hook that updates the metrics of a partition.
func (m *Metrics) Hook(p sim.PartitionID) sim.Hook {
	label := prometheus.Labels{"partition": strconv.Itoa(int(p))}

	return &metricsHook{
		dispatched: m.Dispatched.With(label),
		failed:     m.Failed.With(label),
		dropped:    m.Dropped.With(label),
		sent:       m.CrossSent.With(label),
		now:        m.Now.With(label),
		safe:       m.SafeTime.With(label),
	}
}

type metricsHook struct {
	dispatched prometheus.Counter
	failed     prometheus.Counter
	dropped    prometheus.Counter
	sent       prometheus.Counter
	now        prometheus.Gauge
	safe       prometheus.Gauge
}

func (h *metricsHook) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case sim.HookPosAfterEvent:
		h.dispatched.Inc()
		if err, _ := ctx.Detail.(error); err != nil {
			h.failed.Inc()
		}
		h.now.Set(ctx.Now.Seconds())
	case sim.HookPosEventDropped:
		h.dropped.Inc()
	case sim.HookPosCrossSend:
		h.sent.Inc()
	case sim.HookPosSafeTimeAdvanced:
		if t, ok := ctx.Item.(sim.VTime); ok && t != sim.MaxTime {
			h.safe.Set(t.Seconds())
		}
	}
}

func registerCounterVec(
	reg prometheus.Registerer,
	name, help string,
) (*prometheus.CounterVec, error) {
	c := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: name, Help: help},
		[]string{"partition"},
	)

	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, errors.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}

	return c, nil
}

func registerGaugeVec(
	reg prometheus.Registerer,
	name, help string,
) (*prometheus.GaugeVec, error) {
	g := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: name, Help: help},
		[]string{"partition"},
	)

	if err := reg.Register(g); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, errors.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}

	return g, nil
}
