package partition

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gmeasure"

	"github.com/sarchlab/pdes/comm"
	"github.com/sarchlab/pdes/sim"
	"github.com/sarchlab/pdes/timertree"
)

var _ = Describe("Scheduler throughput", func() {
	const numEvents = 10000

	build := func(kind timertree.Kind) (*Scheduler, *int) {
		topo := sim.NewTopology(1)
		Expect(topo.Assign(1, 0)).To(Succeed())
		topo.Freeze()

		registry := comm.NewRegistry()
		registry.Freeze()

		s := MakeBuilder().
			WithPartition(NewPartition(0, topo, registry, sim.MaxTime, 16)).
			WithQueueKind(kind).
			Build()

		dispatched := 0
		s.RegisterHandler(protoLayer, sim.HandlerFunc(func(*sim.Event) error {
			dispatched++
			return nil
		}))

		return s, &dispatched
	}

	for _, kind := range []timertree.Kind{timertree.KindSplay, timertree.KindHeap} {
		kind := kind
		It("measure dispatching speed with the "+string(kind)+" queue", func() {
			experiment := gmeasure.NewExperiment(
				"Scheduler Dispatching Speed (" + string(kind) + ")")
			AddReportEntry(experiment.Name, experiment)

			experiment.Sample(func(int) {
				s, dispatched := build(kind)
				rng := rand.New(rand.NewSource(1))

				for i := 0; i < numEvents; i++ {
					delay := sim.VTime(rng.Int63n(1000))
					s.ScheduleLocal(1, newEvent(s, i), delay)
				}

				experiment.MeasureDuration("runtime", func() {
					Expect(s.Run()).To(Succeed())
				})
				Expect(*dispatched).To(Equal(numEvents))
			}, gmeasure.SamplingConfig{N: 3})
		})
	}
})
