package tracing

import (
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/pdes/comm"
	"github.com/sarchlab/pdes/partition"
	"github.com/sarchlab/pdes/sim"
)

type memoryWriter struct {
	mu      sync.Mutex
	records []Record
}

func (w *memoryWriter) Init() {}

func (w *memoryWriter) Write(r Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, r)
}

func (w *memoryWriter) Flush() {}

func (w *memoryWriter) Records() []Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Record(nil), w.records...)
}

var _ = Describe("EventTracer", func() {
	var (
		mockCtrl *gomock.Controller
		writer   *MockTraceWriter
		tracer   *EventTracer
		evt      *sim.Event
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		writer = NewMockTraceWriter(mockCtrl)
		tracer = NewEventTracer(2, writer, nil)

		evt = &sim.Event{
			Target:   7,
			Time:     120,
			Layer:    3,
			Kind:     4,
			Mode:     sim.ModeLoose,
			Instance: 9,
		}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should record a dispatch", func() {
		writer.EXPECT().Write(Record{
			Partition: 2,
			What:      WhatDispatch,
			Now:       120,
			Time:      120,
			Target:    7,
			Layer:     3,
			Kind:      4,
			Mode:      sim.ModeLoose,
			Instance:  9,
			Dest:      NoPartition,
		})

		tracer.Func(sim.HookCtx{
			Now:  120,
			Pos:  sim.HookPosAfterEvent,
			Item: evt,
		})
	})

	It("should record a failed dispatch with the error", func() {
		writer.EXPECT().Write(gomock.Any()).Do(func(r Record) {
			Expect(r.What).To(Equal(WhatFail))
			Expect(r.Detail).To(Equal("boom"))
		})

		tracer.Func(sim.HookCtx{
			Now:    120,
			Pos:    sim.HookPosAfterEvent,
			Item:   evt,
			Detail: errors.New("boom"),
		})
	})

	It("should record a drop with the reason", func() {
		writer.EXPECT().Write(gomock.Any()).Do(func(r Record) {
			Expect(r.What).To(Equal(WhatDrop))
			Expect(r.Now).To(Equal(sim.VTime(100)))
			Expect(r.Detail).To(Equal("gone"))
		})

		tracer.Func(sim.HookCtx{
			Now:    100,
			Pos:    sim.HookPosEventDropped,
			Item:   evt,
			Detail: errors.New("gone"),
		})
	})

	It("should record the destination of a send", func() {
		writer.EXPECT().Write(gomock.Any()).Do(func(r Record) {
			Expect(r.What).To(Equal(WhatSend))
			Expect(r.Dest).To(Equal(sim.PartitionID(5)))
		})

		tracer.Func(sim.HookCtx{
			Now:    100,
			Pos:    sim.HookPosCrossSend,
			Item:   evt,
			Detail: sim.PartitionID(5),
		})
	})

	It("should ignore other positions", func() {
		tracer.Func(sim.HookCtx{Pos: sim.HookPosBeforeEvent, Item: evt})
		tracer.Func(sim.HookCtx{Pos: sim.HookPosSafeTimeAdvanced, Item: sim.VTime(3)})
	})

	It("should skip filtered records", func() {
		tracer = NewEventTracer(2, writer, func(r Record) bool {
			return r.What == WhatDrop
		})

		writer.EXPECT().Write(gomock.Any()).Times(1)

		tracer.Func(sim.HookCtx{Pos: sim.HookPosAfterEvent, Item: evt})
		tracer.Func(sim.HookCtx{Pos: sim.HookPosEventDropped, Item: evt})
	})
})

var _ = Describe("CollectTrace", func() {
	It("should trace the dispatches of a scheduler", func() {
		topo := sim.NewTopology(1)
		Expect(topo.Assign(1, 0)).To(Succeed())
		topo.Freeze()

		registry := comm.NewRegistry()
		registry.Freeze()

		p := partition.NewPartition(0, topo, registry, sim.MaxTime, 16)
		s := partition.MakeBuilder().WithPartition(p).Build()
		s.RegisterHandler(0, sim.HandlerFunc(func(*sim.Event) error {
			return nil
		}))

		writer := &memoryWriter{}
		CollectTrace(s, writer, nil)

		for i, delay := range []sim.VTime{20, 10} {
			evt := p.NewEvent()
			evt.Instance = i
			s.ScheduleLocal(1, evt, delay)
		}

		Expect(s.Run()).To(Succeed())

		records := writer.Records()
		Expect(records).To(HaveLen(2))
		Expect(records[0].Time).To(Equal(sim.VTime(10)))
		Expect(records[0].Instance).To(Equal(1))
		Expect(records[1].Time).To(Equal(sim.VTime(20)))
		for _, r := range records {
			Expect(r.What).To(Equal(WhatDispatch))
			Expect(r.Partition).To(Equal(sim.PartitionID(0)))
		}
	})
})
