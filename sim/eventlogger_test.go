package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var _ = Describe("EventLogger", func() {
	var (
		hook   *test.Hook
		logger *EventLogger
		evt    *Event
	)

	BeforeEach(func() {
		base, h := test.NewNullLogger()
		base.SetLevel(logrus.DebugLevel)
		hook = h
		logger = NewEventLogger(logrus.NewEntry(base))
		evt = &Event{Target: 3, Time: 10, Layer: 1, Kind: 2}
	})

	It("should log dispatched events", func() {
		logger.Func(HookCtx{Pos: HookPosBeforeEvent, Item: evt})

		Expect(hook.Entries).To(HaveLen(1))
		entry := hook.LastEntry()
		Expect(entry.Message).To(Equal("dispatch"))
		Expect(entry.Level).To(Equal(logrus.DebugLevel))
		Expect(entry.Data["target"]).To(Equal(NodeID(3)))
		Expect(entry.Data["time"]).To(Equal(VTime(10)))
	})

	It("should log dropped events with the reason", func() {
		logger.Func(HookCtx{
			Pos:    HookPosEventDropped,
			Item:   evt,
			Detail: "draining",
		})

		Expect(hook.LastEntry().Message).To(Equal("drop"))
		Expect(hook.LastEntry().Data["reason"]).To(Equal("draining"))
	})

	It("should ignore other positions and items", func() {
		logger.Func(HookCtx{Pos: HookPosAfterEvent, Item: evt})
		logger.Func(HookCtx{Pos: HookPosBeforeEvent, Item: VTime(1)})

		Expect(hook.Entries).To(BeEmpty())
	})
})
