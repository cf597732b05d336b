package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("EventPool", func() {
	var pool *EventPool

	BeforeEach(func() {
		pool = NewEventPool(2)
	})

	It("should allocate when the free list is empty", func() {
		e := pool.Get()

		Expect(e).NotTo(BeNil())
		Expect(pool.Stats().Allocated).To(Equal(uint64(1)))
	})

	It("should zero events before reuse", func() {
		e := pool.Get()
		e.Target = 7
		e.Time = 100
		e.Layer = 3
		e.Kind = 4
		e.Mode = ModeLoose
		e.Instance = 2
		e.Payload = "payload"
		e.Info = append(e.Info, 1, 2, 3)
		e.MarkRemote()

		pool.Put(e)
		reused := pool.Get()

		Expect(reused).To(BeIdenticalTo(e))
		Expect(reused.Target).To(BeZero())
		Expect(reused.Time).To(BeZero())
		Expect(reused.Layer).To(BeZero())
		Expect(reused.Kind).To(BeZero())
		Expect(reused.Mode).To(Equal(ModeSafe))
		Expect(reused.Instance).To(BeZero())
		Expect(reused.Payload).To(BeNil())
		Expect(reused.Info).To(BeEmpty())
		Expect(reused.Info[:cap(reused.Info)]).To(HaveEach(byte(0)))
		Expect(reused.Remote()).To(BeFalse())
		Expect(reused.Seq()).To(BeZero())
		Expect(reused.Generation()).To(Equal(uint32(1)))
		Expect(pool.Stats().Reused).To(Equal(uint64(1)))
	})

	It("should keep at most maxFree events", func() {
		events := []*Event{pool.Get(), pool.Get(), pool.Get()}
		for _, e := range events {
			pool.Put(e)
		}

		Expect(pool.Stats().Free).To(Equal(2))
		Expect(events[2].Freed()).To(BeTrue())
	})

	It("should panic on double free", func() {
		e := pool.Get()
		pool.Put(e)

		Expect(func() { pool.Put(e) }).To(Panic())
	})

	It("should panic when freeing a scheduled event", func() {
		e := pool.Get()
		e.Admit(1)

		Expect(func() { pool.Put(e) }).To(Panic())
	})

	It("should panic when admitting a freed event", func() {
		e := pool.Get()
		pool.Put(e)

		Expect(func() { e.Admit(1) }).To(Panic())
	})

	Context("references", func() {
		It("should detect recycled events", func() {
			e := pool.Get()
			ref := NewRef(e)

			Expect(ref.Valid()).To(BeTrue())
			Expect(ref.Get()).To(BeIdenticalTo(e))

			pool.Put(e)
			_ = pool.Get()

			Expect(ref.Valid()).To(BeFalse())
			Expect(func() { ref.Get() }).To(Panic())
		})
	})

	Context("leases", func() {
		It("should return the event on release", func() {
			func() {
				l := pool.Lease()
				defer l.Release()

				l.Event().Target = 5
			}()

			Expect(pool.Stats().Free).To(Equal(1))
		})

		It("should not return a transferred event", func() {
			var evt *Event

			func() {
				l := pool.Lease()
				defer l.Release()

				evt = l.Transfer()
			}()

			Expect(pool.Stats().Free).To(Equal(0))
			Expect(evt.Freed()).To(BeFalse())
		})

		It("should return the event on early error paths", func() {
			fill := func() (err error) {
				l := pool.Lease()
				defer l.Release()

				return errFill
			}

			Expect(fill()).To(MatchError(errFill))
			Expect(pool.Stats().Free).To(Equal(1))
		})
	})
})

var errFill = &InvalidTargetError{Reason: "fill failed"}
