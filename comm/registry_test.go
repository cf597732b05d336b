package comm

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/pdes/sim"
)

var _ = Describe("Registry", func() {
	var (
		mockCtrl *gomock.Controller
		handlerA *MockHandler
		handlerB *MockHandler
		registry *Registry
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		handlerA = NewMockHandler(mockCtrl)
		handlerB = NewMockHandler(mockCtrl)
		registry = NewRegistry()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should assign IDs starting at 1", func() {
		a, err := registry.Register("a", handlerA)
		Expect(err).NotTo(HaveOccurred())
		b, err := registry.Register("b", handlerB)
		Expect(err).NotTo(HaveOccurred())

		Expect(a).To(Equal(ID(1)))
		Expect(b).To(Equal(ID(2)))
		Expect(registry.Len()).To(Equal(2))
		Expect(registry.Names()).To(Equal([]string{"a", "b"}))
	})

	It("should reject registration after freeze", func() {
		_, err := registry.Register("a", handlerA)
		Expect(err).NotTo(HaveOccurred())

		registry.Freeze()
		cid, err := registry.Register("b", handlerB)

		var closed *sim.RegistrationClosedError
		Expect(errors.As(err, &closed)).To(BeTrue())
		Expect(closed.Name).To(Equal("b"))
		Expect(cid).To(Equal(InvalidID))
		Expect(registry.Len()).To(Equal(1))
	})

	It("should panic in MustRegister after freeze", func() {
		registry.Freeze()

		Expect(func() { registry.MustRegister("a", handlerA) }).To(Panic())
	})

	It("should reject duplicated names and nil handlers", func() {
		registry.MustRegister("a", handlerA)

		_, err := registry.Register("a", handlerB)
		Expect(err).To(HaveOccurred())

		_, err = registry.Register("c", nil)
		Expect(err).To(HaveOccurred())
	})

	It("should look up names and IDs", func() {
		cid := registry.MustRegister("duration", handlerA)

		found, ok := registry.Lookup("duration")
		Expect(ok).To(BeTrue())
		Expect(found).To(Equal(cid))
		Expect(registry.Name(cid)).To(Equal("duration"))

		_, ok = registry.Lookup("missing")
		Expect(ok).To(BeFalse())
		Expect(registry.Name(42)).To(Equal("communicator(42)"))
	})

	It("should dispatch to the registered handler", func() {
		registry.MustRegister("a", handlerA)
		b := registry.MustRegister("b", handlerB)
		registry.Freeze()

		evt := &sim.Event{Time: 10}
		handlerB.EXPECT().Handle(sim.PartitionID(3), evt).Return(nil)

		Expect(registry.Dispatch(3, b, evt)).To(Succeed())
	})

	It("should pass handler errors through", func() {
		a := registry.MustRegister("a", handlerA)
		handlerA.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(errors.New("bad"))

		Expect(registry.Dispatch(0, a, &sim.Event{})).
			To(MatchError(ContainSubstring("bad")))
	})

	It("should treat unknown IDs as corruption", func() {
		registry.MustRegister("a", handlerA)
		registry.Freeze()

		err := registry.Dispatch(1, InvalidID, &sim.Event{})
		Expect(sim.IsStructuralCorruption(err)).To(BeTrue())

		err = registry.Dispatch(1, 7, &sim.Event{})
		var corrupted *sim.StructuralCorruptionError
		Expect(errors.As(err, &corrupted)).To(BeTrue())
		Expect(corrupted.Partition).To(Equal(sim.PartitionID(1)))
	})

	It("should dispatch concurrently after freeze", func() {
		var mu sync.Mutex
		count := 0
		cid := registry.MustRegister("count", HandlerFunc(func(sim.PartitionID, *sim.Event) error {
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		}))
		registry.Freeze()

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				for j := 0; j < 100; j++ {
					Expect(registry.Dispatch(0, cid, &sim.Event{})).To(Succeed())
				}
			}()
		}
		wg.Wait()

		Expect(count).To(Equal(800))
	})
})
