package partition

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/sarchlab/pdes/sim"
	"github.com/sarchlab/pdes/sim/serialization"
)

var _ = Describe("Codec", func() {
	var (
		types *serialization.TypeRegistry
		codec *Codec
		evt   *sim.Event
	)

	BeforeEach(func() {
		types = serialization.NewTypeRegistry(serialization.NewJSONCodec())
		types.MustRegisterType(&hop{})
		codec = NewCodec(types)

		evt = &sim.Event{
			Target:   9,
			Time:     12345,
			Layer:    3,
			Kind:     -4,
			Mode:     sim.ModeLoose,
			Instance: 2,
			Payload:  &hop{Count: 5},
			Info:     []byte{0xde, 0xad},
		}
	})

	It("should round trip an event", func() {
		frame, err := codec.Encode(evt)
		Expect(err).NotTo(HaveOccurred())

		got := &sim.Event{}
		Expect(codec.Decode(1, frame, got)).To(Succeed())

		Expect(got.Target).To(Equal(evt.Target))
		Expect(got.Time).To(Equal(evt.Time))
		Expect(got.Layer).To(Equal(evt.Layer))
		Expect(got.Kind).To(Equal(evt.Kind))
		Expect(got.Mode).To(Equal(evt.Mode))
		Expect(got.Instance).To(Equal(evt.Instance))
		Expect(got.Payload).To(Equal(&hop{Count: 5}))
		Expect(got.Info).To(Equal([]byte{0xde, 0xad}))
	})

	It("should round trip an event without payload", func() {
		evt.Payload = nil
		evt.Info = nil

		frame, err := codec.Encode(evt)
		Expect(err).NotTo(HaveOccurred())

		got := &sim.Event{Payload: "stale"}
		Expect(codec.Decode(1, frame, got)).To(Succeed())
		Expect(got.Payload).To(BeNil())
		Expect(got.Info).To(BeEmpty())
	})

	It("should refuse unregistered payloads", func() {
		evt.Payload = struct{}{}

		_, err := codec.Encode(evt)
		Expect(err).To(HaveOccurred())
	})

	DescribeTable("detecting broken framing",
		func(corrupt func([]byte) []byte, field string) {
			frame, err := codec.Encode(evt)
			Expect(err).NotTo(HaveOccurred())

			err = codec.Decode(1, corrupt(frame), &sim.Event{})

			var target *sim.StructuralCorruptionError
			Expect(errors.As(err, &target)).To(BeTrue())
			Expect(target.Field).To(Equal(field))
			Expect(target.Partition).To(Equal(sim.PartitionID(1)))
		},
		Entry("empty frame", func(b []byte) []byte { return nil }, "header"),
		Entry("bad magic", func(b []byte) []byte { b[0] = 'X'; return b }, "magic"),
		Entry("bad version", func(b []byte) []byte { b[2] = 9; return b }, "version"),
		Entry("bad mode", func(b []byte) []byte { b[3] = 7; return b }, "mode"),
		Entry("truncated envelope", func(b []byte) []byte { return b[:10] }, "time"),
		Entry("truncated payload", func(b []byte) []byte { return b[:len(b)-1] }, "payload"),
		Entry("trailing bytes", func(b []byte) []byte { return append(b, 0) }, "frame"),
		Entry("negative time", func(b []byte) []byte { b[15] = 0x80; return b }, "time"),
	)

	It("should treat unknown payload types as corruption", func() {
		frame, err := codec.Encode(evt)
		Expect(err).NotTo(HaveOccurred())

		other := NewCodec(serialization.NewTypeRegistry(serialization.NewJSONCodec()))
		err = other.Decode(1, frame, &sim.Event{})

		Expect(sim.IsStructuralCorruption(err)).To(BeTrue())
	})

	It("should report undecodable payloads as plain errors", func() {
		frame, err := codec.Encode(evt)
		Expect(err).NotTo(HaveOccurred())

		frame[len(frame)-1] = 'x'
		err = codec.Decode(1, frame, &sim.Event{})

		Expect(err).To(HaveOccurred())
		Expect(sim.IsStructuralCorruption(err)).To(BeFalse())
	})
})
