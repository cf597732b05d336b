package partition

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/sarchlab/pdes/sim"
	"github.com/sarchlab/pdes/sim/serialization"
)

const (
	frameMagic0  = 'P'
	frameMagic1  = 'D'
	frameVersion = 1

	// magic(2) version(1) mode(1) target(4) time(8) layer(4) kind(4)
	// instance(4)
	frameHeaderLen = 28
)

// A Codec frames events that cross partitions.
//
// A frame is the little-endian envelope, followed by the info block, the
// payload type name, and the encoded payload, each prefixed by its length.
// Payload types must be registered in the type registry.
type Codec struct {
	types *serialization.TypeRegistry
}

// NewCodec creates a codec that encodes payloads through types.
func NewCodec(types *serialization.TypeRegistry) *Codec {
	return &Codec{types: types}
}

// Encode frames an event.
func (c *Codec) Encode(evt *sim.Event) ([]byte, error) {
	var (
		typeName string
		payload  []byte
	)

	if evt.Payload != nil {
		var err error

		typeName, payload, err = c.types.Encode(evt.Payload)
		if err != nil {
			return nil, err
		}
	}

	if len(typeName) > 0xffff {
		return nil, errors.Errorf("payload type name too long: %d",
			len(typeName))
	}

	buf := make([]byte, 0,
		frameHeaderLen+4+len(evt.Info)+2+len(typeName)+4+len(payload))

	buf = append(buf, frameMagic0, frameMagic1, frameVersion, byte(evt.Mode))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(evt.Target))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(evt.Time))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(evt.Layer)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(evt.Kind)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(evt.Instance)))

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(evt.Info)))
	buf = append(buf, evt.Info...)

	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(typeName)))
	buf = append(buf, typeName...)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)

	return buf, nil
}

type frameReader struct {
	buf  []byte
	part sim.PartitionID
	err  error
}

func (r *frameReader) corrupt(field, format string, args ...any) {
	if r.err != nil {
		return
	}

	r.err = errors.WithStack(&sim.StructuralCorruptionError{
		Partition: r.part,
		Field:     field,
		Detail:    fmt.Sprintf(format, args...),
	})
}

func (r *frameReader) bytes(field string, n int) []byte {
	if r.err != nil {
		return nil
	}

	if n > len(r.buf) {
		r.corrupt(field, "needs %d bytes, %d left", n, len(r.buf))
		return nil
	}

	b := r.buf[:n]
	r.buf = r.buf[n:]

	return b
}

func (r *frameReader) u16(field string) uint16 {
	b := r.bytes(field, 2)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint16(b)
}

func (r *frameReader) u32(field string) uint32 {
	b := r.bytes(field, 4)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint32(b)
}

func (r *frameReader) u64(field string) uint64 {
	b := r.bytes(field, 8)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint64(b)
}

// Decode rebuilds a framed event into evt on partition dst. Broken framing
// is reported as a StructuralCorruptionError. A payload that does not decode
// is reported as a plain error, since only that event is affected.
func (c *Codec) Decode(dst sim.PartitionID, frame []byte, evt *sim.Event) error {
	r := &frameReader{buf: frame, part: dst}

	head := r.bytes("header", 4)
	if r.err != nil {
		return r.err
	}

	if head[0] != frameMagic0 || head[1] != frameMagic1 {
		r.corrupt("magic", "got %q", head[:2])
		return r.err
	}

	if head[2] != frameVersion {
		r.corrupt("version", "got %d, want %d", head[2], frameVersion)
		return r.err
	}

	mode := sim.SchedulingMode(head[3])
	if mode != sim.ModeSafe && mode != sim.ModeLoose {
		r.corrupt("mode", "got %d", head[3])
		return r.err
	}

	target := sim.NodeID(r.u32("target"))
	t := sim.VTime(r.u64("time"))
	layer := sim.LayerID(int32(r.u32("layer")))
	kind := sim.EventKind(int32(r.u32("kind")))
	instance := int(int32(r.u32("instance")))

	info := r.bytes("info", int(r.u32("info length")))
	typeName := r.bytes("payload type", int(r.u16("payload type length")))
	payload := r.bytes("payload", int(r.u32("payload length")))

	if r.err == nil && len(r.buf) != 0 {
		r.corrupt("frame", "%d trailing bytes", len(r.buf))
	}

	if r.err != nil {
		return r.err
	}

	if t < 0 {
		r.corrupt("time", "negative time %d", t)
		return r.err
	}

	evt.Target = target
	evt.Time = t
	evt.Layer = layer
	evt.Kind = kind
	evt.Mode = mode
	evt.Instance = instance
	evt.Info = append(evt.Info[:0], info...)
	evt.Payload = nil

	if len(typeName) == 0 {
		return nil
	}

	v, err := c.types.Decode(string(typeName), payload)
	if errors.Is(err, serialization.ErrUnknownType) {
		r.corrupt("payload type", "%s", err)
		return r.err
	}

	if err != nil {
		return errors.Wrapf(err, "partition %d", dst)
	}

	evt.Payload = v

	return nil
}
