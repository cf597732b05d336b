package tracing

import (
	"fmt"

	"github.com/sarchlab/pdes/sim"
)

// A Domain is a hookable object that belongs to one partition.
type Domain interface {
	sim.Hookable
	ID() sim.PartitionID
}

// EventTracer is a hook that turns dispatches, drops, and cross-partition
// sends into records.
type EventTracer struct {
	partition sim.PartitionID
	writer    TraceWriter
	filter    RecordFilter
}

// NewEventTracer creates an EventTracer that writes the records of the
// given partition.
func NewEventTracer(
	partition sim.PartitionID,
	writer TraceWriter,
	filter RecordFilter,
) *EventTracer {
	return &EventTracer{
		partition: partition,
		writer:    writer,
		filter:    filter,
	}
}

// CollectTrace attaches a new EventTracer to the domain.
func CollectTrace(
	domain Domain,
	writer TraceWriter,
	filter RecordFilter,
) *EventTracer {
	t := NewEventTracer(domain.ID(), writer, filter)
	domain.AcceptHook(t)

	return t
}

// Func records the event carried by the hook context.
func (t *EventTracer) Func(ctx sim.HookCtx) {
	evt, ok := ctx.Item.(*sim.Event)
	if !ok {
		return
	}

	var r Record

	switch ctx.Pos {
	case sim.HookPosAfterEvent:
		r = makeRecord(t.partition, WhatDispatch, ctx.Now, evt)
		if err, _ := ctx.Detail.(error); err != nil {
			r.What = WhatFail
			r.Detail = err.Error()
		}
	case sim.HookPosEventDropped:
		r = makeRecord(t.partition, WhatDrop, ctx.Now, evt)
		if ctx.Detail != nil {
			r.Detail = fmt.Sprint(ctx.Detail)
		}
	case sim.HookPosCrossSend:
		r = makeRecord(t.partition, WhatSend, ctx.Now, evt)
		if dest, ok := ctx.Detail.(sim.PartitionID); ok {
			r.Dest = dest
		}
	default:
		return
	}

	if t.filter != nil && !t.filter(r) {
		return
	}

	t.writer.Write(r)
}
