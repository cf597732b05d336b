package tracing

import (
	"github.com/sarchlab/pdes/sim"
)

// What a Record describes.
const (
	WhatDispatch = "dispatch"
	WhatFail     = "fail"
	WhatDrop     = "drop"
	WhatSend     = "send"
)

// NoPartition marks the Dest of a record that did not leave its partition.
const NoPartition sim.PartitionID = -1

// A Record is one traced occurrence of an event in a partition.
type Record struct {
	Partition sim.PartitionID    `json:"partition"`
	What      string             `json:"what"`
	Now       sim.VTime          `json:"now"`
	Time      sim.VTime          `json:"time"`
	Seq       uint64             `json:"seq"`
	Target    sim.NodeID         `json:"target"`
	Layer     sim.LayerID        `json:"layer"`
	Kind      sim.EventKind      `json:"kind"`
	Mode      sim.SchedulingMode `json:"mode"`
	Instance  int                `json:"instance"`
	Remote    bool               `json:"remote"`
	Dest      sim.PartitionID    `json:"dest"`
	Detail    string             `json:"detail"`
}

func makeRecord(
	p sim.PartitionID,
	what string,
	now sim.VTime,
	evt *sim.Event,
) Record {
	return Record{
		Partition: p,
		What:      what,
		Now:       now,
		Time:      evt.Time,
		Seq:       evt.Seq(),
		Target:    evt.Target,
		Layer:     evt.Layer,
		Kind:      evt.Kind,
		Mode:      evt.Mode,
		Instance:  evt.Instance,
		Remote:    evt.Remote(),
		Dest:      NoPartition,
	}
}

// RecordFilter selects the records worth keeping. A record is written when
// the filter returns true.
type RecordFilter func(r Record) bool

// A TraceWriter persists records. Writers are shared by all partitions and
// must accept concurrent writes.
type TraceWriter interface {
	Init()
	Write(r Record)
	Flush()
}
