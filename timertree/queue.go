// Package timertree provides the time-ordered event stores of a partition:
// a splay tree with a node store, and a binary heap.
package timertree

import (
	"github.com/pkg/errors"
	"github.com/sarchlab/pdes/sim"
)

// Queue is a store of events ordered by time, then by sequence number.
//
// Queues are owned by one partition and are not safe for concurrent use.
type Queue interface {
	Push(evt *sim.Event)
	Pop() *sim.Event
	Peek() *sim.Event
	Len() int
}

// Kind names a Queue implementation.
type Kind string

// Queue implementations.
const (
	KindSplay Kind = "splay"
	KindHeap  Kind = "heap"
)

// NewQueue creates a queue of the given kind. maxStore bounds the node
// store of a splay tree and is ignored by the heap.
func NewQueue(kind Kind, maxStore int) (Queue, error) {
	switch kind {
	case KindSplay, "":
		return New(maxStore), nil
	case KindHeap:
		return NewHeap(), nil
	default:
		return nil, errors.Errorf("unknown event queue kind %q", kind)
	}
}

func eventBefore(a, b *sim.Event) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}

	return a.Seq() < b.Seq()
}
