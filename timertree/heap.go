package timertree

import (
	"container/heap"

	"github.com/sarchlab/pdes/sim"
)

// Heap is a binary heap of events keyed by (Time, Seq).
type Heap struct {
	events eventHeap
}

// NewHeap creates an empty Heap.
func NewHeap() *Heap {
	h := &Heap{}
	h.events = make([]*sim.Event, 0)
	heap.Init(&h.events)
	return h
}

// Push adds an event.
func (h *Heap) Push(evt *sim.Event) {
	heap.Push(&h.events, evt)
}

// Pop removes and returns the earliest event, or nil if the heap is empty.
func (h *Heap) Pop() *sim.Event {
	if h.events.Len() == 0 {
		return nil
	}

	return heap.Pop(&h.events).(*sim.Event)
}

// Peek returns the earliest event without removing it, or nil if the heap is
// empty.
func (h *Heap) Peek() *sim.Event {
	if h.events.Len() == 0 {
		return nil
	}

	return h.events[0]
}

// Len returns the number of events in the heap.
func (h *Heap) Len() int {
	return h.events.Len()
}

type eventHeap []*sim.Event

func (h eventHeap) Len() int {
	return len(h)
}

func (h eventHeap) Less(i, j int) bool {
	return eventBefore(h[i], h[j])
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(*sim.Event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	evt := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return evt
}
