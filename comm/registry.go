// Package comm provides the communicator registry. A communicator is a named
// handler for cross-partition control messages, addressed by a small integer
// ID that travels in the event envelope.
package comm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/sarchlab/pdes/sim"
	"github.com/sarchlab/pdes/sim/id"
)

// ID identifies a communicator. The zero ID is never assigned.
type ID uint32

// InvalidID is the reserved, never assigned ID.
const InvalidID ID = 0

// A Handler receives the control messages sent to a communicator. It runs on
// the scheduler goroutine of the receiving partition, which is passed as at.
type Handler interface {
	Handle(at sim.PartitionID, evt *sim.Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(at sim.PartitionID, evt *sim.Event) error

// Handle calls f(at, evt).
func (f HandlerFunc) Handle(at sim.PartitionID, evt *sim.Event) error {
	return f(at, evt)
}

type communicator struct {
	name    string
	handler Handler
}

// Registry maps communicator IDs to handlers.
//
// Registration is only possible until Freeze. After Freeze the table is
// read-only and lookups take no lock.
type Registry struct {
	mu     sync.Mutex
	frozen atomic.Bool
	idGen  id.Generator
	comms  []communicator
	byName map[string]ID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		idGen:  id.NewGenerator(),
		byName: make(map[string]ID),
	}
}

// Register adds a named handler and returns its ID.
func (r *Registry) Register(name string, h Handler) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return InvalidID, errors.WithStack(&sim.RegistrationClosedError{Name: name})
	}

	if h == nil {
		return InvalidID, errors.Errorf("communicator %q has no handler", name)
	}

	if _, dup := r.byName[name]; dup {
		return InvalidID, errors.Errorf("communicator %q registered twice", name)
	}

	cid := ID(r.idGen.Generate())
	r.comms = append(r.comms, communicator{name: name, handler: h})
	r.byName[name] = cid

	return cid, nil
}

// MustRegister is Register that panics on failure. It is meant for set-up
// code, where a failed registration is a programming error.
func (r *Registry) MustRegister(name string, h Handler) ID {
	cid, err := r.Register(name, h)
	if err != nil {
		panic(err)
	}

	return cid
}

// Freeze closes registration. Freezing twice is allowed.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Frozen tells if registration is closed.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Len returns the number of registered communicators.
func (r *Registry) Len() int {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}

	return len(r.comms)
}

func (r *Registry) get(cid ID) (communicator, bool) {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}

	if cid == InvalidID || int(cid) > len(r.comms) {
		return communicator{}, false
	}

	return r.comms[cid-1], true
}

// Lookup returns the ID registered under a name.
func (r *Registry) Lookup(name string) (ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cid, ok := r.byName[name]

	return cid, ok
}

// Name returns the name of a communicator, or a placeholder for unknown IDs.
func (r *Registry) Name(cid ID) string {
	c, ok := r.get(cid)
	if !ok {
		return fmt.Sprintf("communicator(%d)", cid)
	}

	return c.name
}

// Names lists the registered names in ID order.
func (r *Registry) Names() []string {
	n := r.Len()
	names := make([]string, 0, n)

	for i := 1; i <= n; i++ {
		names = append(names, r.Name(ID(i)))
	}

	return names
}

// Dispatch invokes the handler of a communicator synchronously on behalf of
// partition at. The ID is taken from an envelope, so an unknown ID means the
// envelope is corrupted.
func (r *Registry) Dispatch(at sim.PartitionID, cid ID, evt *sim.Event) error {
	c, ok := r.get(cid)
	if !ok {
		return errors.WithStack(&sim.StructuralCorruptionError{
			Partition: at,
			Field:     "communicator id",
			Detail:    fmt.Sprintf("no communicator %d", cid),
		})
	}

	return c.handler.Handle(at, evt)
}
