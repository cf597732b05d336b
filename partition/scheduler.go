package partition

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/pdes/comm"
	"github.com/sarchlab/pdes/realtime"
	"github.com/sarchlab/pdes/sim"
	"github.com/sarchlab/pdes/timertree"
)

// A SimulationEndHandler is notified when a scheduler stops.
type SimulationEndHandler interface {
	Handle(now sim.VTime)
}

// SimulationEndHandlerFunc adapts a function to SimulationEndHandler.
type SimulationEndHandlerFunc func(now sim.VTime)

// Handle calls f(now).
func (f SimulationEndHandlerFunc) Handle(now sim.VTime) {
	f(now)
}

var errSimulationOver = errors.New("simulation over")

// A Scheduler is the event loop of one partition.
//
// Events of a partition live in three stores. At equal times,
// partition-first events run before node events, and node events run before
// partition-last events. Within one store, equal-time events run in the
// order they were scheduled.
//
// Apart from the methods documented as safe for concurrent use, a
// scheduler must only be called from its own goroutine, which is the
// goroutine that runs Run and the handlers.
type Scheduler struct {
	*sim.HookableBase

	p       *Partition
	channel Channel
	codec   *Codec
	pacer   *realtime.Pacer

	state atomic.Int32

	first timertree.Queue
	nodes timertree.Queue
	last  timertree.Queue
	seq   uint64

	handlers map[sim.LayerID]sim.Handler
	inbox    *Inbox

	// current is the event being dispatched. kept records that the handler
	// scheduled it again, in which case it is not freed.
	current *sim.Event
	kept    bool

	// horizon is the earliest local event when entering a
	// synchronization. It is guarded by the channel.
	horizon sim.VTime

	endTimeComm comm.ID

	isPaused     bool
	isPausedLock sync.Mutex
	pauseLock    sync.Mutex
	resumed      atomic.Bool

	singleRunLock sync.Mutex

	simulationEndHandlers []SimulationEndHandler

	stats counters
}

// ID returns the partition ID.
func (s *Scheduler) ID() sim.PartitionID {
	return s.p.ID
}

// Partition returns the context of the partition.
func (s *Scheduler) Partition() *Partition {
	return s.p
}

// Channel returns the channel the scheduler is attached to.
func (s *Scheduler) Channel() Channel {
	return s.channel
}

// State returns the lifecycle state. It is safe for concurrent use.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// CurrentTime returns the time of the event being, or last, dispatched. It
// is safe for concurrent use.
func (s *Scheduler) CurrentTime() sim.VTime {
	return s.p.Clock.Now()
}

// SafeTime returns the time up to which the partition may dispatch. It is
// safe for concurrent use.
func (s *Scheduler) SafeTime() sim.VTime {
	return s.p.Clock.SafeTime()
}

// Stats returns the counters of the scheduler. It is safe for concurrent
// use.
func (s *Scheduler) Stats() Stats {
	return s.stats.snapshot()
}

// Inbox returns the hand-off queue of the partition.
func (s *Scheduler) Inbox() *Inbox {
	return s.inbox
}

// RegisterHandler installs the handler of a protocol layer. Layers must be
// registered before the scheduler runs.
func (s *Scheduler) RegisterHandler(layer sim.LayerID, h sim.Handler) {
	if layer < 0 {
		s.p.Log.Panicf("layer %d is reserved by the kernel", layer)
	}

	if _, dup := s.handlers[layer]; dup {
		s.p.Log.Panicf("layer %d already has a handler", layer)
	}

	if s.State() != StateInit {
		s.p.Log.Panicf("cannot register layer %d while %s", layer, s.State())
	}

	s.handlers[layer] = h
}

// RegisterSimulationEndHandler registers a handler that is called after the
// scheduler stops.
func (s *Scheduler) RegisterSimulationEndHandler(h SimulationEndHandler) {
	s.simulationEndHandlers = append(s.simulationEndHandlers, h)
}

// ScheduleLocal schedules evt for a node of this partition, delay after the
// current time. The scheduler takes ownership of evt. A negative delay is a
// kernel defect.
func (s *Scheduler) ScheduleLocal(node sim.NodeID, evt *sim.Event, delay sim.VTime) {
	if delay < 0 {
		s.p.Log.WithFields(evt.Fields()).
			Panicf("negative delay %d for node %d", delay, node)
	}

	evt.Target = node
	evt.Time = s.p.Clock.Now().AddSaturating(delay)
	s.push(s.nodes, evt)
}

// SchedulePartitionEvent schedules a partition-level event at an absolute
// time. It runs before the node events of the same time if beforeNodes is
// set, and after them otherwise.
func (s *Scheduler) SchedulePartitionEvent(
	evt *sim.Event,
	at sim.VTime,
	beforeNodes bool,
) {
	now := s.p.Clock.Now()
	if at < now {
		s.p.Log.WithFields(evt.Fields()).
			Panicf("partition event at %s is before now %s", at, now)
	}

	evt.Time = at

	if beforeNodes {
		s.push(s.first, evt)
		return
	}

	s.push(s.last, evt)
}

// ScheduleEvent schedules evt for any node of the simulation, routing it by
// the topology. The scheduler takes ownership of evt, even on failure.
func (s *Scheduler) ScheduleEvent(
	node sim.NodeID,
	evt *sim.Event,
	delay sim.VTime,
	mode sim.SchedulingMode,
) error {
	owner, ok := s.p.Topology.PartitionOf(node)
	if !ok {
		evt.Target = node
		err := errors.WithStack(&sim.InvalidTargetError{
			Node:      node,
			Partition: s.ID(),
			Reason:    "node not in topology",
		})
		s.drop(evt, err, true)

		return err
	}

	evt.Target = node

	if owner == s.ID() {
		evt.Mode = mode
		s.ScheduleLocal(node, evt, delay)

		return nil
	}

	return s.ScheduleCrossPartition(owner, evt, delay, mode)
}

// ScheduleCrossPartition sends evt to partition dest. The delivery time is
// computed by DeliveryTime. Sending to the own partition is a local
// schedule. The scheduler takes ownership of evt, even on failure.
//
// Once the simulation is draining, events for other partitions are dropped.
func (s *Scheduler) ScheduleCrossPartition(
	dest sim.PartitionID,
	evt *sim.Event,
	delay sim.VTime,
	mode sim.SchedulingMode,
) error {
	evt.MustBeLive()
	evt.Mode = mode

	if dest == s.ID() {
		if delay < 0 {
			s.p.Log.WithFields(evt.Fields()).
				Panicf("negative delay %d for a local event", delay)
		}

		evt.Time = s.p.Clock.Now().AddSaturating(delay)
		s.push(s.storeOf(evt), evt)

		return nil
	}

	if !s.p.Topology.ValidPartition(dest) {
		err := errors.WithStack(&sim.InvalidTargetError{
			Node:      evt.Target,
			Partition: dest,
			Reason:    "partition out of range",
		})
		s.drop(evt, err, true)

		return err
	}

	if s.State() >= StateDraining {
		s.drop(evt, errSimulationOver, true)
		return nil
	}

	evt.Time = DeliveryTime(
		s.p.Clock.Now(), s.p.Clock.SafeTime(), delay, mode)
	evt.MarkInFlight()

	s.InvokeHook(sim.HookCtx{
		Domain: s,
		Now:    s.p.Clock.Now(),
		Pos:    sim.HookPosCrossSend,
		Item:   evt,
		Detail: dest,
	})

	s.markKept(evt)

	if err := s.channel.Send(s, dest, evt); err != nil {
		evt.Detach()
		s.drop(evt, err, true)

		return err
	}

	s.stats.sent.Add(1)

	return nil
}

// SendToAllPartitions sends a copy of evt to every other partition. evt
// itself is returned to the pool.
func (s *Scheduler) SendToAllPartitions(
	evt *sim.Event,
	delay sim.VTime,
	mode sim.SchedulingMode,
) error {
	var firstErr error

	for p := 0; p < s.p.Topology.NumPartitions(); p++ {
		dest := sim.PartitionID(p)
		if dest == s.ID() {
			continue
		}

		cp := s.p.Pool.Get()
		evt.CopyTo(cp)

		err := s.ScheduleCrossPartition(dest, cp, delay, mode)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.release(evt)

	return firstErr
}

// SendThreadSafe hands evt to the partition from any goroutine. The event
// is scheduled when the scheduler next drains its inbox, delay after its
// current time but not before its safe time. evt must not come from the
// pool of another partition. It is safe for concurrent use.
func (s *Scheduler) SendThreadSafe(evt *sim.Event, delay sim.VTime) error {
	if s.State() == StateStopped {
		return errors.WithStack(errSimulationOver)
	}

	evt.MustBeLive()
	s.inbox.push(arrival{evt: evt, relative: true, delay: delay})

	return nil
}

// RequestEndSimulation asks the simulation to end at the given time. A time
// that is not after now means now plus one. In a parallel run the time is
// raised to at least the safe time plus one and broadcast to every
// partition. It is safe for concurrent use.
func (s *Scheduler) RequestEndSimulation(at sim.VTime) {
	s.inbox.requestEnd(at)
}

// Pause prevents the scheduler from dispatching more events. It is safe for
// concurrent use.
func (s *Scheduler) Pause() {
	s.isPausedLock.Lock()
	defer s.isPausedLock.Unlock()

	if s.isPaused {
		return
	}

	s.pauseLock.Lock()
	s.isPaused = true
}

// Continue allows the scheduler to dispatch events again. It is safe for
// concurrent use.
func (s *Scheduler) Continue() {
	s.isPausedLock.Lock()
	defer s.isPausedLock.Unlock()

	if !s.isPaused {
		return
	}

	s.resumed.Store(true)
	s.pauseLock.Unlock()
	s.isPaused = false
}

// Paused tells if the scheduler is paused. It is safe for concurrent use.
func (s *Scheduler) Paused() bool {
	s.isPausedLock.Lock()
	defer s.isPausedLock.Unlock()

	return s.isPaused
}

// Run dispatches events until the simulation is over, then drains the
// events that came from other partitions and stops. It returns an error
// only if the run was aborted.
func (s *Scheduler) Run() error {
	s.singleRunLock.Lock()
	defer s.singleRunLock.Unlock()

	if s.State() != StateInit {
		return errors.Errorf("partition %d: scheduler already %s",
			s.ID(), s.State())
	}

	s.setState(StateRunning)

	if end := s.p.Clock.MaxSimClock(); s.pacer.Enabled() && end != sim.MaxTime {
		s.scheduleHeartbeat(end)
	}

	err := s.run()
	if err == nil {
		s.setState(StateDraining)
		err = s.drain()
	}

	if err != nil {
		s.channel.Abort(s, err)
		s.p.Log.WithError(err).Error("run aborted")
	}

	s.setState(StateStopped)
	s.finish()

	return err
}

func (s *Scheduler) run() error {
	for {
		s.throttle()

		s.pauseLock.Lock()
		horizon, dispatched, err := s.step()
		s.pauseLock.Unlock()

		if err != nil {
			return err
		}

		if dispatched {
			continue
		}

		over, err := s.synchronize(horizon)
		if err != nil || over {
			return err
		}
	}
}

// step dispatches the next admissible event, or returns the earliest
// pending time if there is none.
func (s *Scheduler) step() (sim.VTime, bool, error) {
	if s.resumed.Swap(false) {
		s.pacer.Reanchor(s.p.Clock.Now())
	}

	if err := s.drainInbox(true); err != nil {
		return 0, false, err
	}

	evt, q := s.peek()
	if evt == nil {
		s.p.Clock.SetNextInternalEvent(sim.MaxTime)
		return sim.MaxTime, false, nil
	}

	s.p.Clock.SetNextInternalEvent(evt.Time)

	if evt.Time > s.limit() || evt.Time > s.p.Clock.MaxSimClock() {
		return evt.Time, false, nil
	}

	s.pop(q)

	return 0, true, s.dispatch(evt)
}

// throttle holds the scheduler back while the next admissible event is
// ahead of the wall clock. It runs outside the pause lock so that Pause
// does not wait for the sleep.
func (s *Scheduler) throttle() {
	if !s.pacer.Enabled() {
		return
	}

	evt, _ := s.peek()
	if evt == nil || evt.Time > s.limit() || evt.Time > s.p.Clock.MaxSimClock() {
		return
	}

	s.pacer.ThrottleIfAhead(evt.Time)
}

func (s *Scheduler) synchronize(horizon sim.VTime) (bool, error) {
	w, err := s.channel.Synchronize(s, horizon)
	s.stats.syncs.Add(1)

	if err != nil {
		return false, err
	}

	if w.Over {
		return true, nil
	}

	if s.p.Clock.AdvanceSafeTime(w.SafeTime) {
		s.InvokeHook(sim.HookCtx{
			Domain: s,
			Now:    s.p.Clock.Now(),
			Pos:    sim.HookPosSafeTimeAdvanced,
			Item:   w.SafeTime,
			Detail: w,
		})
	}

	return false, nil
}

// limit is the last time the partition may dispatch without synchronizing.
func (s *Scheduler) limit() sim.VTime {
	if s.channel.Parallel() {
		return s.p.Clock.SafeTime()
	}

	return sim.MaxTime
}

func (s *Scheduler) dispatch(evt *sim.Event) error {
	now := s.p.Clock.Now()
	if evt.Time < now {
		s.p.Log.WithFields(evt.Fields()).
			Panicf("dispatching an event at %s before now %s", evt.Time, now)
	}

	s.p.Clock.AdvanceTo(evt.Time)
	if !s.channel.Parallel() {
		s.p.Clock.AdvanceSafeTime(evt.Time)
	}

	evt.Detach()
	s.current = evt
	s.kept = false

	hookCtx := sim.HookCtx{
		Domain: s,
		Now:    evt.Time,
		Pos:    sim.HookPosBeforeEvent,
		Item:   evt,
	}
	s.InvokeHook(hookCtx)

	err := s.handle(evt)

	hookCtx.Pos = sim.HookPosAfterEvent
	hookCtx.Detail = err
	s.InvokeHook(hookCtx)

	kept := s.kept
	s.current = nil
	s.kept = false

	if err != nil && sim.IsStructuralCorruption(err) {
		err = errors.Wrapf(err, "dispatching %s", evt)
		if !kept {
			s.p.Pool.Put(evt)
		}

		return err
	}

	if err != nil {
		s.drop(evt, err, false)
	} else {
		s.stats.dispatched.Add(1)
	}

	if !kept {
		s.p.Pool.Put(evt)
	}

	return nil
}

func (s *Scheduler) handle(evt *sim.Event) error {
	switch evt.Layer {
	case sim.LayerCommunication:
		return s.p.Registry.Dispatch(s.ID(), comm.ID(evt.Kind), evt)
	case sim.LayerPartition:
		if evt.Kind == sim.KindHeartbeat {
			return nil
		}
	}

	h, ok := s.handlers[evt.Layer]
	if !ok {
		return errors.WithStack(&sim.InvalidTargetError{
			Node:      evt.Target,
			Partition: s.ID(),
			Reason:    "no handler for the layer",
		})
	}

	return h.Handle(evt)
}

// drainInbox moves arrivals into the event stores. End requests are only
// applied while running.
func (s *Scheduler) drainInbox(applyEnd bool) error {
	items, endAt, endRequested := s.inbox.take()

	for i := range items {
		a := items[i]
		items[i] = arrival{}

		if err := s.admit(a); err != nil {
			return err
		}
	}

	if endRequested && applyEnd {
		s.applyEndTime(endAt)
	}

	return nil
}

func (s *Scheduler) admit(a arrival) error {
	evt := a.evt

	if a.frame != nil {
		evt = s.p.Pool.Get()

		err := s.codec.Decode(s.ID(), a.frame, evt)
		if sim.IsStructuralCorruption(err) {
			s.p.Pool.Put(evt)
			return err
		}

		if err != nil {
			s.drop(evt, err, true)
			return nil
		}
	}

	now := s.p.Clock.Now()

	if a.relative {
		delay := max(a.delay, s.p.Clock.SafeTime()-now, 0)
		evt.Time = now.AddSaturating(delay)
	}

	if evt.Time < now {
		if evt.Mode != sim.ModeLoose {
			s.p.Log.WithFields(evt.Fields()).
				Panicf("safe event arrived at %s, behind now %s", evt.Time, now)
		}

		evt.Time = now
		s.stats.late.Add(1)
	}

	if evt.Layer >= 0 {
		owner, ok := s.p.Topology.PartitionOf(evt.Target)
		if !ok || owner != s.ID() {
			s.drop(evt, errors.WithStack(&sim.InvalidTargetError{
				Node:      evt.Target,
				Partition: s.ID(),
				Reason:    "node not owned by the receiving partition",
			}), true)

			return nil
		}
	}

	s.push(s.storeOf(evt), evt)
	evt.MarkRemote()
	s.stats.remote.Add(1)

	return nil
}

// drain dispatches every pending event that came from outside the partition
// and frees the rest.
func (s *Scheduler) drain() error {
	if err := s.drainInbox(false); err != nil {
		return err
	}

	for {
		evt, q := s.peek()
		if evt == nil {
			return nil
		}

		s.pop(q)

		if !evt.Remote() {
			evt.Detach()
			s.InvokeHook(sim.HookCtx{
				Domain: s,
				Now:    s.p.Clock.Now(),
				Pos:    sim.HookPosEventDropped,
				Item:   evt,
				Detail: errSimulationOver,
			})
			s.p.Pool.Put(evt)

			continue
		}

		if err := s.dispatch(evt); err != nil {
			return err
		}
	}
}

func (s *Scheduler) finish() {
	now := s.p.Clock.Now()

	s.p.Log.WithFields(logrus.Fields{
		"now":        now,
		"dispatched": s.stats.dispatched.Load(),
		"dropped":    s.stats.dropped.Load(),
	}).Info("partition stopped")

	for _, h := range s.simulationEndHandlers {
		h.Handle(now)
	}
}

func (s *Scheduler) setState(state State) {
	old := State(s.state.Swap(int32(state)))
	if old == state {
		return
	}

	s.p.Log.WithField("from", old).Debugf("scheduler %s", state)

	s.InvokeHook(sim.HookCtx{
		Domain: s,
		Now:    s.p.Clock.Now(),
		Pos:    sim.HookPosStateChange,
		Item:   state,
		Detail: old,
	})
}

func (s *Scheduler) storeOf(evt *sim.Event) timertree.Queue {
	if evt.Layer < 0 {
		return s.first
	}

	return s.nodes
}

func (s *Scheduler) push(q timertree.Queue, evt *sim.Event) {
	s.seq++
	evt.Admit(s.seq)
	q.Push(evt)
	s.stats.pending.Add(1)
	s.markKept(evt)
}

func (s *Scheduler) markKept(evt *sim.Event) {
	if evt == s.current {
		s.kept = true
	}
}

// peek returns the next event and the store it is in.
func (s *Scheduler) peek() (*sim.Event, timertree.Queue) {
	var (
		best  *sim.Event
		bestQ timertree.Queue
	)

	for _, q := range [...]timertree.Queue{s.first, s.nodes, s.last} {
		evt := q.Peek()
		if evt == nil {
			continue
		}

		if best == nil || evt.Time < best.Time {
			best, bestQ = evt, q
		}
	}

	return best, bestQ
}

func (s *Scheduler) pop(q timertree.Queue) {
	q.Pop()
	s.stats.pending.Add(-1)
}

// release returns an event that the scheduler does not hand on. The event
// being dispatched is left for dispatch to free.
func (s *Scheduler) release(evt *sim.Event) {
	evt.Detach()

	if evt == s.current {
		s.kept = false
		return
	}

	s.p.Pool.Put(evt)
}

func (s *Scheduler) drop(evt *sim.Event, reason error, free bool) {
	s.stats.dropped.Add(1)

	entry := s.p.Log.WithFields(evt.Fields()).WithError(reason)
	if errors.Is(reason, errSimulationOver) {
		entry.Warn("event dropped after the end of the simulation")
	} else {
		entry.Warn("event dropped")
	}

	s.InvokeHook(sim.HookCtx{
		Domain: s,
		Now:    s.p.Clock.Now(),
		Pos:    sim.HookPosEventDropped,
		Item:   evt,
		Detail: reason,
	})

	if free {
		s.release(evt)
	}
}

func (s *Scheduler) scheduleHeartbeat(at sim.VTime) {
	if at == sim.MaxTime {
		return
	}

	evt := s.p.Pool.Get()
	evt.Layer = sim.LayerPartition
	evt.Kind = sim.KindHeartbeat

	if first, ok := s.p.Topology.FirstNode(s.ID()); ok {
		evt.Target = first
	}

	s.SchedulePartitionEvent(evt, at, false)
}
