package partition

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/pdes/comm"
	"github.com/sarchlab/pdes/sim"
)

// EndTimeCommunicator is the name of the communicator that carries end time
// changes between partitions.
const EndTimeCommunicator = "set simulation duration"

// EndTimeMessage is the payload of an end time broadcast.
type EndTimeMessage struct {
	At sim.VTime `json:"at"`
}

// RegisterEndTimeCommunicator registers the end time communicator. lookup
// returns the scheduler of the receiving partition.
func RegisterEndTimeCommunicator(
	registry *comm.Registry,
	lookup func(sim.PartitionID) *Scheduler,
) (comm.ID, error) {
	return registry.Register(EndTimeCommunicator, comm.HandlerFunc(
		func(at sim.PartitionID, evt *sim.Event) error {
			msg, ok := evt.Payload.(*EndTimeMessage)
			if !ok {
				return errors.Errorf("end time message with payload %T",
					evt.Payload)
			}

			s := lookup(at)
			if s == nil {
				return errors.WithStack(&sim.InvalidTargetError{
					Node:      evt.Target,
					Partition: at,
					Reason:    "no scheduler for the partition",
				})
			}

			s.setEndTime(max(msg.At, s.p.Clock.Now()))

			return nil
		}))
}

// applyEndTime moves the end of the simulation on a request. An end in the
// past means one tick after now. In a parallel run the new end is never
// inside the current window, and the partition tells every other
// partition, which takes the time as is.
func (s *Scheduler) applyEndTime(at sim.VTime) {
	now := s.p.Clock.Now()
	safe := s.p.Clock.SafeTime()
	parallel := s.channel.Parallel()

	if at <= now {
		at = now + 1
	}

	if parallel {
		at = max(at, safe+1)
	}

	s.setEndTime(at)

	if !parallel {
		return
	}

	if s.endTimeComm == comm.InvalidID {
		s.p.Log.Warn("no end time communicator, end time not broadcast")
		return
	}

	evt := s.p.Pool.Get()
	evt.Layer = sim.LayerCommunication
	evt.Kind = sim.EventKind(s.endTimeComm)
	evt.Payload = &EndTimeMessage{At: at}

	err := s.SendToAllPartitions(evt, safe-now+1, sim.ModeLoose)
	if err != nil {
		s.p.Log.WithError(err).Warn("end time broadcast failed")
	}
}

func (s *Scheduler) setEndTime(at sim.VTime) {
	s.p.Clock.SetMaxSimClock(at)
	s.scheduleHeartbeat(at)

	s.p.Log.WithFields(logrus.Fields{
		"now":    s.p.Clock.Now(),
		"end_at": at,
	}).Info("simulation end time set")
}
