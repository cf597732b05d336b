package partition

import "fmt"

// State is the lifecycle state of a scheduler.
type State int32

// States of a scheduler. A scheduler only moves forward through them.
const (
	StateInit State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
