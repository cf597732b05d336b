package partition

import "sync/atomic"

// Stats counts what a scheduler did. It can be read from any goroutine.
type Stats struct {
	Dispatched       uint64 `json:"dispatched"`
	Dropped          uint64 `json:"dropped"`
	RemoteReceived   uint64 `json:"remote_received"`
	LateAdmissions   uint64 `json:"late_admissions"`
	CrossSent        uint64 `json:"cross_sent"`
	Synchronizations uint64 `json:"synchronizations"`
	Pending          int64  `json:"pending"`
}

type counters struct {
	dispatched atomic.Uint64
	dropped    atomic.Uint64
	remote     atomic.Uint64
	late       atomic.Uint64
	sent       atomic.Uint64
	syncs      atomic.Uint64
	pending    atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Dispatched:       c.dispatched.Load(),
		Dropped:          c.dropped.Load(),
		RemoteReceived:   c.remote.Load(),
		LateAdmissions:   c.late.Load(),
		CrossSent:        c.sent.Load(),
		Synchronizations: c.syncs.Load(),
		Pending:          c.pending.Load(),
	}
}
