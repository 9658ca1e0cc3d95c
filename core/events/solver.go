package events

import (
	"time"

	"github.com/kilianp07/obsched/core/preemption"
	"github.com/kilianp07/obsched/core/solver"
)

// SolverEvent is emitted when a pass ends without a proven optimum.
// Err is set when the solver failed internally; Status is then meaningless.
type SolverEvent struct {
	CycleID string
	Pass    preemption.Pass
	Status  solver.Status
	Err     error
}

// NotifyEvent is published for each downstream command.
type NotifyEvent struct {
	Kind         string
	Resource     string
	Acknowledged bool
	Err          error
	Latency      time.Duration
}
