package events

import (
	"time"

	"github.com/kilianp07/obsched/core/preemption"
)

// PassEvent is published when a pass of a cycle completes.
type PassEvent struct {
	CycleID string
	Result  preemption.PassResult
	Time    time.Time
}

// AbortEvent is published for each running request a cycle aborts.
type AbortEvent struct {
	CycleID string
	Abort   preemption.Abort
}
