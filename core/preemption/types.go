package preemption

import (
	"fmt"
	"strings"

	"github.com/kilianp07/obsched/core/interval"
	"github.com/kilianp07/obsched/core/kernel"
	"github.com/kilianp07/obsched/core/reservation"
	"github.com/kilianp07/obsched/core/solver"
)

// Pass identifies one of the two passes of a cycle.
type Pass int

const (
	PassUrgent Pass = iota
	PassNormal
)

func (p Pass) String() string {
	if p == PassUrgent {
		return "urgent"
	}
	return "normal"
}

// MarshalText implements encoding.TextMarshaler.
func (p Pass) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pass) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "urgent":
		*p = PassUrgent
	case "normal":
		*p = PassNormal
	default:
		return fmt.Errorf("preemption: unknown pass %q", b)
	}
	return nil
}

// RunningRequest is work already executing (or committed downstream) on a
// resource.
type RunningRequest struct {
	ID       string  `json:"id" yaml:"id"`
	Resource string  `json:"resource" yaml:"resource"`
	Start    int64   `json:"start" yaml:"start"`
	End      int64   `json:"end" yaml:"end"`
	Priority float64 `json:"priority" yaml:"priority"`
	// Errors counts failures reported while the request runs. A failing
	// request is treated as not running.
	Errors int `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Span returns [Start,End).
func (r RunningRequest) Span() interval.Range { return interval.Range{Start: r.Start, End: r.End} }

// Failing reports whether the request has reported a failure.
func (r RunningRequest) Failing() bool { return r.Errors > 0 }

// RunningRequestGroup is the request group a running request belongs to.
// Requests of rapid response groups are never aborted.
type RunningRequestGroup struct {
	ID            string           `json:"id" yaml:"id"`
	RapidResponse bool             `json:"rapid_response" yaml:"rapid_response"`
	Requests      []RunningRequest `json:"requests" yaml:"requests"`
}

// Abort selects a running request to stop so an urgent reservation fits.
type Abort struct {
	Group   string         `json:"group"`
	Running RunningRequest `json:"running"`
	Reason  string         `json:"reason"`
}

// PassResult is the outcome of one pass.
type PassResult struct {
	Pass     Pass
	Schedule map[string][]*reservation.Reservation
	// Consumed is the time claimed by Schedule per resource; it is what
	// downstream systems must cancel.
	Consumed map[string]*interval.Set
	Aborts   []Abort
	Status   solver.Status
	Dropped  []reservation.ID
	Stats    kernel.Stats
	// Solves counts the kernel runs the pass needed.
	Solves int
}

// Scheduled returns the number of committed reservations.
func (p PassResult) Scheduled() int {
	n := 0
	for _, rs := range p.Schedule {
		n += len(rs)
	}
	return n
}

// CycleInput is the consistent snapshot one cycle works on.
type CycleInput struct {
	// Now clips every possible window; nothing is scheduled in the past.
	Now      int64
	Possible map[string]*interval.Set
	Urgent   []*reservation.Compound
	Normal   []*reservation.Compound
	Running  []RunningRequestGroup
	// Blocks is externally reserved time that neither pass may use.
	Blocks map[string]*interval.Set
}

// PassError reports which pass of a cycle failed.
type PassError struct {
	Pass Pass
	Err  error
}

func (e *PassError) Error() string { return fmt.Sprintf("%s pass: %v", e.Pass, e.Err) }

func (e *PassError) Unwrap() error { return e.Err }

// CycleResult holds both passes. Normal observes Urgent's commitments.
type CycleResult struct {
	Urgent PassResult
	Normal PassResult
}
