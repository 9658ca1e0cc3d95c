package metrics

import (
	"time"

	"github.com/kilianp07/obsched/core/preemption"
)

// PassMetrics summarizes one pass of a cycle.
type PassMetrics struct {
	CycleID      string
	Pass         string
	Status       string
	Resources    int
	Reservations int
	Candidates   int
	Rows         int
	Scheduled    int
	Dropped      int
	Aborts       int
	Solves       int
	Nodes        int
	Objective    float64
	SolveTime    time.Duration
	Time         time.Time
}

// FromPass extracts the metrics of r.
func FromPass(cycleID string, r preemption.PassResult, t time.Time) PassMetrics {
	return PassMetrics{
		CycleID:      cycleID,
		Pass:         r.Pass.String(),
		Status:       r.Status.String(),
		Resources:    r.Stats.Resources,
		Reservations: r.Stats.Reservations,
		Candidates:   r.Stats.Candidates,
		Rows:         r.Stats.Rows,
		Scheduled:    r.Scheduled(),
		Dropped:      len(r.Dropped),
		Aborts:       len(r.Aborts),
		Solves:       r.Solves,
		Nodes:        r.Stats.Nodes,
		Objective:    r.Stats.Objective,
		SolveTime:    r.Stats.SolveTime,
		Time:         t,
	}
}

// MetricsSink records pass outcomes for observability purposes.
type MetricsSink interface {
	RecordPass(m PassMetrics) error
}

// CycleMetrics describes a whole cycle.
type CycleMetrics struct {
	CycleID  string
	Duration time.Duration
	Failed   bool
	Time     time.Time
}

// CycleRecorder records cycle durations and failures.
type CycleRecorder interface {
	RecordCycle(m CycleMetrics) error
}

// NotifyEvent captures the outcome of one downstream command.
type NotifyEvent struct {
	Kind     string // cancel or abort
	Resource string
	Latency  time.Duration
	Error    string
	Time     time.Time
}

// NotifyRecorder records downstream commands.
type NotifyRecorder interface {
	RecordNotify(ev NotifyEvent) error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordPass(PassMetrics) error   { return nil }
func (NopSink) RecordCycle(CycleMetrics) error { return nil }
func (NopSink) RecordNotify(NotifyEvent) error { return nil }
