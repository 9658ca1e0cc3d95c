// Package store persists one record per scheduling pass and supports
// querying them back by time, resource and pass.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/obsched/core/interval"
	"github.com/kilianp07/obsched/core/preemption"
	"github.com/kilianp07/obsched/core/reservation"
	"github.com/kilianp07/obsched/core/solver"
)

// Booking is one committed reservation.
type Booking struct {
	Reservation reservation.ID `json:"reservation"`
	Ref         string         `json:"ref"`
	Resource    string         `json:"resource"`
	Start       int64          `json:"start"`
	Quantum     int64          `json:"quantum"`
	Priority    float64        `json:"priority"`
	Reason      string         `json:"reason"`
}

// CycleRecord captures the outcome of one pass of a cycle.
type CycleRecord struct {
	CycleID       string                   `json:"cycle_id"`
	Pass          preemption.Pass          `json:"pass"`
	Timestamp     time.Time                `json:"timestamp"`
	Status        solver.Status            `json:"status"`
	Bookings      []Booking                `json:"bookings"`
	Aborts        []preemption.Abort       `json:"aborts,omitempty"`
	Cancellations map[string]*interval.Set `json:"cancellations,omitempty"`
	Dropped       []reservation.ID         `json:"dropped,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

// FromPass builds the record of a pass.
func FromPass(cycleID string, ts time.Time, pr preemption.PassResult, passErr error) CycleRecord {
	rec := CycleRecord{
		CycleID:       cycleID,
		Pass:          pr.Pass,
		Timestamp:     ts,
		Status:        pr.Status,
		Aborts:        pr.Aborts,
		Cancellations: pr.Consumed,
		Dropped:       pr.Dropped,
	}
	for res, rs := range pr.Schedule {
		for _, r := range rs {
			rec.Bookings = append(rec.Bookings, Booking{
				Reservation: r.ID,
				Ref:         r.Ref,
				Resource:    res,
				Start:       r.ScheduledStart,
				Quantum:     r.ScheduledQuantum,
				Priority:    r.Priority,
				Reason:      r.ScheduledReason,
			})
		}
	}
	if passErr != nil {
		rec.Error = passErr.Error()
	}
	return rec
}

// Query filters records. Zero fields match everything.
type Query struct {
	Start    time.Time
	End      time.Time
	Resource string
	Pass     string
}

// Match reports whether rec satisfies q.
func (q Query) Match(rec CycleRecord) bool {
	if !q.Start.IsZero() && rec.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && rec.Timestamp.After(q.End) {
		return false
	}
	if q.Pass != "" && rec.Pass.String() != q.Pass {
		return false
	}
	if q.Resource == "" {
		return true
	}
	for _, b := range rec.Bookings {
		if b.Resource == q.Resource {
			return true
		}
	}
	for _, a := range rec.Aborts {
		if a.Running.Resource == q.Resource {
			return true
		}
	}
	_, ok := rec.Cancellations[q.Resource]
	return ok
}

// Store persists CycleRecords and supports querying.
type Store interface {
	Append(ctx context.Context, rec CycleRecord) error
	Query(ctx context.Context, q Query) ([]CycleRecord, error)
	Close() error
}

// Rotation configures file rotation of the rotating backend.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Open creates the store for backend: "jsonl", "rotating" or "sqlite".
func Open(backend, path string, rot Rotation) (Store, error) {
	switch backend {
	case "jsonl":
		return NewJSONLStore(path)
	case "rotating":
		return NewRotatingJSONLStore(path, rot.MaxSizeMB, rot.MaxBackups, rot.MaxAgeDays)
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown store backend %s", backend)
	}
}
