// Package reservation defines the bookable unit of the scheduler and the
// logical combinators (single, and, oneof, many) that group reservations.
package reservation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kilianp07/obsched/core/interval"
)

// ID identifies a reservation. Ids are assigned by the request translation
// layer; the scheduling kernel treats them as opaque.
type ID int64

// Kind is the logical combinator of a compound reservation.
type Kind int

const (
	Single Kind = iota
	And
	OneOf
	Many
)

var kindNames = map[Kind]string{Single: "single", And: "and", OneOf: "oneof", Many: "many"}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind converts a textual operator to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, n := range kindNames {
		if strings.EqualFold(s, n) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("reservation: unknown kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Placement is a committed or hinted location of a reservation.
type Placement struct {
	Resource string `json:"resource" yaml:"resource"`
	Start    int64  `json:"start" yaml:"start"`
}

// Reservation is one schedulable block of time of fixed duration on any of a
// set of resources.
type Reservation struct {
	ID       ID
	Priority float64
	// Duration in seconds.
	Duration int64
	// Possible holds the admissible windows per resource. It is never
	// narrowed once the reservation exists.
	Possible map[string]*interval.Set
	// Free is the subset of Possible still usable in the current pass.
	Free map[string]*interval.Set
	// Hint is the placement of a previous solution, if any.
	Hint *Placement
	// Ref is an opaque reference to the originating request.
	Ref string

	Scheduled         bool
	ScheduledStart    int64
	ScheduledQuantum  int64
	ScheduledResource string
	ScheduledReason   string

	parent Kind
}

// New creates an unscheduled reservation whose free windows start out equal
// to its possible windows.
func New(id ID, priority float64, duration int64, windows map[string]*interval.Set) *Reservation {
	r := &Reservation{
		ID:       id,
		Priority: priority,
		Duration: duration,
		Possible: make(map[string]*interval.Set, len(windows)),
	}
	for res, w := range windows {
		r.Possible[res] = w.Clone()
	}
	r.ResetFree()
	return r
}

// ResetFree restores the free windows to the possible windows.
func (r *Reservation) ResetFree() {
	r.Free = make(map[string]*interval.Set, len(r.Possible))
	for res, w := range r.Possible {
		r.Free[res] = w.Clone()
	}
}

// Restrict drops every free window that is not on one of the given
// resources.
func (r *Reservation) Restrict(resources ...string) {
	keep := make(map[string]bool, len(resources))
	for _, res := range resources {
		keep[res] = true
	}
	for res := range r.Free {
		if !keep[res] {
			delete(r.Free, res)
		}
	}
}

// Resources returns the resources with free time, sorted.
func (r *Reservation) Resources() []string {
	out := make([]string, 0, len(r.Free))
	for res, w := range r.Free {
		if !w.IsEmpty() {
			out = append(out, res)
		}
	}
	sort.Strings(out)
	return out
}

// ParentKind returns the kind of the compound owning r.
func (r *Reservation) ParentKind() Kind { return r.parent }

// Schedule commits r to [start,start+quantum) on resource.
func (r *Reservation) Schedule(start, quantum int64, resource, reason string) {
	r.Scheduled = true
	r.ScheduledStart = start
	r.ScheduledQuantum = quantum
	r.ScheduledResource = resource
	r.ScheduledReason = reason
}

// Unschedule reverts Schedule.
func (r *Reservation) Unschedule() {
	r.Scheduled = false
	r.ScheduledStart = 0
	r.ScheduledQuantum = 0
	r.ScheduledResource = ""
	r.ScheduledReason = ""
}

// Span returns the committed interval. ok is false when r is unscheduled.
func (r *Reservation) Span() (interval.Range, bool) {
	if !r.Scheduled {
		return interval.Range{}, false
	}
	return interval.Range{Start: r.ScheduledStart, End: r.ScheduledStart + r.ScheduledQuantum}, true
}

func (r *Reservation) String() string {
	if r.Scheduled {
		return fmt.Sprintf("res#%d(p=%g d=%d @%s [%d,+%d))", r.ID, r.Priority, r.Duration,
			r.ScheduledResource, r.ScheduledStart, r.ScheduledQuantum)
	}
	return fmt.Sprintf("res#%d(p=%g d=%d)", r.ID, r.Priority, r.Duration)
}

type reservationJSON struct {
	ID        ID      `json:"id"`
	Ref       string  `json:"ref,omitempty"`
	Priority  float64 `json:"priority"`
	Duration  int64   `json:"duration"`
	Resource  string  `json:"resource,omitempty"`
	Start     int64   `json:"start,omitempty"`
	Quantum   int64   `json:"quantum,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Scheduled bool    `json:"scheduled"`
}

// MarshalJSON encodes the scheduling outcome of r.
func (r *Reservation) MarshalJSON() ([]byte, error) {
	return json.Marshal(reservationJSON{
		ID: r.ID, Ref: r.Ref, Priority: r.Priority, Duration: r.Duration,
		Resource: r.ScheduledResource, Start: r.ScheduledStart, Quantum: r.ScheduledQuantum,
		Reason: r.ScheduledReason, Scheduled: r.Scheduled,
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON. Windows are not part
// of the encoding.
func (r *Reservation) UnmarshalJSON(b []byte) error {
	var v reservationJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = Reservation{
		ID: v.ID, Ref: v.Ref, Priority: v.Priority, Duration: v.Duration,
		Scheduled: v.Scheduled, ScheduledResource: v.Resource, ScheduledStart: v.Start,
		ScheduledQuantum: v.Quantum, ScheduledReason: v.Reason,
	}
	return nil
}

// Less reports whether a is less preferred than b. Higher priority wins.
// On equal priority children of AND compounds outrank everything and children
// of ONEOF compounds are outranked by everything; remaining ties prefer the
// reservation created first.
func Less(a, b *Reservation) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.parent != b.parent {
		switch {
		case b.parent == And:
			return true
		case a.parent == And:
			return false
		case a.parent == OneOf:
			return true
		case b.parent == OneOf:
			return false
		}
	}
	return a.ID > b.ID
}

// ErrInvalidCompound is returned for compounds that violate their kind's
// shape rules.
var ErrInvalidCompound = errors.New("reservation: invalid compound")

// Compound groups reservations under one logical combinator. It owns its
// children; their derived scheduled state is computed on demand.
type Compound struct {
	Kind     Kind
	Children []*Reservation
	// Ref is an opaque reference to the originating request group.
	Ref string
}

// NewCompound validates and builds a compound. SINGLE requires exactly one
// child and MANY must be expanded before it reaches the kernel.
func NewCompound(kind Kind, children ...*Reservation) (*Compound, error) {
	if len(children) == 0 {
		return nil, fmt.Errorf("%w: %s without children", ErrInvalidCompound, kind)
	}
	switch kind {
	case Single:
		if len(children) != 1 {
			return nil, fmt.Errorf("%w: single with %d children", ErrInvalidCompound, len(children))
		}
	case And, OneOf:
	case Many:
		return nil, fmt.Errorf("%w: many must be expanded into single compounds", ErrInvalidCompound)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidCompound, kind)
	}
	for _, c := range children {
		c.parent = kind
	}
	return &Compound{Kind: kind, Children: children}, nil
}

// Scheduled derives the compound state from its children.
func (c *Compound) Scheduled() bool {
	states := make([]bool, len(c.Children))
	for i, ch := range c.Children {
		states[i] = ch.Scheduled
	}
	return DeriveScheduled(c.Kind, states)
}

// DeriveScheduled applies the compound rule: AND needs every child, the other
// kinds need at least one.
func DeriveScheduled(kind Kind, scheduled []bool) bool {
	if len(scheduled) == 0 {
		return false
	}
	if kind == And {
		for _, s := range scheduled {
			if !s {
				return false
			}
		}
		return true
	}
	for _, s := range scheduled {
		if s {
			return true
		}
	}
	return false
}
