// Package ledger tracks per-resource free and busy time for one scheduling
// pass. It flattens compound reservations into a reservation list plus AND
// and ONEOF constraint groups, and commits or uncommits single reservations.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kilianp07/obsched/core/interval"
	"github.com/kilianp07/obsched/core/logger"
	"github.com/kilianp07/obsched/core/reservation"
)

var (
	// ErrNotScheduled is returned when committing an unscheduled reservation.
	ErrNotScheduled = errors.New("ledger: reservation is not scheduled")
	// ErrNotCommitted is returned when uncommitting a reservation the ledger
	// does not hold.
	ErrNotCommitted = errors.New("ledger: reservation is not committed")
	// ErrAlreadyCommitted is returned when committing twice.
	ErrAlreadyCommitted = errors.New("ledger: reservation already committed")
	// ErrUnknownResource is returned when a reservation targets a resource
	// outside the schedulable set.
	ErrUnknownResource = errors.New("ledger: unknown resource")
)

// Ledger is the booking state of one pass. It is not safe for concurrent use.
type Ledger struct {
	log logger.Logger

	possible  map[string]*interval.Set
	resources []string

	reservations []*reservation.Reservation
	index        map[reservation.ID]*reservation.Reservation
	oneOf        [][]*reservation.Reservation
	and          [][]*reservation.Reservation
	dropped      []reservation.ID

	committed   map[string][]*reservation.Reservation
	busy        map[string]*interval.Set
	free        map[string]*interval.Set
	unscheduled map[reservation.ID]*reservation.Reservation
	isCommitted map[reservation.ID]bool
}

// New builds the ledger for one pass. Resources with no possible time are
// ignored. Every child's free windows are narrowed to the possible windows and
// to runs long enough for its duration; children left without free time are
// infeasible. AND compounds with an infeasible child are dropped entirely.
func New(compounds []*reservation.Compound, possible map[string]*interval.Set, log logger.Logger) *Ledger {
	l := &Ledger{
		log:         logger.OrNop(log),
		possible:    make(map[string]*interval.Set),
		index:       make(map[reservation.ID]*reservation.Reservation),
		committed:   make(map[string][]*reservation.Reservation),
		busy:        make(map[string]*interval.Set),
		free:        make(map[string]*interval.Set),
		unscheduled: make(map[reservation.ID]*reservation.Reservation),
		isCommitted: make(map[reservation.ID]bool),
	}
	for res, w := range possible {
		if w.IsEmpty() {
			continue
		}
		l.possible[res] = w.Clone()
		l.resources = append(l.resources, res)
		l.busy[res] = interval.Empty()
		l.free[res] = w.Clone()
	}
	sort.Strings(l.resources)

	for _, c := range compounds {
		l.addCompound(c)
	}
	return l
}

func (l *Ledger) narrow(r *reservation.Reservation) bool {
	free := make(map[string]*interval.Set, len(r.Free))
	for res, w := range r.Free {
		p, ok := l.possible[res]
		if !ok {
			continue
		}
		in := w.Intersect(p)
		in.RemoveShorterThan(r.Duration)
		if !in.IsEmpty() {
			free[res] = in
		}
	}
	r.Free = free
	return len(free) > 0
}

func (l *Ledger) drop(c *reservation.Compound, rs ...*reservation.Reservation) {
	for _, r := range rs {
		l.dropped = append(l.dropped, r.ID)
	}
	l.log.Infof("dropping %d infeasible reservation(s) of %s compound %q", len(rs), c.Kind, c.Ref)
}

func (l *Ledger) keep(rs ...*reservation.Reservation) {
	for _, r := range rs {
		l.reservations = append(l.reservations, r)
		l.index[r.ID] = r
		l.unscheduled[r.ID] = r
	}
}

func (l *Ledger) addCompound(c *reservation.Compound) {
	var feasible, infeasible []*reservation.Reservation
	for _, r := range c.Children {
		if l.narrow(r) {
			feasible = append(feasible, r)
		} else {
			infeasible = append(infeasible, r)
		}
	}
	switch c.Kind {
	case reservation.Single:
		l.keep(feasible...)
		if len(infeasible) > 0 {
			l.drop(c, infeasible...)
		}
	case reservation.OneOf:
		if len(infeasible) > 0 {
			l.drop(c, infeasible...)
		}
		if len(feasible) > 0 {
			l.keep(feasible...)
			l.oneOf = append(l.oneOf, feasible)
		}
	case reservation.And:
		if len(infeasible) > 0 {
			l.drop(c, c.Children...)
			return
		}
		l.keep(feasible...)
		l.and = append(l.and, feasible)
	default:
		l.log.Errorf("compound %q of kind %s reached the ledger unexpanded", c.Ref, c.Kind)
		l.drop(c, c.Children...)
	}
}

// Resources returns the schedulable resources, sorted.
func (l *Ledger) Resources() []string { return append([]string(nil), l.resources...) }

// Possible returns the globally possible windows of resource.
func (l *Ledger) Possible(resource string) *interval.Set { return l.possible[resource].Clone() }

// Reservations returns every surviving reservation in compound order.
func (l *Ledger) Reservations() []*reservation.Reservation {
	return append([]*reservation.Reservation(nil), l.reservations...)
}

// Reservation looks up a surviving reservation.
func (l *Ledger) Reservation(id reservation.ID) (*reservation.Reservation, bool) {
	r, ok := l.index[id]
	return r, ok
}

// OneOfGroups returns the "choose at most one" groups.
func (l *Ledger) OneOfGroups() [][]*reservation.Reservation { return l.oneOf }

// AndGroups returns the "all or none" groups.
func (l *Ledger) AndGroups() [][]*reservation.Reservation { return l.and }

// Dropped returns the ids discarded as infeasible during construction.
func (l *Ledger) Dropped() []reservation.ID { return append([]reservation.ID(nil), l.dropped...) }

// Busy returns the committed time of resource.
func (l *Ledger) Busy(resource string) *interval.Set { return l.busy[resource].Clone() }

// Free returns the uncommitted time of resource.
func (l *Ledger) Free(resource string) *interval.Set { return l.free[resource].Clone() }

// Unscheduled returns the surviving reservations not yet committed, in id
// order.
func (l *Ledger) Unscheduled() []*reservation.Reservation {
	out := make([]*reservation.Reservation, 0, len(l.unscheduled))
	for _, r := range l.unscheduled {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Committed returns a copy of the committed schedule, ordered by start per
// resource.
func (l *Ledger) Committed() map[string][]*reservation.Reservation {
	out := make(map[string][]*reservation.Reservation, len(l.committed))
	for res, rs := range l.committed {
		if len(rs) == 0 {
			continue
		}
		cp := append([]*reservation.Reservation(nil), rs...)
		sort.SliceStable(cp, func(i, j int) bool { return cp[i].ScheduledStart < cp[j].ScheduledStart })
		out[res] = cp
	}
	return out
}

func (l *Ledger) span(r *reservation.Reservation) *interval.Set {
	s, _ := r.Span()
	return interval.MustSet(s).Intersect(l.possible[r.ScheduledResource])
}

// Commit books a scheduled reservation. Committing an unscheduled
// reservation is a caller bug: it is logged and leaves the ledger untouched.
func (l *Ledger) Commit(r *reservation.Reservation) error {
	if !r.Scheduled {
		l.log.Errorf("commit of unscheduled reservation %d refused", r.ID)
		return fmt.Errorf("%w: %d", ErrNotScheduled, r.ID)
	}
	if l.isCommitted[r.ID] {
		l.log.Errorf("reservation %d committed twice", r.ID)
		return fmt.Errorf("%w: %d", ErrAlreadyCommitted, r.ID)
	}
	res := r.ScheduledResource
	if _, ok := l.possible[res]; !ok {
		l.log.Errorf("reservation %d scheduled on unknown resource %q", r.ID, res)
		return fmt.Errorf("%w: %q", ErrUnknownResource, res)
	}
	span := l.span(r)
	l.committed[res] = append(l.committed[res], r)
	l.busy[res].Union(span)
	l.free[res] = l.free[res].Subtract(span)
	l.isCommitted[r.ID] = true
	delete(l.unscheduled, r.ID)
	return nil
}

// Uncommit reverts Commit and unschedules r.
func (l *Ledger) Uncommit(r *reservation.Reservation) error {
	if !l.isCommitted[r.ID] {
		l.log.Errorf("uncommit of reservation %d that is not committed", r.ID)
		return fmt.Errorf("%w: %d", ErrNotCommitted, r.ID)
	}
	res := r.ScheduledResource
	list := l.committed[res]
	for i, c := range list {
		if c == r {
			l.committed[res] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	span := l.span(r)
	l.busy[res] = l.busy[res].Subtract(span)
	l.free[res].Union(span)
	delete(l.isCommitted, r.ID)
	r.Unschedule()
	if _, ok := l.index[r.ID]; ok {
		l.unscheduled[r.ID] = r
	}
	return nil
}
