// Package request translates request groups, as submitted by users, into the
// compound reservations the scheduling kernel works on. It owns reservation
// id allocation and remembers which request each reservation came from.
package request

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kilianp07/obsched/core/interval"
	"github.com/kilianp07/obsched/core/reservation"
)

// ErrInvalidRequest reports a group or request that cannot be translated.
var ErrInvalidRequest = errors.New("request: invalid request")

// Request is one observation of fixed duration.
type Request struct {
	ID string `json:"id" yaml:"id"`
	// Duration in seconds.
	Duration int64 `json:"duration" yaml:"duration"`
	// Windows holds the admissible time per resource, already reduced to
	// visibility and downtime.
	Windows map[string]*interval.Set `json:"windows" yaml:"windows"`
	// Priority overrides the group priority when set.
	Priority *float64 `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Group combines requests under one operator.
type Group struct {
	ID            string           `json:"id" yaml:"id"`
	Operator      reservation.Kind `json:"operator" yaml:"operator"`
	Priority      float64          `json:"priority" yaml:"priority"`
	RapidResponse bool             `json:"rapid_response" yaml:"rapid_response"`
	Requests      []Request        `json:"requests" yaml:"requests"`
}

// Ref locates the request a reservation was built from.
type Ref struct {
	Group   string `json:"group"`
	Request string `json:"request"`
}

func (r Ref) String() string { return r.Group + "/" + r.Request }

// Sequence hands out reservation ids. It is safe for concurrent use.
type Sequence struct{ last atomic.Int64 }

// Next returns a fresh id.
func (s *Sequence) Next() reservation.ID { return reservation.ID(s.last.Add(1)) }

// Translator builds compounds from groups.
type Translator struct {
	seq *Sequence
	// Hints maps request ids to their placement in a previous schedule.
	Hints map[string]reservation.Placement

	mu   sync.RWMutex
	refs map[reservation.ID]Ref
}

// NewTranslator returns a translator drawing ids from seq, or from a private
// sequence when seq is nil.
func NewTranslator(seq *Sequence) *Translator {
	if seq == nil {
		seq = &Sequence{}
	}
	return &Translator{seq: seq, refs: make(map[reservation.ID]Ref)}
}

// Translate converts one group. MANY groups expand into one SINGLE compound
// per request.
func (t *Translator) Translate(g Group) ([]*reservation.Compound, error) {
	if g.ID == "" {
		return nil, fmt.Errorf("%w: group without id", ErrInvalidRequest)
	}
	if len(g.Requests) == 0 {
		return nil, fmt.Errorf("%w: group %s has no requests", ErrInvalidRequest, g.ID)
	}
	if g.Operator == reservation.Single && len(g.Requests) != 1 {
		return nil, fmt.Errorf("%w: single group %s has %d requests", ErrInvalidRequest, g.ID, len(g.Requests))
	}
	rs := make([]*reservation.Reservation, 0, len(g.Requests))
	for _, req := range g.Requests {
		r, err := t.reservation(g, req)
		if err != nil {
			return nil, err
		}
		rs = append(rs, r)
	}

	if g.Operator == reservation.Many {
		out := make([]*reservation.Compound, 0, len(rs))
		for _, r := range rs {
			c, err := reservation.NewCompound(reservation.Single, r)
			if err != nil {
				return nil, err
			}
			c.Ref = g.ID
			out = append(out, c)
		}
		return out, nil
	}
	c, err := reservation.NewCompound(g.Operator, rs...)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", g.ID, err)
	}
	c.Ref = g.ID
	return []*reservation.Compound{c}, nil
}

func (t *Translator) reservation(g Group, req Request) (*reservation.Reservation, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("%w: request without id in group %s", ErrInvalidRequest, g.ID)
	}
	if req.Duration <= 0 {
		return nil, fmt.Errorf("%w: request %s has duration %d", ErrInvalidRequest, req.ID, req.Duration)
	}
	prio := g.Priority
	if req.Priority != nil {
		prio = *req.Priority
	}
	id := t.seq.Next()
	r := reservation.New(id, prio, req.Duration, req.Windows)
	ref := Ref{Group: g.ID, Request: req.ID}
	r.Ref = ref.String()
	if h, ok := t.Hints[req.ID]; ok {
		r.Hint = &reservation.Placement{Resource: h.Resource, Start: h.Start}
	}
	t.mu.Lock()
	t.refs[id] = ref
	t.mu.Unlock()
	return r, nil
}

// TranslateAll converts every group and splits the result into rapid
// response and normal compounds. Invalid groups are skipped and reported
// together in the returned error.
func (t *Translator) TranslateAll(groups []Group) (urgent, normal []*reservation.Compound, err error) {
	var errs []error
	for _, g := range groups {
		cs, e := t.Translate(g)
		if e != nil {
			errs = append(errs, e)
			continue
		}
		if g.RapidResponse {
			urgent = append(urgent, cs...)
		} else {
			normal = append(normal, cs...)
		}
	}
	return urgent, normal, errors.Join(errs...)
}

// Lookup returns the request a reservation was built from.
func (t *Translator) Lookup(id reservation.ID) (Ref, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.refs[id]
	return r, ok
}
