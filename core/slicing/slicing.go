// Package slicing discretizes the free windows of reservations into aligned
// time slices. Every feasible start becomes a candidate (one decision
// variable) that records the slices it would occupy; the slice index maps each
// occupied (resource, slice) key back to the candidates using it.
package slicing

import (
	"sort"

	"github.com/kilianp07/obsched/core/ledger"
	"github.com/kilianp07/obsched/core/reservation"
)

// DefaultSliceSize is used when no slice length is configured.
const DefaultSliceSize int64 = 300

// Spec is the slice grid of one resource: boundaries sit at
// Alignment + k*Length.
type Spec struct {
	Alignment int64 `json:"alignment" yaml:"alignment"`
	Length    int64 `json:"length" yaml:"length"`
}

// Config holds the global slice size and per-resource overrides.
type Config struct {
	SliceSize int64           `json:"slice_size_seconds" yaml:"slice_size_seconds"`
	Resources map[string]Spec `json:"resources" yaml:"resources"`
}

// For returns the grid of resource.
func (c Config) For(resource string) Spec {
	if s, ok := c.Resources[resource]; ok && s.Length > 0 {
		return s
	}
	size := c.SliceSize
	if size <= 0 {
		size = DefaultSliceSize
	}
	return Spec{Length: size}
}

// floor returns the last boundary at or before t.
func (s Spec) floor(t int64) int64 {
	off := (t - s.Alignment) % s.Length
	if off < 0 {
		off += s.Length
	}
	return t - off
}

// ceil returns the first boundary at or after t.
func (s Spec) ceil(t int64) int64 {
	f := s.floor(t)
	if f == t {
		return t
	}
	return f + s.Length
}

// Key identifies one slice of one resource.
type Key struct {
	Resource string
	Time     int64
}

// Candidate is one feasible placement of a reservation (one row of Yik).
type Candidate struct {
	Reservation reservation.ID
	// Rank orders the candidates of one reservation by start.
	Rank     int
	Priority float64
	Resource string
	// Start is the internal start: the window start for the first candidate
	// of a run, a slice boundary afterwards.
	Start int64
	// Quantum spans from Start to the end of the last occupied slice, cut
	// at the end of the free run.
	Quantum int64
	Slices  []Key
	// Hinted marks the placement of a previous solution.
	Hinted bool
}

// Model is the discretized problem of one pass.
type Model struct {
	Candidates []Candidate
	SliceIndex map[Key][]int
	// ByReservation lists candidate indices per reservation in rank order.
	ByReservation map[reservation.ID][]int

	order []reservation.ID
	oneOf [][]reservation.ID
	and   [][]reservation.ID
	// inOneOf holds reservations already limited by a ONEOF row.
	inOneOf map[reservation.ID]bool
}

// Build discretizes every surviving reservation of the ledger.
func Build(l *ledger.Ledger, cfg Config) *Model {
	m := &Model{
		SliceIndex:    make(map[Key][]int),
		ByReservation: make(map[reservation.ID][]int),
		inOneOf:       make(map[reservation.ID]bool),
	}

	rs := l.Reservations()
	sort.SliceStable(rs, func(i, j int) bool { return reservation.Less(rs[j], rs[i]) })
	for _, r := range rs {
		m.order = append(m.order, r.ID)
		m.addReservation(r, cfg)
	}

	for _, g := range l.OneOfGroups() {
		ids := make([]reservation.ID, len(g))
		for i, r := range g {
			ids[i] = r.ID
			m.inOneOf[r.ID] = true
		}
		m.oneOf = append(m.oneOf, ids)
	}
	for _, g := range l.AndGroups() {
		ids := make([]reservation.ID, len(g))
		for i, r := range g {
			ids[i] = r.ID
		}
		m.and = append(m.and, ids)
	}
	return m
}

func (m *Model) addReservation(r *reservation.Reservation, cfg Config) {
	var cands []Candidate
	for _, res := range r.Resources() {
		spec := cfg.For(res)
		for _, w := range r.Free[res].Ranges() {
			cands = append(cands, slice(r, res, spec, w.Start, w.End)...)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Start != cands[j].Start {
			return cands[i].Start < cands[j].Start
		}
		return cands[i].Resource < cands[j].Resource
	})
	for rank := range cands {
		c := cands[rank]
		c.Rank = rank
		idx := len(m.Candidates)
		m.Candidates = append(m.Candidates, c)
		m.ByReservation[r.ID] = append(m.ByReservation[r.ID], idx)
		for _, k := range c.Slices {
			m.SliceIndex[k] = append(m.SliceIndex[k], idx)
		}
	}
}

// slice enumerates the candidates of r inside the free run [start,end). The
// first candidate begins at the run start; later ones slide one slice at a
// time from the boundary preceding it while the run still fits the duration.
// A quantum never reaches past end, even when the last slice does.
func slice(r *reservation.Reservation, res string, spec Spec, start, end int64) []Candidate {
	var out []Candidate
	sliceStart := spec.floor(start)
	internal := start
	for end-internal >= r.Duration {
		runEnd := spec.ceil(internal + r.Duration)
		if runEnd == sliceStart {
			runEnd += spec.Length
		}
		var keys []Key
		for t := sliceStart; t < runEnd; t += spec.Length {
			keys = append(keys, Key{Resource: res, Time: t})
		}
		out = append(out, Candidate{
			Reservation: r.ID,
			Priority:    r.Priority,
			Resource:    res,
			Start:       internal,
			Quantum:     min(runEnd, end) - internal,
			Slices:      keys,
			Hinted:      r.Hint != nil && r.Hint.Resource == res && r.Hint.Start == internal,
		})
		sliceStart += spec.Length
		internal = sliceStart
	}
	return out
}

// Reservations returns the reservation ids in variable order.
func (m *Model) Reservations() []reservation.ID { return append([]reservation.ID(nil), m.order...) }

// SliceKeys returns the occupied slice keys sorted by resource and time.
func (m *Model) SliceKeys() []Key {
	keys := make([]Key, 0, len(m.SliceIndex))
	for k := range m.SliceIndex {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Resource != keys[j].Resource {
			return keys[i].Resource < keys[j].Resource
		}
		return keys[i].Time < keys[j].Time
	})
	return keys
}
