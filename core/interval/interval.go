// Package interval implements ordered, coalesced sets of half-open [start,end)
// time ranges expressed in integer seconds. A Set is always kept in canonical
// form: sorted, non-overlapping, non-touching and free of empty ranges.
package interval

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMalformed is returned when a timepoint or range sequence does not
// describe a valid set of intervals.
var ErrMalformed = errors.New("interval: malformed sequence")

// Kind marks a timepoint as the opening or closing edge of a range.
// End sorts before Start so that touching ranges close before they reopen.
type Kind int8

const (
	End Kind = iota
	Start
)

func (k Kind) String() string {
	if k == Start {
		return "start"
	}
	return "end"
}

// Timepoint is one edge of a range.
type Timepoint struct {
	Time int64
	Kind Kind
}

// Range is a half-open [Start,End) span.
type Range struct {
	Start int64 `json:"start" yaml:"start"`
	End   int64 `json:"end" yaml:"end"`
}

// Duration returns End-Start.
func (r Range) Duration() int64 { return r.End - r.Start }

// Overlaps reports whether both ranges share at least one instant.
func (r Range) Overlaps(o Range) bool { return r.Start < o.End && o.Start < r.End }

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

// Set is a canonical collection of ranges. The zero value is an empty set.
type Set struct {
	points []Timepoint
}

// Empty returns a new empty set.
func Empty() *Set { return &Set{} }

// FromRanges builds a set from arbitrary ranges, merging overlaps and
// dropping empty ranges. A reversed range is an error.
func FromRanges(ranges ...Range) (*Set, error) {
	s := &Set{points: make([]Timepoint, 0, 2*len(ranges))}
	for _, r := range ranges {
		if r.End < r.Start {
			return nil, fmt.Errorf("%w: reversed range %s", ErrMalformed, r)
		}
		s.points = append(s.points, Timepoint{Time: r.Start, Kind: Start}, Timepoint{Time: r.End, Kind: End})
	}
	s.cleanUp()
	return s, nil
}

// MustSet is like FromRanges but panics on malformed input.
func MustSet(ranges ...Range) *Set {
	s, err := FromRanges(ranges...)
	if err != nil {
		panic(err)
	}
	return s
}

// FromTimepoints builds a set from (start,end) timepoint pairs. The sequence
// must have an even length and alternate Start, End with non-decreasing time
// inside each pair.
func FromTimepoints(tps []Timepoint) (*Set, error) {
	if len(tps)%2 != 0 {
		return nil, fmt.Errorf("%w: odd timepoint count %d", ErrMalformed, len(tps))
	}
	s := &Set{points: make([]Timepoint, 0, len(tps))}
	for i := 0; i < len(tps); i += 2 {
		a, b := tps[i], tps[i+1]
		if a.Kind != Start || b.Kind != End {
			return nil, fmt.Errorf("%w: unmatched %s at %d", ErrMalformed, a.Kind, a.Time)
		}
		if b.Time < a.Time {
			return nil, fmt.Errorf("%w: reversed pair at %d", ErrMalformed, a.Time)
		}
		s.points = append(s.points, a, b)
	}
	s.cleanUp()
	return s, nil
}

func (s *Set) pts() []Timepoint {
	if s == nil {
		return nil
	}
	return s.points
}

// IsEmpty reports whether the set holds no time.
func (s *Set) IsEmpty() bool { return len(s.pts()) == 0 }

// Len returns the number of maximal runs.
func (s *Set) Len() int { return len(s.pts()) / 2 }

// Clone returns an independent copy.
func (s *Set) Clone() *Set {
	p := s.pts()
	cp := make([]Timepoint, len(p))
	copy(cp, p)
	return &Set{points: cp}
}

// Timepoints returns a copy of the canonical timepoint sequence.
func (s *Set) Timepoints() []Timepoint { return s.Clone().points }

// Ranges returns the maximal runs in ascending order.
func (s *Set) Ranges() []Range {
	p := s.pts()
	out := make([]Range, 0, len(p)/2)
	for i := 0; i+1 < len(p); i += 2 {
		out = append(out, Range{Start: p[i].Time, End: p[i+1].Time})
	}
	return out
}

// Bounds returns the hull of the set. ok is false for an empty set.
func (s *Set) Bounds() (r Range, ok bool) {
	p := s.pts()
	if len(p) == 0 {
		return Range{}, false
	}
	return Range{Start: p[0].Time, End: p[len(p)-1].Time}, true
}

// Equal reports whether both sets cover exactly the same time.
func (s *Set) Equal(o *Set) bool {
	a, b := s.pts(), o.pts()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Contains reports whether r lies entirely inside one run of the set.
func (s *Set) Contains(r Range) bool {
	for _, run := range s.Ranges() {
		if run.Start <= r.Start && r.End <= run.End {
			return true
		}
	}
	return false
}

func (s *Set) String() string {
	parts := make([]string, 0, s.Len())
	for _, r := range s.Ranges() {
		parts = append(parts, r.String())
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func sortPoints(p []Timepoint) {
	sort.SliceStable(p, func(i, j int) bool {
		if p[i].Time != p[j].Time {
			return p[i].Time < p[j].Time
		}
		return p[i].Kind < p[j].Kind
	})
}

// cleanUp restores canonical form. All edges at one instant are applied
// together, so an End followed by a Start at the same time cancels out and
// touching ranges merge. A Start is emitted only when depth rises from zero and
// an End only when it falls back to zero.
func (s *Set) cleanUp() {
	p := s.points
	sortPoints(p)
	out := make([]Timepoint, 0, len(p))
	depth := 0
	for i := 0; i < len(p); {
		t := p[i].Time
		before := depth
		for ; i < len(p) && p[i].Time == t; i++ {
			if p[i].Kind == Start {
				depth++
			} else {
				depth--
			}
		}
		switch {
		case before <= 0 && depth > 0:
			out = append(out, Timepoint{Time: t, Kind: Start})
		case before > 0 && depth <= 0:
			out = append(out, Timepoint{Time: t, Kind: End})
		}
	}
	if depth != 0 {
		panic(fmt.Sprintf("%v: unbalanced depth %d after sweep", ErrMalformed, depth))
	}
	s.points = out
}

// Union adds o to s in place.
func (s *Set) Union(o *Set) {
	if o.IsEmpty() {
		return
	}
	s.points = append(s.points, o.pts()...)
	s.cleanUp()
}

// Complement replaces s with the time inside [absStart,absEnd) that s did
// not cover. Runs outside the bound are discarded.
func (s *Set) Complement(absStart, absEnd int64) {
	var out []Timepoint
	cursor := absStart
	for _, r := range s.Ranges() {
		if r.End <= absStart || r.Start >= absEnd {
			continue
		}
		if r.Start > cursor {
			out = append(out, Timepoint{Time: cursor, Kind: Start}, Timepoint{Time: r.Start, Kind: End})
		}
		if r.End > cursor {
			cursor = r.End
		}
	}
	if cursor < absEnd {
		out = append(out, Timepoint{Time: cursor, Kind: Start}, Timepoint{Time: absEnd, Kind: End})
	}
	s.points = out
}

type taggedPoint struct {
	Timepoint
	weight int
}

// sweep merges the edges of several canonical sets, each carrying a weight,
// and emits the runs where the accumulated weight satisfies in.
func sweep(in func(depth int) bool, sets []*Set, weights []int) *Set {
	var all []taggedPoint
	for i, set := range sets {
		for _, tp := range set.pts() {
			all = append(all, taggedPoint{Timepoint: tp, weight: weights[i]})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Time != all[j].Time {
			return all[i].Time < all[j].Time
		}
		return all[i].Kind < all[j].Kind
	})
	out := &Set{}
	depth := 0
	for i := 0; i < len(all); {
		t := all[i].Time
		wasIn := in(depth)
		for ; i < len(all) && all[i].Time == t; i++ {
			if all[i].Kind == Start {
				depth += all[i].weight
			} else {
				depth -= all[i].weight
			}
		}
		isIn := in(depth)
		switch {
		case !wasIn && isIn:
			out.points = append(out.points, Timepoint{Time: t, Kind: Start})
		case wasIn && !isIn:
			out.points = append(out.points, Timepoint{Time: t, Kind: End})
		}
	}
	return out
}

// Intersect returns the time covered by s and by every set in others. The
// result is empty, never nil, when nothing overlaps.
func (s *Set) Intersect(others ...*Set) *Set {
	if s.IsEmpty() {
		return Empty()
	}
	sets := make([]*Set, 0, len(others)+1)
	weights := make([]int, 0, len(others)+1)
	sets = append(sets, s)
	weights = append(weights, 1)
	for _, o := range others {
		if o.IsEmpty() {
			return Empty()
		}
		sets = append(sets, o)
		weights = append(weights, 1)
	}
	full := len(sets)
	return sweep(func(d int) bool { return d == full }, sets, weights)
}

// Subtract returns the time in s that is not in o. s itself is returned
// unchanged when either side is empty.
func (s *Set) Subtract(o *Set) *Set {
	if s.IsEmpty() || o.IsEmpty() {
		return s
	}
	return sweep(func(d int) bool { return d == 2 }, []*Set{s, o}, []int{2, 1})
}

// RemoveShorterThan drops every run narrower than d.
func (s *Set) RemoveShorterThan(d int64) {
	var out []Timepoint
	for _, r := range s.Ranges() {
		if r.Duration() >= d {
			out = append(out, Timepoint{Time: r.Start, Kind: Start}, Timepoint{Time: r.End, Kind: End})
		}
	}
	s.points = out
}

// TrimToTotal keeps runs from the front until total seconds are covered,
// truncating the last kept run to the exact remainder.
func (s *Set) TrimToTotal(total int64) {
	var out []Timepoint
	remaining := total
	for _, r := range s.Ranges() {
		if remaining <= 0 {
			break
		}
		end := r.End
		if r.Duration() > remaining {
			end = r.Start + remaining
		}
		out = append(out, Timepoint{Time: r.Start, Kind: Start}, Timepoint{Time: end, Kind: End})
		remaining -= end - r.Start
	}
	s.points = out
}

// TotalDuration returns the number of seconds covered.
func (s *Set) TotalDuration() int64 {
	var total int64
	for _, r := range s.Ranges() {
		total += r.Duration()
	}
	return total
}

// FindFirstRunOfLength returns the start of the earliest run at least length
// seconds long.
func (s *Set) FindFirstRunOfLength(length int64) (int64, bool) {
	for _, r := range s.Ranges() {
		if r.Duration() >= length {
			return r.Start, true
		}
	}
	return 0, false
}
