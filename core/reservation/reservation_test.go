package reservation

import (
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/kilianp07/obsched/core/interval"
)

func windows(res string, s, e int64) map[string]*interval.Set {
	return map[string]*interval.Set{res: interval.MustSet(interval.Range{Start: s, End: e})}
}

func TestScheduleUnschedule(t *testing.T) {
	r := New(1, 2, 10, windows("foo", 0, 100))
	r.Schedule(20, 15, "foo", "test")
	span, ok := r.Span()
	if !ok || span.Start != 20 || span.End != 35 || r.ScheduledResource != "foo" {
		t.Fatalf("unexpected span %v %v", span, r)
	}
	r.Unschedule()
	if r.Scheduled || r.ScheduledResource != "" || r.ScheduledQuantum != 0 {
		t.Fatalf("unschedule left state behind: %+v", r)
	}
	if _, ok := r.Span(); ok {
		t.Fatalf("unscheduled reservation has a span")
	}
}

func TestFreeWindowsAreIndependent(t *testing.T) {
	w := windows("foo", 0, 100)
	r := New(1, 1, 10, w)
	r.Free["foo"] = interval.Empty()
	if r.Possible["foo"].IsEmpty() || w["foo"].IsEmpty() {
		t.Fatalf("narrowing free windows leaked into possible windows")
	}
	r.ResetFree()
	if !r.Free["foo"].Equal(r.Possible["foo"]) {
		t.Fatalf("reset did not restore free windows")
	}
	r.Free["bar"] = interval.MustSet(interval.Range{Start: 0, End: 5})
	r.Restrict("bar")
	if got := r.Resources(); len(got) != 1 || got[0] != "bar" {
		t.Fatalf("restrict kept %v", got)
	}
}

func TestCompoundShapes(t *testing.T) {
	a := New(1, 1, 1, windows("foo", 0, 10))
	b := New(2, 1, 1, windows("foo", 0, 10))
	if _, err := NewCompound(Single, a, b); !errors.Is(err, ErrInvalidCompound) {
		t.Fatalf("single with two children: %v", err)
	}
	if _, err := NewCompound(Many, a, b); !errors.Is(err, ErrInvalidCompound) {
		t.Fatalf("unexpanded many: %v", err)
	}
	if _, err := NewCompound(And); !errors.Is(err, ErrInvalidCompound) {
		t.Fatalf("empty and: %v", err)
	}
	c, err := NewCompound(And, a, b)
	if err != nil {
		t.Fatalf("and: %v", err)
	}
	if a.ParentKind() != And {
		t.Fatalf("parent kind not recorded")
	}
	a.Schedule(0, 1, "foo", "t")
	if c.Scheduled() {
		t.Fatalf("and with one child scheduled must not be scheduled")
	}
	b.Schedule(1, 1, "foo", "t")
	if !c.Scheduled() {
		t.Fatalf("and with all children scheduled must be scheduled")
	}
	b.Unschedule()
	if c.Scheduled() {
		t.Fatalf("unschedule did not propagate")
	}
}

func TestDeriveScheduled(t *testing.T) {
	cases := []struct {
		kind   Kind
		states []bool
		want   bool
	}{
		{Single, []bool{true}, true},
		{Single, []bool{false}, false},
		{OneOf, []bool{false, true, false}, true},
		{OneOf, []bool{false, false}, false},
		{And, []bool{true, true}, true},
		{And, []bool{true, false}, false},
		{And, nil, false},
	}
	for _, c := range cases {
		if got := DeriveScheduled(c.kind, c.states); got != c.want {
			t.Fatalf("%s %v: expected %v got %v", c.kind, c.states, c.want, got)
		}
	}
}

func TestLessOrdering(t *testing.T) {
	hi := New(1, 5, 1, nil)
	lo := New(2, 1, 1, nil)
	if !Less(lo, hi) || Less(hi, lo) {
		t.Fatalf("priority must dominate")
	}

	single := New(3, 1, 1, nil)
	andChild := New(4, 1, 1, nil)
	oneofChild := New(5, 1, 1, nil)
	other := New(6, 1, 1, nil)
	mustCompound(t, Single, single)
	mustCompound(t, And, andChild, other)
	mustCompound(t, OneOf, oneofChild)

	if !Less(single, andChild) || Less(andChild, single) {
		t.Fatalf("and child must outrank single")
	}
	if !Less(oneofChild, single) || Less(single, oneofChild) {
		t.Fatalf("oneof child must be outranked")
	}
	if !Less(other, andChild) {
		t.Fatalf("equal kinds fall back to creation order")
	}

	all := []*Reservation{oneofChild, single, andChild, lo, hi}
	sort.SliceStable(all, func(i, j int) bool { return Less(all[j], all[i]) })
	if all[0] != hi || all[1] != andChild || all[len(all)-1] != oneofChild {
		t.Fatalf("unexpected order %v", all)
	}
}

func mustCompound(t *testing.T, k Kind, rs ...*Reservation) *Compound {
	t.Helper()
	c, err := NewCompound(k, rs...)
	if err != nil {
		t.Fatalf("compound: %v", err)
	}
	return c
}

func TestKindText(t *testing.T) {
	var k Kind
	if err := json.Unmarshal([]byte(`"ONEOF"`), &k); err != nil || k != OneOf {
		t.Fatalf("decode kind: %v %v", k, err)
	}
	if _, err := ParseKind("xor"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestReservationJSON(t *testing.T) {
	r := New(7, 3, 60, windows("foo", 0, 100))
	r.Ref = "req-1"
	r.Schedule(10, 60, "foo", "ilp")
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Reservation
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.ID != 7 || back.ScheduledStart != 10 || back.ScheduledResource != "foo" || back.Ref != "req-1" {
		t.Fatalf("unexpected %+v", back)
	}
}
