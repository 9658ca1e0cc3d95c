package preemption

import (
	"fmt"
	"sort"

	"github.com/kilianp07/obsched/core/interval"
	"github.com/kilianp07/obsched/core/reservation"
)

// BuildMask returns, per resource, the time still claimed from now on by the
// running requests keep accepts. Failing requests are never part of a mask.
func BuildMask(groups []RunningRequestGroup, now int64, keep func(RunningRequestGroup, RunningRequest) bool) map[string]*interval.Set {
	mask := make(map[string]*interval.Set)
	for _, g := range groups {
		for _, r := range g.Requests {
			if r.Failing() || (keep != nil && !keep(g, r)) {
				continue
			}
			start := max(r.Start, now)
			if start >= r.End {
				continue
			}
			if mask[r.Resource] == nil {
				mask[r.Resource] = interval.Empty()
			}
			mask[r.Resource].Union(interval.MustSet(interval.Range{Start: start, End: r.End}))
		}
	}
	return mask
}

// MergeMasks unions masks resource by resource into a new map.
func MergeMasks(masks ...map[string]*interval.Set) map[string]*interval.Set {
	out := make(map[string]*interval.Set)
	for _, m := range masks {
		for res, w := range m {
			if w.IsEmpty() {
				continue
			}
			if out[res] == nil {
				out[res] = interval.Empty()
			}
			out[res].Union(w)
		}
	}
	return out
}

// applyMask returns possible minus mask, clipped to [now, +inf).
func applyMask(possible map[string]*interval.Set, now int64, mask map[string]*interval.Set) map[string]*interval.Set {
	out := make(map[string]*interval.Set, len(possible))
	for res, w := range possible {
		free := w.Clone()
		if b, ok := free.Bounds(); ok && b.Start < now {
			free = free.Subtract(interval.MustSet(interval.Range{Start: b.Start, End: now}))
		}
		if m, ok := mask[res]; ok {
			free = free.Subtract(m)
		}
		out[res] = free
	}
	return out
}

// CancellationWindows returns, per resource, exactly the time claimed by the
// committed schedule.
func CancellationWindows(schedule map[string][]*reservation.Reservation) map[string]*interval.Set {
	out := make(map[string]*interval.Set, len(schedule))
	for res, rs := range schedule {
		w := interval.Empty()
		for _, r := range rs {
			if span, ok := r.Span(); ok {
				w.Union(interval.MustSet(span))
			}
		}
		if !w.IsEmpty() {
			out[res] = w
		}
	}
	return out
}

// SelectAborts picks the running requests on the given resources whose time
// overlaps a placement in schedule. Running work that does not collide with a
// placement is left alone.
func SelectAborts(groups []RunningRequestGroup, now int64, resources map[string]bool, schedule map[string][]*reservation.Reservation) []Abort {
	var out []Abort
	for _, g := range groups {
		if g.RapidResponse {
			continue
		}
		for _, run := range g.Requests {
			if run.Failing() || !resources[run.Resource] {
				continue
			}
			live := interval.Range{Start: max(run.Start, now), End: run.End}
			if live.Start >= live.End {
				continue
			}
			for _, r := range schedule[run.Resource] {
				span, ok := r.Span()
				if !ok || !span.Overlaps(live) {
					continue
				}
				out = append(out, Abort{
					Group:   g.ID,
					Running: run,
					Reason: fmt.Sprintf("preempted by rapid response reservation %d (%s) on %s at %s",
						r.ID, r.Ref, run.Resource, span),
				})
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Running.Resource != out[j].Running.Resource {
			return out[i].Running.Resource < out[j].Running.Resource
		}
		return out[i].Running.Start < out[j].Running.Start
	})
	return out
}
