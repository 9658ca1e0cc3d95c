// Package preemption runs a scheduling cycle as two strictly ordered passes.
// The urgent pass places rapid response compounds and may abort running
// work to make room; the normal pass then schedules everything else around
// running work and the urgent commitments.
package preemption

import (
	"context"
	"sort"

	"github.com/kilianp07/obsched/core/interval"
	"github.com/kilianp07/obsched/core/kernel"
	"github.com/kilianp07/obsched/core/logger"
	"github.com/kilianp07/obsched/core/reservation"
	"github.com/kilianp07/obsched/core/solver"
)

// Coordinator sequences the urgent and normal passes of a cycle.
type Coordinator struct {
	solver solver.Solver
	// matcher solves the resource assignment of preempting compounds.
	matcher solver.Solver
	cfg     kernel.Config
	log     logger.Logger
}

// NewCoordinator returns a coordinator solving every pass with s.
func NewCoordinator(s solver.Solver, cfg kernel.Config, log logger.Logger) *Coordinator {
	return &Coordinator{
		solver:  s,
		matcher: solver.NewBranchAndBound(),
		cfg:     cfg,
		log:     logger.OrNop(log),
	}
}

// RunCycle runs the urgent pass then the normal pass. An urgent pass failure
// aborts the cycle; a normal pass failure still returns the urgent result.
func (c *Coordinator) RunCycle(ctx context.Context, in CycleInput) (CycleResult, error) {
	base := applyMask(in.Possible, in.Now, in.Blocks)

	urgent, err := c.urgentPass(ctx, in, base)
	if err != nil {
		return CycleResult{}, &PassError{Pass: PassUrgent, Err: err}
	}
	aborted := make(map[string]bool, len(urgent.Aborts))
	for _, a := range urgent.Aborts {
		aborted[a.Running.ID] = true
	}

	running := BuildMask(in.Running, in.Now, func(_ RunningRequestGroup, r RunningRequest) bool {
		return !aborted[r.ID]
	})
	normal, err := c.pass(ctx, PassNormal, in.Normal, applyMask(base, in.Now, MergeMasks(running, urgent.Consumed)))
	if err != nil {
		return CycleResult{Urgent: urgent}, &PassError{Pass: PassNormal, Err: err}
	}
	normal.Solves = 1
	return CycleResult{Urgent: urgent, Normal: normal}, nil
}

// solve runs one kernel pass over fresh copies of the children's windows.
// Compounds listed in only may use nothing but the given resource.
func (c *Coordinator) solve(ctx context.Context, compounds []*reservation.Compound, possible map[string]*interval.Set,
	only map[*reservation.Compound]string) (kernel.Result, error) {
	for _, cp := range compounds {
		for _, r := range cp.Children {
			r.ResetFree()
			if res, ok := only[cp]; ok {
				r.Restrict(res)
			}
		}
	}
	return kernel.New(compounds, possible, c.solver, c.cfg, c.log).ScheduleAll(ctx)
}

func (c *Coordinator) pass(ctx context.Context, p Pass, compounds []*reservation.Compound, possible map[string]*interval.Set) (PassResult, error) {
	res, err := c.solve(ctx, compounds, possible, nil)
	if err != nil {
		return PassResult{}, err
	}
	out := PassResult{
		Pass:     p,
		Schedule: res.Schedule,
		Consumed: CancellationWindows(res.Schedule),
		Status:   res.Status,
		Dropped:  res.Dropped,
		Stats:    res.Stats,
	}
	c.log.Infof("%s pass: %d/%d reservations scheduled (%s)", p, out.Scheduled(), res.Stats.Reservations, res.Status)
	return out, nil
}

func (c *Coordinator) urgentPass(ctx context.Context, in CycleInput, base map[string]*interval.Set) (PassResult, error) {
	strict := BuildMask(in.Running, in.Now, func(g RunningRequestGroup, _ RunningRequest) bool { return g.RapidResponse })
	abortable := BuildMask(in.Running, in.Now, func(g RunningRequestGroup, _ RunningRequest) bool { return !g.RapidResponse })

	// First try to fit everything around all running work.
	first, err := c.pass(ctx, PassUrgent, in.Urgent, applyMask(base, in.Now, MergeMasks(strict, abortable)))
	if err != nil {
		return PassResult{}, err
	}
	first.Solves = 1

	var unplaced []*reservation.Compound
	for _, cp := range in.Urgent {
		if !cp.Scheduled() {
			unplaced = append(unplaced, cp)
		}
	}
	if len(unplaced) == 0 || len(abortable) == 0 {
		return first, nil
	}

	// Value every (resource, compound) pair by lifting only that resource's
	// abortable work.
	taken := MergeMasks(strict, first.Consumed)
	var options []Option
	for i, cp := range unplaced {
		for _, res := range sortedKeys(abortable) {
			v, err := c.probe(ctx, in, base, cp, res, taken, abortable)
			if err != nil {
				return PassResult{}, err
			}
			first.Solves++
			if v > 0 {
				options = append(options, Option{Resource: res, Request: i, Value: v})
			}
		}
	}
	chosen, err := OptimalCombination(ctx, c.matcher, options)
	if err != nil {
		return PassResult{}, err
	}
	if len(chosen) == 0 {
		c.log.Infof("urgent pass: %d compound(s) cannot be placed even with preemption", len(unplaced))
		return first, nil
	}

	lifted := make(map[string]bool, len(chosen))
	only := make(map[*reservation.Compound]string, len(chosen))
	var second []*reservation.Compound
	for _, o := range chosen {
		i := o.Request
		lifted[o.Resource] = true
		second = append(second, unplaced[i])
		if unplaced[i].Kind != reservation.And {
			only[unplaced[i]] = o.Resource
		}
	}
	res, err := c.solve(ctx, second, applyMask(base, in.Now, MergeMasks(taken, without(abortable, lifted))), only)
	first.Solves++
	if err != nil {
		return PassResult{}, err
	}

	merged := mergeSchedules(first.Schedule, res.Schedule)
	aborts := SelectAborts(in.Running, in.Now, lifted, res.Schedule)
	for _, a := range aborts {
		c.log.Warnf("aborting running request %s on %s: %s", a.Running.ID, a.Running.Resource, a.Reason)
	}
	first.Schedule = merged
	first.Consumed = CancellationWindows(merged)
	first.Aborts = aborts
	first.Dropped = stillDropped(in.Urgent, first.Dropped, res.Dropped)
	first.Stats.Scheduled += res.Stats.Scheduled
	first.Stats.Nodes += res.Stats.Nodes
	first.Stats.SolveTime += res.Stats.SolveTime
	if !res.Status.Usable() || res.Status == solver.StatusFeasible {
		first.Status = res.Status
	}
	return first, nil
}

// probe solves cp alone with the abortable work of res lifted. It returns 0
// when cp still cannot be placed, otherwise the compound's priority plus a
// term that shrinks with the hours of running work it would displace.
func (c *Coordinator) probe(ctx context.Context, in CycleInput, base map[string]*interval.Set, cp *reservation.Compound,
	res string, taken, abortable map[string]*interval.Set) (float64, error) {
	mask := MergeMasks(taken, without(abortable, map[string]bool{res: true}))
	var only map[*reservation.Compound]string
	if cp.Kind != reservation.And {
		only = map[*reservation.Compound]string{cp: res}
	}
	out, err := c.solve(ctx, []*reservation.Compound{cp}, applyMask(base, in.Now, mask), only)
	if err != nil {
		return 0, err
	}
	defer func() {
		for _, r := range cp.Children {
			r.Unschedule()
		}
	}()
	if !cp.Scheduled() {
		return 0, nil
	}
	var value float64
	displaced := int64(0)
	for _, r := range cp.Children {
		if !r.Scheduled {
			continue
		}
		value += r.Priority
		if r.ScheduledResource != res {
			continue
		}
		span, _ := r.Span()
		displaced += displacedSeconds(in, res, span)
	}
	c.log.Debugw("preemption probe", map[string]any{
		"resource":  res,
		"compound":  cp.Ref,
		"displaced": displaced,
		"status":    out.Status.String(),
	})
	return value + 1/(1+float64(displaced)/3600), nil
}

// displacedSeconds sums the remaining time of abortable running requests on
// res that overlap span.
func displacedSeconds(in CycleInput, res string, span interval.Range) int64 {
	var total int64
	for _, g := range in.Running {
		if g.RapidResponse {
			continue
		}
		for _, r := range g.Requests {
			live := interval.Range{Start: max(r.Start, in.Now), End: r.End}
			if r.Resource != res || r.Failing() || live.Start >= live.End || !live.Overlaps(span) {
				continue
			}
			total += live.Duration()
		}
	}
	return total
}

// stillDropped merges the dropped ids of both attempts, forgetting the ones a
// later attempt managed to schedule.
func stillDropped(compounds []*reservation.Compound, lists ...[]reservation.ID) []reservation.ID {
	scheduled := map[reservation.ID]bool{}
	for _, cp := range compounds {
		for _, r := range cp.Children {
			if r.Scheduled {
				scheduled[r.ID] = true
			}
		}
	}
	seen := map[reservation.ID]bool{}
	var out []reservation.ID
	for _, l := range lists {
		for _, id := range l {
			if !scheduled[id] && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

func without(m map[string]*interval.Set, drop map[string]bool) map[string]*interval.Set {
	out := make(map[string]*interval.Set, len(m))
	for k, v := range m {
		if !drop[k] {
			out[k] = v
		}
	}
	return out
}

func mergeSchedules(a, b map[string][]*reservation.Reservation) map[string][]*reservation.Reservation {
	out := make(map[string][]*reservation.Reservation, len(a)+len(b))
	for _, m := range []map[string][]*reservation.Reservation{a, b} {
		for res, rs := range m {
			out[res] = append(out[res], rs...)
		}
	}
	for _, rs := range out {
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].ScheduledStart < rs[j].ScheduledStart })
	}
	return out
}

func sortedKeys(m map[string]*interval.Set) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
