package preemption

import (
	"context"
	"fmt"
	"sort"

	"github.com/kilianp07/obsched/core/solver"
)

// Option is the value of giving resource to request, the index of a
// compound competing for preemption.
type Option struct {
	Resource string
	Request  int
	Value    float64
}

// OptimalCombination selects a maximum total value assignment in which every
// resource and every request is used at most once. The assignment is solved as
// a 0/1 program with s. Options with a non positive value are ignored.
func OptimalCombination(ctx context.Context, s solver.Solver, options []Option) ([]Option, error) {
	var opts []Option
	for _, o := range options {
		if o.Value > 0 {
			opts = append(opts, o)
		}
	}
	if len(opts) == 0 {
		return nil, nil
	}
	sort.Slice(opts, func(i, j int) bool {
		if opts[i].Resource != opts[j].Resource {
			return opts[i].Resource < opts[j].Resource
		}
		return opts[i].Request < opts[j].Request
	})

	m := solver.Model{Objective: make([]float64, len(opts))}
	byResource := map[string][]int{}
	byRequest := map[int][]int{}
	var resources []string
	var requests []int
	for i, o := range opts {
		m.Objective[i] = o.Value
		if _, ok := byResource[o.Resource]; !ok {
			resources = append(resources, o.Resource)
		}
		byResource[o.Resource] = append(byResource[o.Resource], i)
		if _, ok := byRequest[o.Request]; !ok {
			requests = append(requests, o.Request)
		}
		byRequest[o.Request] = append(byRequest[o.Request], i)
	}
	sort.Ints(requests)
	row := func(name string, vars []int) solver.Constraint {
		coefs := make([]float64, len(vars))
		for i := range coefs {
			coefs[i] = 1
		}
		return solver.Constraint{Name: name, Vars: vars, Coefs: coefs, Sense: solver.LessEqual, RHS: 1}
	}
	for _, r := range resources {
		m.Constraints = append(m.Constraints, row("resource["+r+"]", byResource[r]))
	}
	for _, r := range requests {
		m.Constraints = append(m.Constraints, row(fmt.Sprintf("request[%d]", r), byRequest[r]))
	}

	res, err := s.Solve(ctx, m, solver.Options{})
	if err != nil {
		return nil, fmt.Errorf("preemption: combination: %w", err)
	}
	if !res.Status.Usable() {
		return nil, nil
	}
	var out []Option
	for i, x := range res.X {
		if x > 0.5 {
			out = append(out, opts[i])
		}
	}
	return out, nil
}
