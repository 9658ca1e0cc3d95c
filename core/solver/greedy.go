package solver

import (
	"context"
	"sort"
	"time"
)

// Greedy sets variables to one in decreasing objective order whenever every
// inequality row still holds, then clears the variables of violated equality
// rows. It never proves optimality.
type Greedy struct{}

// NewGreedy returns the heuristic backend.
func NewGreedy() *Greedy { return &Greedy{} }

// Name implements Solver.
func (*Greedy) Name() string { return "greedy" }

// Solve implements Solver.
func (g *Greedy) Solve(ctx context.Context, m Model, _ Options) (Result, error) {
	start := time.Now()
	if err := m.Validate(); err != nil {
		return Result{}, wrap(err)
	}
	if err := ctx.Err(); err != nil {
		return Result{Status: StatusTimeoutNoIncumbent, Elapsed: time.Since(start)}, nil
	}
	x := greedyAssign(m)
	if x == nil {
		return Result{Status: StatusInfeasible, Elapsed: time.Since(start)}, nil
	}
	return Result{Status: StatusFeasible, X: x, Objective: m.Value(x), Elapsed: time.Since(start)}, nil
}

// greedyAssign returns a feasible binary vector or nil.
func greedyAssign(m Model) []float64 {
	n := m.NumVars()
	rowsOf := make([][]int, n)
	for ri, c := range m.Constraints {
		for _, v := range c.Vars {
			rowsOf[v] = append(rowsOf[v], ri)
		}
	}
	coef := func(ri, v int) float64 {
		c := m.Constraints[ri]
		for i, cv := range c.Vars {
			if cv == v {
				return c.Coefs[i]
			}
		}
		return 0
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	hinted := func(i int) bool { return m.Start != nil && m.Start[i] > 0.5 }
	sort.SliceStable(order, func(a, b int) bool {
		ha, hb := hinted(order[a]), hinted(order[b])
		if ha != hb {
			return ha
		}
		return m.Objective[order[a]] > m.Objective[order[b]]
	})

	x := make([]float64, n)
	lhs := make([]float64, len(m.Constraints))
	fits := func(v int) bool {
		for _, ri := range rowsOf[v] {
			c := m.Constraints[ri]
			if c.Sense == LessEqual && lhs[ri]+coef(ri, v) > c.RHS+feasTol {
				return false
			}
		}
		return true
	}
	set := func(v int, val float64) {
		delta := val - x[v]
		x[v] = val
		for _, ri := range rowsOf[v] {
			lhs[ri] += delta * coef(ri, v)
		}
	}
	for _, v := range order {
		if m.Objective[v] <= 0 && !hinted(v) {
			continue
		}
		if fits(v) {
			set(v, 1)
		}
	}

	// Clearing a violated equality row can break another one, so repeat
	// until stable.
	for changed := true; changed; {
		changed = false
		for ri, c := range m.Constraints {
			if c.Sense != Equal || (lhs[ri] >= c.RHS-feasTol && lhs[ri] <= c.RHS+feasTol) {
				continue
			}
			for _, v := range c.Vars {
				if x[v] != 0 {
					set(v, 0)
					changed = true
				}
			}
		}
	}
	if !m.Feasible(x) {
		return nil
	}
	return x
}
