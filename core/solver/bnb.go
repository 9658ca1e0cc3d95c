package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const intTol = 1e-6

// BranchAndBound is an exact depth-first branch and bound over 0/1
// variables. Each node solves the LP relaxation of the model restricted by the
// node's fixings with gonum's simplex.
type BranchAndBound struct {
	// Tolerance is passed to lp.Simplex.
	Tolerance float64
	// MaxNodes stops the search after this many nodes; zero means unlimited.
	MaxNodes int
}

// NewBranchAndBound returns the exact backend with default settings.
func NewBranchAndBound() *BranchAndBound {
	return &BranchAndBound{Tolerance: 1e-9}
}

// Name implements Solver.
func (*BranchAndBound) Name() string { return "branch_and_bound" }

func wrap(err error) error { return fmt.Errorf("%w: %v", ErrSolver, err) }

// node holds variable fixings: -1 free, 0 or 1 fixed.
type node []int8

func (n node) with(v int, val int8) node {
	cp := make(node, len(n))
	copy(cp, n)
	cp[v] = val
	return cp
}

// Solve implements Solver.
func (b *BranchAndBound) Solve(ctx context.Context, m Model, opts Options) (Result, error) {
	start := time.Now()
	if err := m.Validate(); err != nil {
		return Result{}, wrap(err)
	}
	n := m.NumVars()
	if n == 0 {
		return Result{Status: StatusOptimal, X: []float64{}, Elapsed: time.Since(start)}, nil
	}
	if opts.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.TimeLimit)
		defer cancel()
	}

	var (
		best     []float64
		bestVal  = math.Inf(-1)
		gapPrune bool
		stopped  bool
		nodes    int
	)
	offer := func(x []float64) {
		if x == nil || !m.Feasible(x) {
			return
		}
		if v := m.Value(x); v > bestVal+intTol {
			best, bestVal = append([]float64(nil), x...), v
		}
	}
	if m.Start != nil {
		offer(m.Start)
	}
	offer(greedyAssign(m))

	root := make(node, n)
	for i := range root {
		root[i] = -1
	}
	stack := []node{root}
	rootInfeasible := false
	for len(stack) > 0 {
		if ctx.Err() != nil || (b.MaxNodes > 0 && nodes >= b.MaxNodes) {
			stopped = true
			break
		}
		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nodes++

		rel, err := b.relax(m, nd)
		if err != nil {
			return Result{}, wrap(err)
		}
		if rel.infeasible {
			if nodes == 1 {
				rootInfeasible = true
			}
			continue
		}
		if best != nil {
			if rel.bound <= bestVal+intTol {
				continue
			}
			if opts.Gap > 0 && rel.bound <= bestVal+opts.Gap*math.Abs(bestVal) {
				gapPrune = true
				continue
			}
		}

		v := branchVar(nd, rel.x)
		if v < 0 {
			offer(rel.x)
			continue
		}
		// The one-branch is pushed last so it is explored first.
		stack = append(stack, nd.with(v, 0), nd.with(v, 1))
	}

	res := Result{X: best, Objective: bestVal, Nodes: nodes, Elapsed: time.Since(start)}
	switch {
	case best == nil && stopped:
		res.Status = StatusTimeoutNoIncumbent
	case best == nil || (rootInfeasible && best == nil):
		res.Status = StatusInfeasible
	case stopped || gapPrune:
		res.Status = StatusFeasible
	default:
		res.Status = StatusOptimal
	}
	if best == nil {
		res.Objective = 0
	}
	return res, nil
}

// branchVar picks the free variable whose relaxed value is closest to one
// half. It returns -1 when the relaxation is integral on every free variable.
// A nil x (no LP point available) branches on the first free variable.
func branchVar(nd node, x []float64) int {
	pick, bestDist := -1, math.Inf(1)
	for i, f := range nd {
		if f >= 0 {
			continue
		}
		if x == nil {
			return i
		}
		frac := x[i] - math.Floor(x[i])
		if frac < intTol || frac > 1-intTol {
			continue
		}
		if d := math.Abs(frac - 0.5); d < bestDist {
			pick, bestDist = i, d
		}
	}
	return pick
}

type relaxation struct {
	infeasible bool
	bound      float64
	// x is the full relaxed point, or nil when only a combinatorial bound
	// could be computed.
	x []float64
}

// relax builds and solves the LP relaxation of m under the node's fixings.
// Fixed variables are substituted out; inequality rows and the x<=1 bounds
// get one slack column each so the system is in lp.Simplex standard form:
// minimize c·z subject to A z = b, z >= 0.
func (b *BranchAndBound) relax(m Model, nd node) (relaxation, error) {
	n := m.NumVars()
	col := make([]int, n)
	var free []int
	fixedVal := 0.0
	for i, f := range nd {
		col[i] = -1
		switch f {
		case -1:
			col[i] = len(free)
			free = append(free, i)
		case 1:
			fixedVal += m.Objective[i]
		}
	}

	type row struct {
		coefs map[int]float64
		slack bool
		rhs   float64
	}
	var rows []row
	for _, c := range m.Constraints {
		rhs := c.RHS
		coefs := make(map[int]float64)
		for k, v := range c.Vars {
			if col[v] >= 0 {
				coefs[col[v]] += c.Coefs[k]
			} else if nd[v] == 1 {
				rhs -= c.Coefs[k]
			}
		}
		for j, a := range coefs {
			if a == 0 {
				delete(coefs, j)
			}
		}
		if len(coefs) == 0 {
			if (c.Sense == LessEqual && rhs < -feasTol) || (c.Sense == Equal && math.Abs(rhs) > feasTol) {
				return relaxation{infeasible: true}, nil
			}
			continue
		}
		rows = append(rows, row{coefs: coefs, slack: c.Sense == LessEqual, rhs: rhs})
	}

	if len(free) == 0 {
		x := make([]float64, n)
		for i, f := range nd {
			x[i] = float64(f)
		}
		return relaxation{bound: fixedVal, x: x}, nil
	}
	for j := range free {
		rows = append(rows, row{coefs: map[int]float64{j: 1}, slack: true, rhs: 1})
	}

	nSlack := 0
	for _, r := range rows {
		if r.slack {
			nSlack++
		}
	}
	nCols := len(free) + nSlack
	A := mat.NewDense(len(rows), nCols, nil)
	bv := make([]float64, len(rows))
	s := len(free)
	for i, r := range rows {
		sign := 1.0
		if r.rhs < 0 {
			sign = -1
		}
		for j, a := range r.coefs {
			A.Set(i, j, sign*a)
		}
		if r.slack {
			A.Set(i, s, sign)
			s++
		}
		bv[i] = sign * r.rhs
	}
	c := make([]float64, nCols)
	for j, v := range free {
		c[j] = -m.Objective[v]
	}

	optF, z, err := simplex(c, A, bv, b.Tolerance)
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return relaxation{infeasible: true}, nil
	case err != nil:
		// Numerical trouble in the LP is not fatal: fall back to the
		// trivial bound that every free variable with positive weight is set.
		bound := fixedVal
		for _, v := range free {
			if m.Objective[v] > 0 {
				bound += m.Objective[v]
			}
		}
		return relaxation{bound: bound}, nil
	}

	x := make([]float64, n)
	for i, f := range nd {
		if f >= 0 {
			x[i] = float64(f)
		}
	}
	for j, v := range free {
		x[v] = clamp01(z[j])
	}
	return relaxation{bound: fixedVal - optF, x: x}, nil
}

// simplex calls lp.Simplex and turns its shape panics into errors.
func simplex(c []float64, A mat.Matrix, b []float64, tol float64) (optF float64, x []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("simplex: %v", r)
		}
	}()
	return lp.Simplex(c, A, b, tol, nil)
}

func clamp01(v float64) float64 {
	switch {
	case v < intTol:
		return 0
	case v > 1-intTol:
		return 1
	}
	return v
}
