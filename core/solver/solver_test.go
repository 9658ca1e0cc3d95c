package solver

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/obsched/core/factory"
)

func le(name string, rhs float64, vars ...int) Constraint {
	coefs := make([]float64, len(vars))
	for i := range coefs {
		coefs[i] = 1
	}
	return Constraint{Name: name, Vars: vars, Coefs: coefs, Sense: LessEqual, RHS: rhs}
}

// andModel has an AND pair {a0|a1, b0} where b0 competes with a more valuable
// lone candidate c for the same slice. Scheduling the pair is worth more.
func andModel() Model {
	return Model{
		Objective: []float64{1.1, 1.05, 1.1, 1.5},
		Constraints: []Constraint{
			le("res-a", 1, 0, 1),
			le("res-b", 1, 2),
			le("res-c", 1, 3),
			le("slice", 1, 2, 3),
			{Name: "and", Vars: []int{0, 1, 2}, Coefs: []float64{1, 1, -1}, Sense: Equal},
		},
	}
}

func TestBranchAndBoundOptimal(t *testing.T) {
	m := Model{
		Objective:   []float64{3, 2, 2},
		Constraints: []Constraint{le("s1", 1, 0, 1), le("s2", 1, 0, 2)},
	}
	res, err := NewBranchAndBound().Solve(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, res.Status)
	assert.Equal(t, []float64{0, 1, 1}, res.X)
	assert.InDelta(t, 4, res.Objective, 1e-9)
}

func TestBranchAndBoundBeatsGreedyOnAnd(t *testing.T) {
	m := andModel()

	g, err := NewGreedy().Solve(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusFeasible, g.Status)
	assert.Equal(t, []float64{0, 0, 0, 1}, g.X)

	res, err := NewBranchAndBound().Solve(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, res.Status)
	assert.Equal(t, []float64{1, 0, 1, 0}, res.X)
	assert.InDelta(t, 2.2, res.Objective, 1e-9)
}

func TestBranchAndBoundGapAcceptsIncumbent(t *testing.T) {
	res, err := NewBranchAndBound().Solve(context.Background(), andModel(), Options{Gap: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusFeasible, res.Status)
	assert.InDelta(t, 1.5, res.Objective, 1e-9)
}

func TestInfeasible(t *testing.T) {
	m := Model{
		Objective: []float64{1},
		Constraints: []Constraint{
			{Name: "must", Vars: []int{0}, Coefs: []float64{1}, Sense: Equal, RHS: 1},
			le("never", 0, 0),
		},
	}
	for _, s := range []Solver{NewBranchAndBound(), NewGreedy()} {
		res, err := s.Solve(context.Background(), m, Options{})
		require.NoError(t, err, s.Name())
		if res.Status != StatusInfeasible {
			t.Fatalf("%s: expected infeasible got %s", s.Name(), res.Status)
		}
		if res.Status.Usable() {
			t.Fatalf("%s: infeasible result reported usable", s.Name())
		}
	}
}

func TestTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewBranchAndBound().Solve(ctx, andModel(), Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusFeasible, res.Status, "greedy incumbent survives the stop")
	assert.Equal(t, 0, res.Nodes)

	infeasible := Model{
		Objective:   []float64{1},
		Constraints: []Constraint{{Vars: []int{0}, Coefs: []float64{1}, Sense: Equal, RHS: 1}, le("no", 0, 0)},
	}
	res, err = NewBranchAndBound().Solve(ctx, infeasible, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusTimeoutNoIncumbent, res.Status)
	assert.Nil(t, res.X)
}

func TestWarmStartUsedWhenFeasible(t *testing.T) {
	m := andModel()
	m.Start = []float64{1, 0, 1, 0}
	x := greedyAssign(m)
	assert.Equal(t, []float64{1, 0, 1, 0}, x, "hinted variables are placed first")

	m.Start = []float64{1, 1, 1, 1}
	res, err := NewBranchAndBound().Solve(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, res.Status)
}

func TestValidateErrorIsSolverError(t *testing.T) {
	m := Model{Objective: []float64{1}, Constraints: []Constraint{{Vars: []int{3}, Coefs: []float64{1}}}}
	for _, s := range []Solver{NewBranchAndBound(), NewGreedy()} {
		if _, err := s.Solve(context.Background(), m, Options{}); !errors.Is(err, ErrSolver) {
			t.Fatalf("%s: expected ErrSolver got %v", s.Name(), err)
		}
	}
}

func TestEmptyModel(t *testing.T) {
	res, err := NewBranchAndBound().Solve(context.Background(), Model{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, res.Status)
	assert.Empty(t, res.X)
}

func bruteForce(m Model) float64 {
	n := m.NumVars()
	best := math.Inf(-1)
	x := make([]float64, n)
	for mask := 0; mask < 1<<n; mask++ {
		for i := range x {
			x[i] = float64((mask >> i) & 1)
		}
		if m.Feasible(x) {
			best = math.Max(best, m.Value(x))
		}
	}
	return best
}

func TestBranchAndBoundMatchesEnumeration(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 40; trial++ {
		n := 3 + rng.Intn(6)
		m := Model{Objective: make([]float64, n)}
		for i := range m.Objective {
			m.Objective[i] = 1 + float64(rng.Intn(20))/10
		}
		for r := 0; r < 2+rng.Intn(5); r++ {
			var vars []int
			for v := 0; v < n; v++ {
				if rng.Intn(3) == 0 {
					vars = append(vars, v)
				}
			}
			if len(vars) > 0 {
				m.Constraints = append(m.Constraints, le("r", 1, vars...))
			}
		}
		if rng.Intn(2) == 0 && n >= 2 {
			m.Constraints = append(m.Constraints,
				Constraint{Name: "eq", Vars: []int{0, 1}, Coefs: []float64{1, -1}, Sense: Equal})
		}

		want := bruteForce(m)
		res, err := NewBranchAndBound().Solve(context.Background(), m, Options{})
		require.NoError(t, err)
		if res.Status != StatusOptimal {
			t.Fatalf("trial %d: status %s", trial, res.Status)
		}
		if !m.Feasible(res.X) {
			t.Fatalf("trial %d: infeasible result %v", trial, res.X)
		}
		if math.Abs(res.Objective-want) > 1e-6 {
			t.Fatalf("trial %d: objective %v want %v", trial, res.Objective, want)
		}
	}
}

func TestRegistry(t *testing.T) {
	s, err := New(factory.ModuleConfig{})
	require.NoError(t, err)
	assert.Equal(t, "branch_and_bound", s.Name())

	s, err = New(factory.ModuleConfig{Type: "branch_and_bound", Conf: map[string]any{"max_nodes": 10.0}})
	require.NoError(t, err)
	assert.Equal(t, 10, s.(*BranchAndBound).MaxNodes)

	s, err = New(factory.ModuleConfig{Type: "greedy"})
	require.NoError(t, err)
	assert.Equal(t, "greedy", s.Name())

	_, err = New(factory.ModuleConfig{Type: "cplex"})
	assert.Error(t, err)
	assert.Contains(t, Names(), "greedy")
}

func TestStatusText(t *testing.T) {
	var s Status
	require.NoError(t, s.UnmarshalText([]byte("timeout_no_incumbent")))
	assert.Equal(t, StatusTimeoutNoIncumbent, s)
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
	assert.True(t, StatusFeasible.Usable())
}
