// Package solver defines a backend-neutral sparse 0/1 linear model and the
// Solver capability interface that turns it into an assignment vector.
//
// Two backends are provided: BranchAndBound, an exact search bounded by LP
// relaxations solved with gonum's simplex, and Greedy, a fast heuristic used
// as a fallback and as the initial incumbent of the exact search.
package solver

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSolver wraps internal backend failures. A pass that hits it must be
// discarded; it is never reported as an empty schedule.
var ErrSolver = errors.New("solver: internal error")

// Sense is the relation of a constraint row.
type Sense int8

const (
	LessEqual Sense = iota
	Equal
)

func (s Sense) String() string {
	if s == Equal {
		return "="
	}
	return "<="
}

// Constraint is one sparse row: sum(Coefs[i]*x[Vars[i]]) Sense RHS.
type Constraint struct {
	Name  string
	Vars  []int
	Coefs []float64
	Sense Sense
	RHS   float64
}

// Model is a 0/1 program maximizing Objective·x.
type Model struct {
	Objective   []float64
	Constraints []Constraint
	// Start is an optional warm start; it is used only when feasible.
	Start []float64
}

// NumVars returns the number of decision variables.
func (m Model) NumVars() int { return len(m.Objective) }

// Value returns Objective·x.
func (m Model) Value(x []float64) float64 {
	var v float64
	for i, c := range m.Objective {
		v += c * x[i]
	}
	return v
}

const feasTol = 1e-6

// Feasible reports whether x is binary and satisfies every row.
func (m Model) Feasible(x []float64) bool {
	if len(x) != m.NumVars() {
		return false
	}
	for _, v := range x {
		if v != 0 && v != 1 {
			return false
		}
	}
	for _, c := range m.Constraints {
		var lhs float64
		for i, v := range c.Vars {
			lhs += c.Coefs[i] * x[v]
		}
		switch c.Sense {
		case LessEqual:
			if lhs > c.RHS+feasTol {
				return false
			}
		case Equal:
			if lhs < c.RHS-feasTol || lhs > c.RHS+feasTol {
				return false
			}
		}
	}
	return true
}

// Validate checks the row shapes.
func (m Model) Validate() error {
	n := m.NumVars()
	for i, c := range m.Constraints {
		if len(c.Vars) != len(c.Coefs) {
			return fmt.Errorf("row %d (%s): %d vars but %d coefficients", i, c.Name, len(c.Vars), len(c.Coefs))
		}
		for _, v := range c.Vars {
			if v < 0 || v >= n {
				return fmt.Errorf("row %d (%s): variable %d out of range", i, c.Name, v)
			}
		}
	}
	if m.Start != nil && len(m.Start) != n {
		return fmt.Errorf("warm start has %d entries for %d variables", len(m.Start), n)
	}
	return nil
}

// Status classifies a solver outcome.
type Status int

const (
	// StatusOptimal: the result is proven optimal.
	StatusOptimal Status = iota
	// StatusFeasible: the result is usable but only proven within the gap
	// tolerance, or the search stopped early with an incumbent.
	StatusFeasible
	// StatusInfeasible: no assignment satisfies the model.
	StatusInfeasible
	// StatusTimeoutNoIncumbent: the limit expired before any assignment was
	// found.
	StatusTimeoutNoIncumbent
)

var statusNames = [...]string{"optimal", "feasible", "infeasible", "timeout_no_incumbent"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Usable reports whether the result carries an assignment to unpack.
func (s Status) Usable() bool { return s == StatusOptimal || s == StatusFeasible }

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	for i, n := range statusNames {
		if n == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("solver: unknown status %q", b)
}

// Options tune one solve.
type Options struct {
	// TimeLimit bounds the search; zero means no limit beyond the context.
	TimeLimit time.Duration
	// Gap is the relative optimality gap accepted before declaring a result
	// final.
	Gap float64
}

// Result is the outcome of a solve.
type Result struct {
	Status    Status
	X         []float64
	Objective float64
	Nodes     int
	Elapsed   time.Duration
}

// Solver turns a model into an assignment.
type Solver interface {
	Name() string
	Solve(ctx context.Context, m Model, opts Options) (Result, error)
}
