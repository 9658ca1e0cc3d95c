package slicing

import (
	"fmt"

	"github.com/kilianp07/obsched/core/reservation"
	"github.com/kilianp07/obsched/core/solver"
)

// RankBonus scales the tie-break that prefers earlier candidates of one
// reservation. It assumes priorities are spaced at least 1 apart.
const RankBonus = 0.1

// Weight is the objective coefficient of candidate c.
func Weight(c Candidate) float64 {
	return c.Priority + RankBonus/float64(c.Rank+1)
}

// Linear emits the 0/1 program of the model. Variable i is Candidates[i].
// Rows come in a fixed order: ONEOF groups, per-reservation exclusivity for
// reservations outside ONEOF groups, per-slice exclusivity, then AND
// equalities.
func (m *Model) Linear() solver.Model {
	lm := solver.Model{Objective: make([]float64, len(m.Candidates))}
	hinted := false
	for i, c := range m.Candidates {
		lm.Objective[i] = Weight(c)
		hinted = hinted || c.Hinted
	}
	if hinted {
		lm.Start = make([]float64, len(m.Candidates))
		for i, c := range m.Candidates {
			if c.Hinted {
				lm.Start[i] = 1
			}
		}
	}

	for gi, g := range m.oneOf {
		if vars := m.varsOf(g...); len(vars) > 0 {
			lm.Constraints = append(lm.Constraints, atMostOne(fmt.Sprintf("oneof[%d]", gi), vars))
		}
	}
	for _, id := range m.order {
		if m.inOneOf[id] {
			continue
		}
		if vars := m.varsOf(id); len(vars) > 0 {
			lm.Constraints = append(lm.Constraints, atMostOne(fmt.Sprintf("res[%d]", id), vars))
		}
	}
	for _, k := range m.SliceKeys() {
		lm.Constraints = append(lm.Constraints,
			atMostOne(fmt.Sprintf("slice[%s@%d]", k.Resource, k.Time), m.SliceIndex[k]))
	}
	// A chain of equalities between consecutive children is equivalent to
	// all pairwise equalities and keeps the rows independent.
	for gi, g := range m.and {
		for i := 0; i+1 < len(g); i++ {
			a, b := m.varsOf(g[i]), m.varsOf(g[i+1])
			row := solver.Constraint{Name: fmt.Sprintf("and[%d][%d]", gi, i), Sense: solver.Equal}
			for _, v := range a {
				row.Vars = append(row.Vars, v)
				row.Coefs = append(row.Coefs, 1)
			}
			for _, v := range b {
				row.Vars = append(row.Vars, v)
				row.Coefs = append(row.Coefs, -1)
			}
			lm.Constraints = append(lm.Constraints, row)
		}
	}
	return lm
}

func (m *Model) varsOf(ids ...reservation.ID) []int {
	var out []int
	for _, id := range ids {
		out = append(out, m.ByReservation[id]...)
	}
	return out
}

func atMostOne(name string, vars []int) solver.Constraint {
	coefs := make([]float64, len(vars))
	for i := range coefs {
		coefs[i] = 1
	}
	return solver.Constraint{
		Name:  name,
		Vars:  append([]int(nil), vars...),
		Coefs: coefs,
		Sense: solver.LessEqual,
		RHS:   1,
	}
}
