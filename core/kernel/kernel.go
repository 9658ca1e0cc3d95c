// Package kernel runs one scheduling pass: it books compound reservations in a
// ledger, discretizes them into slice candidates, solves the resulting 0/1
// program and commits the chosen candidates back into the ledger.
//
// A Scheduler moves through BUILT, SOLVED and UNPACKED exactly once; a new
// instance is needed for every pass.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/obsched/core/interval"
	"github.com/kilianp07/obsched/core/ledger"
	"github.com/kilianp07/obsched/core/logger"
	"github.com/kilianp07/obsched/core/reservation"
	"github.com/kilianp07/obsched/core/slicing"
	"github.com/kilianp07/obsched/core/solver"
)

// ErrAlreadySolved is returned when ScheduleAll is called twice.
var ErrAlreadySolved = errors.New("kernel: scheduler already solved")

// Config tunes one pass.
type Config struct {
	Slicing   slicing.Config
	TimeLimit time.Duration
	Gap       float64
}

type state int

const (
	stateBuilt state = iota
	stateSolved
	stateUnpacked
)

// Stats summarizes a pass.
type Stats struct {
	Resources    int
	Reservations int
	Candidates   int
	Rows         int
	Scheduled    int
	Objective    float64
	Nodes        int
	SolveTime    time.Duration
}

// Result is the outcome of ScheduleAll. Schedule is empty unless Status is
// usable.
type Result struct {
	Schedule map[string][]*reservation.Reservation
	Status   solver.Status
	Dropped  []reservation.ID
	Stats    Stats
}

// Scheduler owns the ledger and slice model of one pass.
type Scheduler struct {
	log    logger.Logger
	solver solver.Solver
	cfg    Config

	ledger *ledger.Ledger
	model  *slicing.Model
	state  state
}

// New builds the ledger and slice model for compounds against the globally
// possible windows.
func New(compounds []*reservation.Compound, possible map[string]*interval.Set, s solver.Solver, cfg Config, log logger.Logger) *Scheduler {
	log = logger.OrNop(log)
	l := ledger.New(compounds, possible, log)
	return &Scheduler{
		log:    log,
		solver: s,
		cfg:    cfg,
		ledger: l,
		model:  slicing.Build(l, cfg.Slicing),
	}
}

// Ledger exposes the booking state of the pass.
func (s *Scheduler) Ledger() *ledger.Ledger { return s.ledger }

// Model exposes the slice model of the pass.
func (s *Scheduler) Model() *slicing.Model { return s.model }

// ScheduleAll solves the pass and commits the selected candidates. Infeasible
// and timed out solves yield an empty schedule and no error; solver internal
// errors are returned and nothing is committed.
func (s *Scheduler) ScheduleAll(ctx context.Context) (Result, error) {
	if s.state != stateBuilt {
		return Result{}, ErrAlreadySolved
	}
	lm := s.model.Linear()
	res := Result{
		Schedule: map[string][]*reservation.Reservation{},
		Dropped:  s.ledger.Dropped(),
		Stats: Stats{
			Resources:    len(s.ledger.Resources()),
			Reservations: len(s.ledger.Reservations()),
			Candidates:   len(s.model.Candidates),
			Rows:         len(lm.Constraints),
		},
	}
	s.log.Debugw("solving pass", map[string]any{
		"solver":       s.solver.Name(),
		"reservations": res.Stats.Reservations,
		"candidates":   res.Stats.Candidates,
		"rows":         res.Stats.Rows,
	})

	out, err := s.solver.Solve(ctx, lm, solver.Options{TimeLimit: s.cfg.TimeLimit, Gap: s.cfg.Gap})
	s.state = stateSolved
	if err != nil {
		s.log.Errorf("solver %s failed: %v", s.solver.Name(), err)
		return Result{}, fmt.Errorf("kernel: solve: %w", err)
	}
	res.Status = out.Status
	res.Stats.Objective = out.Objective
	res.Stats.Nodes = out.Nodes
	res.Stats.SolveTime = out.Elapsed

	switch out.Status {
	case solver.StatusInfeasible:
		s.log.Infof("model infeasible, empty schedule")
	case solver.StatusTimeoutNoIncumbent:
		s.log.Warnf("solver %s timed out without an incumbent after %s, empty schedule", s.solver.Name(), out.Elapsed)
	}
	if out.Status.Usable() {
		if err := s.unpack(out); err != nil {
			return Result{}, err
		}
		res.Schedule = s.ledger.Committed()
		for _, rs := range res.Schedule {
			res.Stats.Scheduled += len(rs)
		}
	}
	s.state = stateUnpacked
	return res, nil
}

func (s *Scheduler) unpack(out solver.Result) error {
	if len(out.X) != len(s.model.Candidates) {
		return fmt.Errorf("%w: %d values for %d candidates", solver.ErrSolver, len(out.X), len(s.model.Candidates))
	}
	reason := fmt.Sprintf("%s (%s)", s.solver.Name(), out.Status)
	for i, x := range out.X {
		if x < 0.5 {
			continue
		}
		c := s.model.Candidates[i]
		r, ok := s.ledger.Reservation(c.Reservation)
		if !ok || r.Scheduled {
			return fmt.Errorf("%w: candidate %d selects reservation %d twice", solver.ErrSolver, i, c.Reservation)
		}
		r.Schedule(c.Start, c.Quantum, c.Resource, reason)
		if err := s.ledger.Commit(r); err != nil {
			return fmt.Errorf("kernel: unpack: %w", err)
		}
	}
	return nil
}
