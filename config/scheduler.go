package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/obsched/core/factory"
	"github.com/kilianp07/obsched/core/kernel"
	"github.com/kilianp07/obsched/core/slicing"
	"github.com/kilianp07/obsched/core/solver"
)

// SchedulerConfig tunes the scheduling kernel and the cycle loop.
type SchedulerConfig struct {
	// SliceSizeSeconds is the default slice length and alignment.
	SliceSizeSeconds int64 `json:"slice_size_seconds"`
	// Resources overrides [alignment, length] per resource. It is a list
	// because resource names contain the koanf key delimiter.
	Resources []ResourceSlices `json:"resources"`
	// TimeLimitSeconds bounds one solver run. It defaults to a sixth of the
	// cycle timeout and must stay below it.
	TimeLimitSeconds float64 `json:"time_limit_seconds"`
	// GapTolerance is the relative optimality gap the solver may stop at.
	GapTolerance float64              `json:"gap_tolerance"`
	Solver       factory.ModuleConfig `json:"solver"`
	// HorizonSeconds limits how far past now a cycle schedules; 0 keeps the
	// snapshot's own horizon.
	HorizonSeconds       int64 `json:"horizon_seconds"`
	CycleIntervalSeconds int   `json:"cycle_interval_seconds"`
	CycleTimeoutSeconds  int   `json:"cycle_timeout_seconds"`
}

// SetDefaults applies sane defaults.
func (c *SchedulerConfig) SetDefaults() {
	if c.SliceSizeSeconds <= 0 {
		c.SliceSizeSeconds = 300
	}
	if c.Solver.Type == "" {
		c.Solver.Type = "branch_and_bound"
	}
	if c.CycleIntervalSeconds <= 0 {
		c.CycleIntervalSeconds = 60
	}
	if c.CycleTimeoutSeconds <= 0 {
		c.CycleTimeoutSeconds = 30
	}
	if c.TimeLimitSeconds == 0 {
		c.TimeLimitSeconds = float64(c.CycleTimeoutSeconds) / 6
	}
}

// Validate checks value ranges and that the solver backend exists.
func (c SchedulerConfig) Validate() error {
	if c.SliceSizeSeconds <= 0 {
		return fmt.Errorf("slice_size_seconds must be positive")
	}
	for _, r := range c.Resources {
		if r.Name == "" {
			return fmt.Errorf("resource slice override without name")
		}
		if r.Length <= 0 || r.Alignment < 0 {
			return fmt.Errorf("resource %s: slice length must be positive and alignment non-negative", r.Name)
		}
	}
	if c.TimeLimitSeconds <= 0 {
		return fmt.Errorf("time_limit_seconds must be positive")
	}
	if c.CycleTimeoutSeconds > 0 && c.TimeLimitSeconds >= float64(c.CycleTimeoutSeconds) {
		return fmt.Errorf("time_limit_seconds must be below cycle_timeout_seconds (%d)", c.CycleTimeoutSeconds)
	}
	if c.GapTolerance < 0 || c.GapTolerance >= 1 {
		return fmt.Errorf("gap_tolerance must be in [0,1)")
	}
	if c.HorizonSeconds < 0 {
		return fmt.Errorf("horizon_seconds must not be negative")
	}
	known := false
	for _, n := range solver.Names() {
		if n == c.Solver.Type {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("unknown solver %q (known: %v)", c.Solver.Type, solver.Names())
	}
	return nil
}

// Kernel returns the per-pass kernel configuration.
func (c SchedulerConfig) Kernel() kernel.Config {
	specs := make(map[string]slicing.Spec, len(c.Resources))
	for _, r := range c.Resources {
		specs[r.Name] = slicing.Spec{Alignment: r.Alignment, Length: r.Length}
	}
	return kernel.Config{
		Slicing: slicing.Config{
			SliceSize: c.SliceSizeSeconds,
			Resources: specs,
		},
		TimeLimit: time.Duration(c.TimeLimitSeconds * float64(time.Second)),
		Gap:       c.GapTolerance,
	}
}

// CycleInterval returns the pause between cycles.
func (c SchedulerConfig) CycleInterval() time.Duration {
	return time.Duration(c.CycleIntervalSeconds) * time.Second
}

// CycleTimeout returns the wall-clock budget of one cycle.
func (c SchedulerConfig) CycleTimeout() time.Duration {
	return time.Duration(c.CycleTimeoutSeconds) * time.Second
}

// ResourceSlices is the slice grid of one resource.
type ResourceSlices struct {
	Name      string `json:"name"`
	Alignment int64  `json:"alignment"`
	Length    int64  `json:"length"`
}
