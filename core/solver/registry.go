package solver

import "github.com/kilianp07/obsched/core/factory"

// BranchAndBoundConfig configures the exact backend.
type BranchAndBoundConfig struct {
	Tolerance float64 `json:"tolerance"`
	MaxNodes  int     `json:"max_nodes"`
}

var registry = factory.NewRegistry[Solver]()

func init() {
	registry.MustRegister("branch_and_bound", func(conf map[string]any) (Solver, error) {
		var c BranchAndBoundConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		b := NewBranchAndBound()
		if c.Tolerance > 0 {
			b.Tolerance = c.Tolerance
		}
		b.MaxNodes = c.MaxNodes
		return b, nil
	})
	registry.MustRegister("greedy", func(map[string]any) (Solver, error) {
		return NewGreedy(), nil
	})
}

// Register adds a solver backend to the registry.
func Register(name string, f factory.Factory[Solver]) error { return registry.Register(name, f) }

// New creates the solver described by cfg. An empty type selects
// branch_and_bound.
func New(cfg factory.ModuleConfig) (Solver, error) {
	if cfg.Type == "" {
		cfg.Type = "branch_and_bound"
	}
	return registry.Create(cfg)
}

// Names lists the registered backends.
func Names() []string { return registry.Names() }
