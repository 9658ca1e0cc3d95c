// Package factory provides a small generic registry used to instantiate modules
// from configuration. Modules are defined by a type string and a map of raw
// settings. Factories decode the settings into typed structs and return the
// concrete implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[solver.Solver]()
//	reg.Register("branch_and_bound", func(conf map[string]any) (solver.Solver, error) {
//	    var c struct{ MaxNodes int `json:"max_nodes"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return &solver.BranchAndBound{MaxNodes: c.MaxNodes}, nil
//	})
//	s, err := reg.Create(factory.ModuleConfig{Type: "branch_and_bound", Conf: map[string]any{"max_nodes": 5000}})
package factory
