// Package manager owns the cells of a grid or the agents in a space and
// applies rules to them.
package manager

import (
	"gridsim/internal/config"
	"gridsim/pkg/core"
)

// StateFactory constructs the initial state of one entity from the
// manager's cell_params (or agent_params) node and the manager's RNG.
type StateFactory[S any] func(cfg config.Node, rng *core.RNG) (S, error)

// ZeroState builds every entity with the zero value of S.
func ZeroState[S any]() StateFactory[S] {
	return func(config.Node, *core.RNG) (S, error) {
		var s S
		return s, nil
	}
}

// StateFromConfig adapts a constructor that only needs the configuration.
func StateFromConfig[S any](f func(cfg config.Node) (S, error)) StateFactory[S] {
	return func(cfg config.Node, _ *core.RNG) (S, error) { return f(cfg) }
}

// StateFromValue builds every entity with a copy of s.
func StateFromValue[S any](s S) StateFactory[S] {
	return func(config.Node, *core.RNG) (S, error) { return s, nil }
}
