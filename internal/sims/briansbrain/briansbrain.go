// Package briansbrain implements Brian's Brain: firing cells start dying,
// dying cells die, and dead cells fire when exactly firing_threshold of
// their neighbors fire.
package briansbrain

import (
	_ "embed"
	"fmt"

	"gridsim/internal/config"
	"gridsim/internal/core"
	"gridsim/internal/manager"
	"gridsim/internal/model"
	"gridsim/internal/monitor"
	"gridsim/internal/rules"
	rng "gridsim/pkg/core"
)

//go:embed defaults.yml
var defaultsYAML string

// State is the state of a neuron.
type State uint8

const (
	Dead State = iota
	Firing
	Dying
)

// Model is Brian's Brain.
type Model struct {
	*model.Base
	cm        *manager.CellManager[State]
	threshold int
}

// New sets up the automaton from its configuration.
func New(name string, parent model.Parent) (*Model, error) {
	b, err := model.New(name, parent, model.WithDefaults(config.MustParse(defaultsYAML)))
	if err != nil {
		return nil, err
	}
	cfg := b.Config()
	threshold, err := config.Get[int](cfg, "firing_threshold")
	if err != nil {
		return nil, err
	}
	if threshold < 1 {
		return nil, fmt.Errorf("%w '%s.firing_threshold': must be positive, was %d", config.ErrInvalid, cfg.Path(), threshold)
	}
	cm, err := manager.NewCellManager(cfg.Sub("cell_manager"), b.RNG(), b.Logger(), initialState)
	if err != nil {
		return nil, err
	}
	if _, err := cm.ApplyPatch(cfg.Sub("firing"), nil, func(c *manager.Cell[State]) { c.State = Firing }); err != nil {
		return nil, fmt.Errorf("placing firing cells: %w", err)
	}
	m := &Model{Base: b, cm: cm, threshold: threshold}

	err = b.SetupDataManager(
		model.GridTask(b, "state", cm, func(c *manager.Cell[State]) uint8 { return uint8(c.State) }),
		model.SeriesTask(b, "num_firing", 0, "", func() []uint64 { return []uint64{uint64(m.Count(Firing))} }),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func initialState(cfg config.Node, r *rng.RNG) (State, error) {
	p, err := config.Probability(cfg, "p_firing", 0)
	if err != nil {
		return Dead, err
	}
	if r.Bernoulli(p) {
		return Firing, nil
	}
	return Dead, nil
}

// CellManager returns the model's cells.
func (m *Model) CellManager() *manager.CellManager[State] { return m.cm }

func (m *Model) PerformStep() error {
	return m.cm.ApplyRule(rules.Sync, rules.ShuffleOff, func(c *manager.Cell[State]) State {
		switch c.State {
		case Firing:
			return Dying
		case Dying:
			return Dead
		}
		n := 0
		for _, nb := range m.cm.Neighbors(c) {
			if nb.State == Firing {
				n++
			}
		}
		if n == m.threshold {
			return Firing
		}
		return Dead
	})
}

// Count returns the number of cells in state s.
func (m *Model) Count(s State) int {
	n := 0
	for _, c := range m.cm.Cells() {
		if c.State == s {
			n++
		}
	}
	return n
}

func (m *Model) MonitorModel(mon *monitor.Monitor) {
	mon.SetEntry("num_firing", m.Count(Firing))
}

func (m *Model) Parameters() model.ParameterSnapshot {
	return model.Snapshot("briansbrain", model.IntParam("firing_threshold", m.threshold))
}

func init() {
	core.Register("briansbrain", "Brian's Brain three-state automaton",
		func(name string, parent model.Parent) (model.Runnable, error) { return New(name, parent) })
}
