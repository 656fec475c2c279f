// Package elementary implements the elementary cellular automata on a
// one-dimensional grid. The written state over time is the familiar
// space-time diagram.
package elementary

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

// Model is an elementary automaton.
type Model struct {
	*model.Base
	cm   *manager.CellManager[uint8]
	rule uint8
}

// New sets up the row of cells from its configuration.
func New(name string, parent model.Parent) (*Model, error) {
	b, err := model.New(name, parent, model.WithDefaults(config.MustParse(defaultsYAML)))
	if err != nil {
		return nil, err
	}
	cfg := b.Config()
	rule, err := config.Get[int](cfg, "rule")
	if err != nil {
		return nil, err
	}
	if rule < 0 || rule > 255 {
		return nil, fmt.Errorf("%w '%s.rule': %d is not in [0, 255]", config.ErrInvalid, cfg.Path(), rule)
	}
	initial, err := config.Get[string](cfg, "initial_state")
	if err != nil {
		return nil, err
	}

	cmCfg := cfg.Sub("cell_manager")
	var factory manager.StateFactory[uint8]
	switch initial {
	case "single":
		factory = manager.ZeroState[uint8]()
	case "random":
		factory = randomState
	default:
		return nil, fmt.Errorf("%w '%s.initial_state': unknown value %q (valid: single, random)", config.ErrInvalid, cfg.Path(), initial)
	}
	cm, err := manager.NewCellManager(cmCfg, b.RNG(), b.Logger(), factory)
	if err != nil {
		return nil, err
	}
	if d := cm.Space().Dim(); d != 1 {
		return nil, fmt.Errorf("%w '%s': elementary automata need a one-dimensional space, got %d dimensions",
			config.ErrInvalid, cmCfg.Sub("space").Path(), d)
	}
	if initial == "single" {
		cm.Cell(cm.NumCells() / 2).State = 1
	}
	m := &Model{Base: b, cm: cm, rule: uint8(rule)}

	err = b.SetupDataManager(
		model.GridTask(b, "state", cm, func(c *manager.Cell[uint8]) uint8 { return c.State }),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func randomState(cfg config.Node, r *rng.RNG) (uint8, error) {
	p, err := config.Probability(cfg, "p_active", 0)
	if err != nil {
		return 0, err
	}
	if r.Bernoulli(p) {
		return 1, nil
	}
	return 0, nil
}

// CellManager returns the row of cells.
func (m *Model) CellManager() *manager.CellManager[uint8] { return m.cm }

// Row returns the current states from left to right.
func (m *Model) Row() []uint8 {
	return manager.States(m.cm, func(c *manager.Cell[uint8]) uint8 { return c.State })
}

// at returns the state at x. Outside a non-periodic row it is 0.
func (m *Model) at(x int) uint8 {
	n := m.cm.NumCells()
	if m.cm.Space().Periodic {
		x = ((x % n) + n) % n
	}
	id := m.cm.Grid().Index([]int{x})
	if id < 0 {
		return 0
	}
	return m.cm.Cell(id).State
}

func (m *Model) PerformStep() error {
	g := m.cm.Grid()
	return m.cm.ApplyRule(rules.Sync, rules.ShuffleOff, func(c *manager.Cell[uint8]) uint8 {
		x := g.MultiIndex(c.ID())[0]
		idx := m.at(x-1)<<2 | m.at(x)<<1 | m.at(x+1)
		return (m.rule >> idx) & 1
	})
}

// Active is the number of active cells.
func (m *Model) Active() int {
	n := 0
	for _, c := range m.cm.Cells() {
		n += int(c.State)
	}
	return n
}

func (m *Model) MonitorModel(mon *monitor.Monitor) {
	mon.SetEntry("active", m.Active())
}

func (m *Model) Parameters() model.ParameterSnapshot {
	return model.Snapshot("elementary", model.IntParam("rule", int(m.rule)))
}

func init() {
	core.Register("elementary", "one-dimensional Wolfram rules",
		func(name string, parent model.Parent) (model.Runnable, error) { return New(name, parent) })
}
