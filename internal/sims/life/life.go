// Package life implements outer totalistic automata in the family of
// Conway's Game of Life. The default rule is B3/S23.
package life

import (
	_ "embed"
	"fmt"
	"strings"

	"gridsim/internal/config"
	"gridsim/internal/core"
	"gridsim/internal/grid"
	"gridsim/internal/manager"
	"gridsim/internal/model"
	"gridsim/internal/monitor"
	"gridsim/internal/rules"
	rng "gridsim/pkg/core"
)

//go:embed defaults.yml
var defaultsYAML string

// Rule holds the neighbor counts that give birth to a dead cell and those
// that keep a living cell alive.
type Rule struct {
	Birth   [9]bool
	Survive [9]bool
}

// ParseRule parses B/S notation such as "B3/S23" or "B36/S23".
func ParseRule(s string) (Rule, error) {
	var r Rule
	b, sv, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(s)), "/")
	if !ok || !strings.HasPrefix(b, "B") || !strings.HasPrefix(sv, "S") {
		return r, fmt.Errorf("rule %q is not in B/S notation", s)
	}
	fill := func(dst *[9]bool, digits string) error {
		for _, d := range digits {
			if d < '0' || d > '8' {
				return fmt.Errorf("rule %q: invalid neighbor count %q", s, d)
			}
			dst[d-'0'] = true
		}
		return nil
	}
	if err := fill(&r.Birth, b[1:]); err != nil {
		return r, err
	}
	if err := fill(&r.Survive, sv[1:]); err != nil {
		return r, err
	}
	return r, nil
}

func (r Rule) String() string {
	var sb strings.Builder
	sb.WriteByte('B')
	for n, ok := range r.Birth {
		if ok {
			sb.WriteByte(byte('0' + n))
		}
	}
	sb.WriteString("/S")
	for n, ok := range r.Survive {
		if ok {
			sb.WriteByte(byte('0' + n))
		}
	}
	return sb.String()
}

// Model is a life-like automaton.
type Model struct {
	*model.Base
	cm   *manager.CellManager[bool]
	rule Rule
}

// New sets up the board from its configuration.
func New(name string, parent model.Parent) (*Model, error) {
	b, err := model.New(name, parent, model.WithDefaults(config.MustParse(defaultsYAML)))
	if err != nil {
		return nil, err
	}
	cfg := b.Config()
	notation, err := config.Get[string](cfg, "rule")
	if err != nil {
		return nil, err
	}
	rule, err := ParseRule(notation)
	if err != nil {
		return nil, fmt.Errorf("%w '%s.rule': %v", config.ErrInvalid, cfg.Path(), err)
	}
	cm, err := manager.NewCellManager(cfg.Sub("cell_manager"), b.RNG(), b.Logger(), initialState)
	if err != nil {
		return nil, err
	}
	if cm.Grid().NeighborhoodMode() != grid.Moore || cm.Grid().NeighborhoodDistance() != 1 {
		b.Logger().Warn("life-like rules assume a Moore neighborhood of distance 1",
			"mode", cm.Grid().NeighborhoodMode(), "distance", cm.Grid().NeighborhoodDistance())
	}
	if _, err := cm.ApplyPatch(cfg.Sub("alive"), nil, func(c *manager.Cell[bool]) { c.State = true }); err != nil {
		return nil, fmt.Errorf("placing living cells: %w", err)
	}
	m := &Model{Base: b, cm: cm, rule: rule}
	b.Logger().Info("board set up", "rule", rule, "population", m.Population())

	err = b.SetupDataManager(
		model.GridTask(b, "alive", cm, func(c *manager.Cell[bool]) uint8 {
			if c.State {
				return 1
			}
			return 0
		}),
		model.SeriesTask(b, "population", 0, "", func() []uint64 { return []uint64{uint64(m.Population())} }),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func initialState(cfg config.Node, r *rng.RNG) (bool, error) {
	density, err := config.Probability(cfg, "initial_density", 0)
	if err != nil {
		return false, err
	}
	return r.Bernoulli(density), nil
}

// CellManager returns the board.
func (m *Model) CellManager() *manager.CellManager[bool] { return m.cm }

// Rule returns the rule in use.
func (m *Model) Rule() Rule { return m.rule }

// PerformStep advances the board by one generation.
func (m *Model) PerformStep() error {
	return m.cm.ApplyRule(rules.Sync, rules.ShuffleOff, func(c *manager.Cell[bool]) bool {
		n := 0
		for _, nb := range m.cm.Neighbors(c) {
			if nb.State {
				n++
			}
		}
		n = min(n, 8)
		if c.State {
			return m.rule.Survive[n]
		}
		return m.rule.Birth[n]
	})
}

// Population is the number of living cells.
func (m *Model) Population() int {
	n := 0
	for _, c := range m.cm.Cells() {
		if c.State {
			n++
		}
	}
	return n
}

func (m *Model) MonitorModel(mon *monitor.Monitor) {
	mon.SetEntry("population", m.Population())
}

func (m *Model) Parameters() model.ParameterSnapshot {
	return model.Snapshot("life", model.StringParam("rule", m.rule.String()))
}

func init() {
	core.Register("life", "Conway's Game of Life and other B/S rules",
		func(name string, parent model.Parent) (model.Runnable, error) { return New(name, parent) })
}
