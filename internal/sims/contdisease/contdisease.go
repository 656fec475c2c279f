// Package contdisease implements a contagious disease spreading through a
// forest. Healthy trees are infected by infected neighbors or at random;
// infected trees die and leave an empty cell where a new tree may grow.
package contdisease

import (
	_ "embed"
	"fmt"
	"slices"

	"gridsim/internal/config"
	"gridsim/internal/core"
	"gridsim/internal/datamanager"
	"gridsim/internal/hdf"
	"gridsim/internal/manager"
	"gridsim/internal/model"
	"gridsim/internal/monitor"
	"gridsim/internal/rules"
	rng "gridsim/pkg/core"
)

//go:embed defaults.yml
var defaultsYAML string

// Kind is the state of a cell.
type Kind uint8

const (
	Empty Kind = iota
	Tree
	Infected
	Source
	Stone

	numKinds
)

var kindNames = []string{"empty", "tree", "infected", "source", "stone"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Params are the transition probabilities.
type Params struct {
	PGrowth       float64
	PInfect       float64
	PRandomInfect float64
}

// Control schedules additional infections.
type Control struct {
	Enabled                 bool
	NumAdditionalInfections int
	AtTimes                 []uint64
}

func readParams(cfg config.Node) (Params, Control, error) {
	var p Params
	var c Control
	var err error
	if p.PGrowth, err = config.Probability(cfg, "p_growth", 0); err != nil {
		return p, c, err
	}
	if p.PInfect, err = config.Probability(cfg, "p_infect", 0); err != nil {
		return p, c, err
	}
	if p.PRandomInfect, err = config.Probability(cfg, "p_random_infect", 0); err != nil {
		return p, c, err
	}
	ic := cfg.Sub("infection_control")
	if c.Enabled, err = config.GetOr(ic, "enabled", false); err != nil {
		return p, c, err
	}
	if c.NumAdditionalInfections, err = config.GetOr(ic, "num_additional_infections", 0); err != nil {
		return p, c, err
	}
	if c.NumAdditionalInfections < 0 {
		return p, c, fmt.Errorf("%w '%s': must not be negative", config.ErrInvalid, ic.Sub("num_additional_infections").Path())
	}
	if c.AtTimes, err = config.GetOr(ic, "at_times", []uint64(nil)); err != nil {
		return p, c, err
	}
	slices.Sort(c.AtTimes)
	return p, c, nil
}

// Model is the contagious disease model.
type Model struct {
	*model.Base
	cm      *manager.CellManager[Kind]
	params  Params
	control Control
	trees   []*manager.Cell[Kind]
}

// New sets up the model from its configuration.
func New(name string, parent model.Parent) (*Model, error) {
	b, err := model.New(name, parent, model.WithDefaults(config.MustParse(defaultsYAML)))
	if err != nil {
		return nil, err
	}
	cfg := b.Config()
	params, control, err := readParams(cfg)
	if err != nil {
		return nil, err
	}
	cm, err := manager.NewCellManager(cfg.Sub("cell_manager"), b.RNG(), b.Logger(), initialKind)
	if err != nil {
		return nil, err
	}
	m := &Model{Base: b, cm: cm, params: params, control: control}

	if _, err := cm.ApplyPatch(cfg.Sub("stones"), nil, func(c *manager.Cell[Kind]) { c.State = Stone }); err != nil {
		return nil, fmt.Errorf("placing stones: %w", err)
	}
	if _, err := cm.ApplyPatch(cfg.Sub("infection_source"), nil, func(c *manager.Cell[Kind]) { c.State = Source }); err != nil {
		return nil, fmt.Errorf("placing infection sources: %w", err)
	}

	err = b.SetupDataManager(
		model.GridTask(b, "kind", cm, func(c *manager.Cell[Kind]) uint8 { return uint8(c.State) }),
		m.densityTask(),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func initialKind(cfg config.Node, r *rng.RNG) (Kind, error) {
	density, err := config.Probability(cfg, "initial_density", 0)
	if err != nil {
		return Empty, err
	}
	if r.Bernoulli(density) {
		return Tree, nil
	}
	return Empty, nil
}

func (m *Model) densityTask() *datamanager.Task {
	t := model.SeriesTask(m.Base, "densities", int(numKinds), "kind", func() []float64 { return m.Densities() })
	build := t.BuildDataset
	t.BuildDataset = func(src datamanager.Source, base *hdf.Group) (*hdf.Dataset, error) {
		ds, err := build(src, base)
		if err != nil {
			return nil, err
		}
		return ds, ds.AddAttribute("coords__kind", kindNames)
	}
	return t
}

// CellManager returns the model's cells.
func (m *Model) CellManager() *manager.CellManager[Kind] { return m.cm }

// Params returns the transition probabilities in use.
func (m *Model) Params() Params { return m.params }

// SetParams replaces the transition probabilities.
func (m *Model) SetParams(p Params) { m.params = p }

// PerformStep applies the scheduled infections and then the synchronous
// transition rule.
func (m *Model) PerformStep() error {
	if m.control.Enabled {
		if _, found := slices.BinarySearch(m.control.AtTimes, m.Time()); found {
			m.infectRandomTrees(m.control.NumAdditionalInfections)
		}
	}
	r := m.RNG()
	return m.cm.ApplyRule(rules.Sync, rules.ShuffleOff, func(c *manager.Cell[Kind]) Kind {
		switch c.State {
		case Empty:
			if r.Bernoulli(m.params.PGrowth) {
				return Tree
			}
		case Tree:
			if r.Bernoulli(m.params.PRandomInfect) {
				return Infected
			}
			for _, nb := range m.cm.Neighbors(c) {
				if (nb.State == Infected || nb.State == Source) && r.Bernoulli(m.params.PInfect) {
					return Infected
				}
			}
		case Infected:
			return Empty
		}
		return c.State
	})
}

// infectRandomTrees infects up to n randomly chosen trees.
func (m *Model) infectRandomTrees(n int) int {
	m.trees = m.trees[:0]
	for _, c := range m.cm.Cells() {
		if c.State == Tree {
			m.trees = append(m.trees, c)
		}
	}
	n = min(n, len(m.trees))
	r := m.RNG()
	r.Shuffle(len(m.trees), func(i, j int) { m.trees[i], m.trees[j] = m.trees[j], m.trees[i] })
	for _, c := range m.trees[:n] {
		c.State = Infected
	}
	m.Logger().Debug("additional infections", "time", m.Time(), "num_infected", n)
	return n
}

// Densities returns the fraction of cells of each kind.
func (m *Model) Densities() []float64 {
	counts := make([]float64, numKinds)
	for _, c := range m.cm.Cells() {
		counts[c.State]++
	}
	for i := range counts {
		counts[i] /= float64(m.cm.NumCells())
	}
	return counts
}

func (m *Model) MonitorModel(mon *monitor.Monitor) {
	d := m.Densities()
	mon.SetEntry("density_tree", d[Tree])
	mon.SetEntry("density_infected", d[Infected])
}

func (m *Model) Parameters() model.ParameterSnapshot {
	return model.Snapshot("contdisease",
		model.FloatParam("p_growth", m.params.PGrowth),
		model.FloatParam("p_infect", m.params.PInfect),
		model.FloatParam("p_random_infect", m.params.PRandomInfect),
		model.BoolParam("infection_control", m.control.Enabled))
}

func init() {
	core.Register("contdisease", "contagious disease spreading through a growing forest",
		func(name string, parent model.Parent) (model.Runnable, error) { return New(name, parent) })
}
