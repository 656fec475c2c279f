// Package forestfire implements the Drossel-Schwabl forest fire model.
// Trees grow on empty cells and a lightning strike burns down the whole
// cluster of connected trees at once. Stones never change; sources burn
// permanently and ignite every adjacent cluster in each step.
package forestfire

import (
	_ "embed"
	"fmt"

	"gridsim/internal/config"
	"gridsim/internal/core"
	"gridsim/internal/grid"
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
	Source
	Stone
)

// Params are the transition probabilities.
type Params struct {
	PGrowth    float64
	PLightning float64
	PImmunity  float64
}

func readParams(cfg config.Node) (Params, error) {
	var p Params
	var err error
	if p.PGrowth, err = config.Probability(cfg, "p_growth", 0); err != nil {
		return p, err
	}
	if p.PLightning, err = config.Probability(cfg, "p_lightning", 0); err != nil {
		return p, err
	}
	if p.PImmunity, err = config.Probability(cfg, "p_immunity", 0); err != nil {
		return p, err
	}
	return p, nil
}

// Model is the forest fire model.
type Model struct {
	*model.Base
	cm     *manager.CellManager[Kind]
	params Params

	// per-burn immunity rolls, valid where rolled equals epoch
	epoch  uint64
	rolled []uint64
	immune []bool
}

// New sets up the model from its configuration.
func New(name string, parent model.Parent) (*Model, error) {
	b, err := model.New(name, parent, model.WithDefaults(config.MustParse(defaultsYAML)))
	if err != nil {
		return nil, err
	}
	cfg := b.Config()
	params, err := readParams(cfg)
	if err != nil {
		return nil, err
	}
	cm, err := manager.NewCellManager(cfg.Sub("cell_manager"), b.RNG(), b.Logger(), initialKind)
	if err != nil {
		return nil, err
	}
	if cm.Grid().NeighborhoodMode() == grid.Empty {
		return nil, fmt.Errorf("%w '%s': forest fire needs a neighborhood", config.ErrInvalid, cm.Config().Sub("neighborhood").Path())
	}
	m := &Model{
		Base:   b,
		cm:     cm,
		params: params,
		rolled: make([]uint64, cm.NumCells()),
		immune: make([]bool, cm.NumCells()),
	}

	stones, err := cm.ApplyPatch(cfg.Sub("stones"), nil, func(c *manager.Cell[Kind]) { c.State = Stone })
	if err != nil {
		return nil, fmt.Errorf("placing stones: %w", err)
	}
	sources, err := cm.ApplyPatch(cfg.Sub("ignite_permanently"), nil, func(c *manager.Cell[Kind]) { c.State = Source })
	if err != nil {
		return nil, fmt.Errorf("placing permanent sources: %w", err)
	}
	b.Logger().Info("forest set up", "num_stones", stones, "num_sources", sources, "density", m.TreeDensity())

	clusterKind := hdf.SmallestUint(uint64(cm.NumCells()))
	err = b.SetupDataManager(
		model.GridTask(b, "kind", cm, func(c *manager.Cell[Kind]) uint8 { return uint8(c.State) }),
		model.GridBlockTask(b, "cluster_id", cm, func() (*hdf.Block, error) { return m.clusterBlock(clusterKind) }),
		model.SeriesTask(b, "tree_density", 0, "", func() []float64 { return []float64{m.TreeDensity()} }),
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

// CellManager returns the model's cells.
func (m *Model) CellManager() *manager.CellManager[Kind] { return m.cm }

// Params returns the transition probabilities in use.
func (m *Model) Params() Params { return m.params }

// SetParams replaces the transition probabilities.
func (m *Model) SetParams(p Params) { m.params = p }

// PerformStep grows trees, lets the sources ignite their neighborhood and
// then strikes lightning.
func (m *Model) PerformStep() error {
	r := m.RNG()
	err := m.cm.ApplyRule(rules.Sync, rules.ShuffleOff, func(c *manager.Cell[Kind]) Kind {
		if c.State == Empty && r.Bernoulli(m.params.PGrowth) {
			return Tree
		}
		return c.State
	})
	if err != nil {
		return err
	}
	for _, c := range m.cm.Cells() {
		if c.State != Source {
			continue
		}
		for _, nb := range m.cm.Neighbors(c) {
			if nb.State == Tree {
				m.burnCluster(nb)
			}
		}
	}
	if m.params.PLightning == 0 {
		return nil
	}
	return m.cm.ApplyInPlace(rules.Async, rules.ShuffleOn, func(c *manager.Cell[Kind]) {
		if c.State == Tree && r.Bernoulli(m.params.PLightning) {
			m.burnCluster(c)
		}
	})
}

// burnCluster burns start and every tree connected to it. Each other tree
// resists with probability p_immunity, which also stops the fire from
// spreading through it.
func (m *Model) burnCluster(start *manager.Cell[Kind]) int {
	m.epoch++
	r := m.RNG()
	member := func(c *manager.Cell[Kind]) bool {
		if c.State != Tree {
			return false
		}
		if c == start || m.params.PImmunity == 0 {
			return true
		}
		id := c.ID()
		if m.rolled[id] != m.epoch {
			m.rolled[id] = m.epoch
			m.immune[id] = r.Bernoulli(m.params.PImmunity)
		}
		return !m.immune[id]
	}
	return m.cm.FloodFill(start, member, func(c *manager.Cell[Kind]) { c.State = Empty })
}

// TreeDensity is the fraction of cells holding a tree.
func (m *Model) TreeDensity() float64 {
	n := 0
	for _, c := range m.cm.Cells() {
		if c.State == Tree {
			n++
		}
	}
	return float64(n) / float64(m.cm.NumCells())
}

// clusterBlock labels the tree clusters; non-tree cells get 0. The labels
// must fit into kind.
func (m *Model) clusterBlock(kind hdf.Kind) (*hdf.Block, error) {
	labels, count, err := m.cm.LabelClusters(func(c *manager.Cell[Kind]) bool { return c.State == Tree })
	if err != nil {
		return nil, fmt.Errorf("labelling clusters: %w", err)
	}
	if hdf.SmallestUint(uint64(count)).Size() > kind.Size() {
		return nil, fmt.Errorf("%d clusters do not fit into %s", count, kind)
	}
	b := &hdf.Block{Kind: kind, Shape: []uint64{uint64(m.cm.NumCells())}, Uints: make([]uint64, m.cm.NumCells())}
	for id, l := range labels {
		b.Uints[id] = uint64(l)
	}
	return b, nil
}

func (m *Model) MonitorModel(mon *monitor.Monitor) {
	mon.SetEntry("tree_density", m.TreeDensity())
}

func (m *Model) Parameters() model.ParameterSnapshot {
	return model.Snapshot("forestfire",
		model.FloatParam("p_growth", m.params.PGrowth),
		model.FloatParam("p_lightning", m.params.PLightning),
		model.FloatParam("p_immunity", m.params.PImmunity))
}

func init() {
	core.Register("forestfire", "Drossel-Schwabl forest fire with stones and permanent sources",
		func(name string, parent model.Parent) (model.Runnable, error) { return New(name, parent) })
}
