package manager

import (
	"fmt"
	"log/slog"

	"gridsim/internal/config"
	"gridsim/internal/entity"
	"gridsim/internal/grid"
	"gridsim/internal/rules"
	"gridsim/internal/space"
	"gridsim/pkg/core"
)

// Cell is the cell type handed out by a CellManager.
type Cell[S any] = entity.Cell[S]

// CellManager owns one cell per grid cell. Neighbor lists are kept as
// slices of cell pointers into the manager's storage.
type CellManager[S any] struct {
	cfg     config.Node
	grid    grid.Grid
	cells   []*Cell[S]
	nbrs    [][]*Cell[S]
	rng     *core.RNG
	log     *slog.Logger
	scratch rules.Scratch[*Cell[S]]
}

// NewCellManager builds the space and grid described by a cell_manager node
// and constructs every cell state through factory, which receives the
// cell_params subtree.
func NewCellManager[S any](cfg config.Node, rng *core.RNG, log *slog.Logger, factory StateFactory[S]) (*CellManager[S], error) {
	dim, err := config.GetOr(cfg.Sub("grid"), "dim", 0)
	if err != nil {
		return nil, err
	}
	g, err := grid.FromConfig(cfg, dim)
	if err != nil {
		return nil, fmt.Errorf("setting up grid '%s': %w", cfg.Path(), err)
	}
	return NewCellManagerOn(g, cfg, rng, log, factory)
}

// NewCellManagerOn is NewCellManager for an already constructed grid.
func NewCellManagerOn[S any](g grid.Grid, cfg config.Node, rng *core.RNG, log *slog.Logger, factory StateFactory[S]) (*CellManager[S], error) {
	m := &CellManager[S]{cfg: cfg, grid: g, rng: rng, log: log}
	params := cfg.Sub("cell_params")
	m.cells = make([]*Cell[S], g.NumCells())
	for id := range m.cells {
		s, err := factory(params, rng)
		if err != nil {
			return nil, fmt.Errorf("constructing state of cell %d: %w", id, err)
		}
		m.cells[id] = entity.NewCell(id, g.Barycenter(id), g.IsBoundary(id), s)
	}
	m.linkNeighbors()
	log.Info("cell manager set up",
		"structure", g.Structure(),
		"shape", g.Shape(),
		"num_cells", g.NumCells(),
		"periodic", g.Space().Periodic,
		"neighborhood", g.NeighborhoodMode())
	return m, nil
}

func (m *CellManager[S]) linkNeighbors() {
	if m.grid.NeighborhoodMode() == grid.Empty {
		m.nbrs = nil
		return
	}
	m.nbrs = make([][]*Cell[S], len(m.cells))
	for id := range m.cells {
		ids := m.grid.Neighbors(id)
		list := make([]*Cell[S], len(ids))
		for i, n := range ids {
			list[i] = m.cells[n]
		}
		m.nbrs[id] = list
	}
}

// Config returns the cell_manager node the manager was built from.
func (m *CellManager[S]) Config() config.Node { return m.cfg }

func (m *CellManager[S]) Grid() grid.Grid      { return m.grid }
func (m *CellManager[S]) Space() *space.Space  { return m.grid.Space() }
func (m *CellManager[S]) Cells() []*Cell[S]    { return m.cells }
func (m *CellManager[S]) Cell(id int) *Cell[S] { return m.cells[id] }
func (m *CellManager[S]) NumCells() int        { return len(m.cells) }
func (m *CellManager[S]) RNG() *core.RNG       { return m.rng }

// Neighbors returns the neighbors of c in the grid's neighbor order. The
// returned slice is shared and must not be modified.
func (m *CellManager[S]) Neighbors(c *Cell[S]) []*Cell[S] {
	if m.nbrs == nil {
		return nil
	}
	return m.nbrs[c.ID()]
}

// SetNeighborhood switches the neighborhood relation.
func (m *CellManager[S]) SetNeighborhood(mode grid.Mode, distance int) error {
	if err := m.grid.SetNeighborhood(mode, distance); err != nil {
		return err
	}
	m.linkNeighbors()
	return nil
}

// CellAt returns the cell containing pos.
func (m *CellManager[S]) CellAt(pos space.Vec) (*Cell[S], error) {
	id, err := m.grid.CellAt(pos)
	if err != nil {
		return nil, err
	}
	return m.cells[id], nil
}

// BoundaryCells returns the cells on the selected boundary.
func (m *CellManager[S]) BoundaryCells(sel string) ([]*Cell[S], error) {
	ids, err := m.grid.BoundaryCells(sel)
	if err != nil {
		return nil, err
	}
	return m.byID(ids), nil
}

func (m *CellManager[S]) byID(ids []int) []*Cell[S] {
	out := make([]*Cell[S], len(ids))
	for i, id := range ids {
		out[i] = m.cells[id]
	}
	return out
}

// ApplyRule applies a state-returning rule to all cells.
func (m *CellManager[S]) ApplyRule(update rules.Update, shuffle rules.Shuffle, rule func(*Cell[S]) S) error {
	return rules.ApplyWith(&m.scratch, update, shuffle, m.cells, rule, m.rng)
}

// ApplyRuleTo applies a state-returning rule to a subset of cells.
func (m *CellManager[S]) ApplyRuleTo(cells []*Cell[S], update rules.Update, shuffle rules.Shuffle, rule func(*Cell[S]) S) error {
	return rules.ApplyWith(&m.scratch, update, shuffle, cells, rule, m.rng)
}

// ApplyInPlace applies a mutating rule to all cells.
func (m *CellManager[S]) ApplyInPlace(update rules.Update, shuffle rules.Shuffle, rule func(*Cell[S])) error {
	return rules.ApplyInPlaceWith(&m.scratch, update, shuffle, m.cells, rule, m.rng)
}

// FloodFill visits the connected component of member cells around start.
func (m *CellManager[S]) FloodFill(start *Cell[S], member func(*Cell[S]) bool, visit func(*Cell[S])) int {
	return rules.FloodFill(&m.scratch, start, member, m.Neighbors, visit)
}

// LabelClusters labels connected components of member cells; labels are
// indexed by cell id.
func (m *CellManager[S]) LabelClusters(member func(*Cell[S]) bool) ([]int, int, error) {
	return rules.LabelClusters(&m.scratch, m.cells, member, m.Neighbors)
}

// States collects a projection of every cell's state in id order.
func States[S, T any](m *CellManager[S], f func(*Cell[S]) T) []T {
	out := make([]T, len(m.cells))
	for i, c := range m.cells {
		out[i] = f(c)
	}
	return out
}
