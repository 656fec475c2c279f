package manager

import (
	"fmt"
	"slices"

	"gridsim/internal/config"
	"gridsim/internal/hdf"
	"gridsim/internal/space"
	"gridsim/pkg/core"
)

// Selection modes understood by SelectCells.
const (
	SelectSample    = "sample"
	SelectFraction  = "fraction"
	SelectBoundary  = "boundary"
	SelectClustered = "clustered"
	SelectCellAt    = "cell_at"
	SelectFromFile  = "from_file"
)

// SelectCells returns the cells chosen by a selection node, in id order.
//
//	mode: sample      num_cells: 10
//	mode: fraction    probability: 0.1
//	mode: boundary    boundary: left
//	mode: clustered   p_seed: 0.01, p_attach: 0.2, num_passes: 5
//	mode: cell_at     positions: [[0.5, 0.5], ...]
//	mode: from_file   file: init.sqlite, dataset: /model/kind
func (m *CellManager[S]) SelectCells(n config.Node, rng *core.RNG) ([]*Cell[S], error) {
	if rng == nil {
		rng = m.rng
	}
	mode, err := config.Get[string](n, "mode")
	if err != nil {
		return nil, err
	}
	var ids []int
	switch mode {
	case SelectSample:
		ids, err = m.selectSample(n, rng)
	case SelectFraction:
		ids, err = m.selectFraction(n, rng)
	case SelectBoundary:
		sel, gerr := config.GetOr(n, "boundary", "all")
		if gerr != nil {
			return nil, gerr
		}
		ids, err = m.grid.BoundaryCells(sel)
	case SelectClustered:
		ids, err = m.selectClustered(n, rng)
	case SelectCellAt:
		ids, err = m.selectCellAt(n)
	case SelectFromFile:
		ids, err = m.selectFromFile(n)
	default:
		return nil, fmt.Errorf("%w '%s.mode': unknown selection mode %q (valid: sample, fraction, boundary, clustered, cell_at, from_file)",
			config.ErrInvalid, n.Path(), mode)
	}
	if err != nil {
		return nil, err
	}
	m.log.Debug("selected cells", "mode", mode, "path", n.Path(), "num_selected", len(ids))
	return m.byID(ids), nil
}

// ApplyPatch selects cells as in SelectCells and applies fn to each of
// them. A node with `enabled: false` is skipped.
func (m *CellManager[S]) ApplyPatch(n config.Node, rng *core.RNG, fn func(*Cell[S])) (int, error) {
	if n.IsZero() {
		return 0, nil
	}
	enabled, err := config.GetOr(n, "enabled", true)
	if err != nil {
		return 0, err
	}
	if !enabled {
		return 0, nil
	}
	cells, err := m.SelectCells(n, rng)
	if err != nil {
		return 0, err
	}
	for _, c := range cells {
		fn(c)
	}
	return len(cells), nil
}

func (m *CellManager[S]) selectSample(n config.Node, rng *core.RNG) ([]int, error) {
	k, err := config.Get[int](n, "num_cells")
	if err != nil {
		return nil, err
	}
	if k < 0 || k > len(m.cells) {
		return nil, fmt.Errorf("%w '%s.num_cells': %d is not in [0, %d]", config.ErrInvalid, n.Path(), k, len(m.cells))
	}
	ids := rng.Perm(len(m.cells))[:k]
	slices.Sort(ids)
	return ids, nil
}

func (m *CellManager[S]) selectFraction(n config.Node, rng *core.RNG) ([]int, error) {
	p, err := config.Probability(n, "probability", 0)
	if err != nil {
		return nil, err
	}
	var ids []int
	for id := range m.cells {
		if rng.Bernoulli(p) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *CellManager[S]) selectClustered(n config.Node, rng *core.RNG) ([]int, error) {
	pSeed, err := config.Probability(n, "p_seed", 0)
	if err != nil {
		return nil, err
	}
	pAttach, err := config.Probability(n, "p_attach", 0)
	if err != nil {
		return nil, err
	}
	passes, err := config.GetOr(n, "num_passes", 1)
	if err != nil {
		return nil, err
	}
	if m.nbrs == nil {
		return nil, fmt.Errorf("%w '%s': clustered selection needs a neighborhood", config.ErrInvalid, n.Path())
	}
	selected := make([]bool, len(m.cells))
	for id := range selected {
		selected[id] = rng.Bernoulli(pSeed)
	}
	for pass := 0; pass < passes; pass++ {
		grown := slices.Clone(selected)
		for id, sel := range selected {
			if sel {
				continue
			}
			for _, nb := range m.nbrs[id] {
				if selected[nb.ID()] && rng.Bernoulli(pAttach) {
					grown[id] = true
					break
				}
			}
		}
		selected = grown
	}
	var ids []int
	for id, sel := range selected {
		if sel {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *CellManager[S]) selectCellAt(n config.Node) ([]int, error) {
	positions, err := config.Get[[][]float64](n, "positions")
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, p := range positions {
		id, err := m.grid.CellAt(space.Vec(p))
		if err != nil {
			return nil, fmt.Errorf("selecting cell at %v: %w", p, err)
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// selectFromFile selects the cells whose entry in a stored dataset is
// non-zero. The dataset holds one value per cell in id order; a time
// series of shape (time, num_cells) contributes its last frame.
func (m *CellManager[S]) selectFromFile(n config.Node) ([]int, error) {
	path, err := config.Get[string](n, "file")
	if err != nil {
		return nil, err
	}
	dsPath, err := config.Get[string](n, "dataset")
	if err != nil {
		return nil, err
	}
	f, err := hdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ds, err := f.OpenDataset(dsPath)
	if err != nil {
		return nil, err
	}
	values, shape, err := hdf.ReadFloat64(ds)
	if err != nil {
		return nil, err
	}
	num := len(m.cells)
	if len(values) < num || len(values)%num != 0 {
		return nil, fmt.Errorf("%w '%s': dataset %s of shape %v does not hold one value per cell (%d cells)",
			config.ErrInvalid, n.Path(), dsPath, shape, num)
	}
	values = values[len(values)-num:]
	var ids []int
	for id, v := range values {
		if v != 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
