// Package grid discretizes a space.Space into a finite set of cells. Cells
// are identified by a contiguous id in [0, NumCells) and by a multi index
// whose first axis varies fastest.
package grid

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"gridsim/internal/config"
	"gridsim/internal/space"
)

var (
	// ErrOutOfSpace is returned for positions outside a non-periodic space.
	ErrOutOfSpace = errors.New("given position is outside the non-periodic space")
	// ErrInvalidSelect is returned for unknown boundary selectors.
	ErrInvalidSelect = errors.New("invalid boundary selector")
	// ErrShape is returned when no cell shape fits the space.
	ErrShape = errors.New("incompatible grid shape")
)

// Structure names a grid discretization.
type Structure string

const (
	StructureSquare    Structure = "square"
	StructureHexagonal Structure = "hexagonal"
)

// Mode names a neighborhood relation.
type Mode string

const (
	Empty      Mode = "empty"
	VonNeumann Mode = "vonNeumann"
	Moore      Mode = "Moore"
	Hexagonal  Mode = "hexagonal"
)

// DefaultTolerance is the relative tolerance used when matching cell shapes
// to the space extent.
const DefaultTolerance = 1e-3

// Grid is the geometry shared by every discretization.
type Grid interface {
	Space() *space.Space
	Structure() Structure
	Resolution() int
	Shape() []int
	NumCells() int

	MultiIndex(id int) []int
	// Index returns the id of a multi index, or -1 if it lies outside the grid.
	Index(midx []int) int
	CellAt(pos space.Vec) (int, error)
	Barycenter(id int) space.Vec
	CellExtent(id int) space.Vec
	Vertices(id int) []space.Vec

	Neighbors(id int) []int
	SetNeighborhood(mode Mode, distance int) error
	NeighborhoodMode() Mode
	NeighborhoodDistance() int

	BoundaryCells(sel string) ([]int, error)
	IsBoundary(id int) bool
}

// FromConfig builds a grid from a cell_manager node with the subtrees
// `space`, `grid` and `neighborhood`. A dim of 0 infers the dimension from
// space.extent, falling back to 2.
func FromConfig(cm config.Node, dim int) (Grid, error) {
	spaceNode := cm.Sub("space")
	if dim == 0 {
		dim = 2
		if ext, err := config.Get[[]float64](spaceNode, "extent"); err == nil {
			dim = len(ext)
		}
	}
	sp, err := space.FromConfig(spaceNode, dim)
	if err != nil {
		return nil, err
	}

	gn := cm.Sub("grid")
	if !gn.Has("resolution") {
		return nil, fmt.Errorf("%w: Missing grid configuration parameter 'resolution'!", config.ErrMissing)
	}
	res, err := config.Get[int](gn, "resolution")
	if err != nil {
		return nil, err
	}
	structure, err := config.GetOr(gn, "structure", string(StructureSquare))
	if err != nil {
		return nil, err
	}
	tol, err := config.GetOr(gn, "tolerance", DefaultTolerance)
	if err != nil {
		return nil, err
	}

	var g Grid
	switch Structure(structure) {
	case StructureSquare:
		g, err = NewSquare(sp, res, tol)
	case StructureHexagonal:
		g, err = NewHexagonal(sp, res, tol)
	default:
		return nil, fmt.Errorf("%w '%s.structure': unknown grid structure %q (valid: square, hexagonal)",
			config.ErrInvalid, gn.Path(), structure)
	}
	if err != nil {
		return nil, err
	}

	nn := cm.Sub("neighborhood")
	mode, err := config.GetOr(nn, "mode", string(Empty))
	if err != nil {
		return nil, err
	}
	distance, err := config.GetOr(nn, "distance", 1)
	if err != nil {
		return nil, err
	}
	if err := g.SetNeighborhood(Mode(mode), distance); err != nil {
		return nil, err
	}
	return g, nil
}

func checkResolution(res int) error {
	if res < 1 {
		return fmt.Errorf("%w: Grid resolution needs to be a positive integer, was < 1!", config.ErrInvalid)
	}
	return nil
}

// base carries the index bookkeeping common to all structures.
type base struct {
	sp       *space.Space
	res      int
	shape    []int
	n        int
	mode     Mode
	distance int
	nbrs     [][]int
	boundary []bool
}

func newBase(sp *space.Space, res int, shape []int) base {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return base{sp: sp, res: res, shape: shape, n: n, mode: Empty, distance: 1, boundary: make([]bool, n)}
}

func (b *base) Space() *space.Space       { return b.sp }
func (b *base) Resolution() int           { return b.res }
func (b *base) Shape() []int              { return slices.Clone(b.shape) }
func (b *base) NumCells() int             { return b.n }
func (b *base) NeighborhoodMode() Mode    { return b.mode }
func (b *base) NeighborhoodDistance() int { return b.distance }

func (b *base) MultiIndex(id int) []int {
	midx := make([]int, len(b.shape))
	for i, s := range b.shape {
		midx[i] = id % s
		id /= s
	}
	return midx
}

func (b *base) Index(midx []int) int {
	if len(midx) != len(b.shape) {
		return -1
	}
	id, stride := 0, 1
	for i, s := range b.shape {
		if midx[i] < 0 || midx[i] >= s {
			return -1
		}
		id += midx[i] * stride
		stride *= s
	}
	return id
}

// Neighbors returns the precomputed neighbor ids of a cell. The slice is
// shared and must not be modified.
func (b *base) Neighbors(id int) []int {
	if b.nbrs == nil {
		return nil
	}
	return b.nbrs[id]
}

func (b *base) IsBoundary(id int) bool { return b.boundary[id] }

// selectors lists the valid boundary selectors for a dimension.
func selectors(dim int) []string {
	switch dim {
	case 1:
		return []string{"all", "left", "right"}
	case 2:
		return []string{"all", "left", "right", "bottom", "top"}
	default:
		return []string{"all", "left", "right", "bottom", "top", "front", "back"}
	}
}

func invalidSelect(dim int, sel string) error {
	return fmt.Errorf("%w: Invalid value for argument `select` in call to method `BoundaryCells`! "+
		"Available arguments (for the currently selected dimensionality) are: %s. Given value: '%s'",
		ErrInvalidSelect, strings.Join(selectors(dim), ", "), sel)
}

// boundaryCells filters cells by a per-selector predicate on the multi index.
func (b *base) boundaryCells(sel string, on func(sel string, midx []int) bool) ([]int, error) {
	if !slices.Contains(selectors(len(b.shape)), sel) {
		return nil, invalidSelect(len(b.shape), sel)
	}
	if b.sp.Periodic {
		return []int{}, nil
	}
	var out []int
	for id := 0; id < b.n; id++ {
		midx := b.MultiIndex(id)
		if sel == "all" {
			if b.boundary[id] {
				out = append(out, id)
			}
			continue
		}
		if on(sel, midx) {
			out = append(out, id)
		}
	}
	return out, nil
}

// dedupe removes repeated ids and self from a neighbor list in place.
func dedupe(self int, ids []int) []int {
	out := ids[:0]
	for _, id := range ids {
		if id == self || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return slices.Clip(out)
}

func wrapIndex(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}
