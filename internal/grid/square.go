package grid

import (
	"fmt"
	"math"

	"gridsim/internal/config"
	"gridsim/internal/space"
)

// Square is a structured grid of equally sized square (or cubic) cells.
type Square struct {
	base
	cellSize space.Vec
}

// NewSquare discretizes sp with resolution cells per unit length. The
// resulting cells must be square up to the relative tolerance tol.
func NewSquare(sp *space.Space, res int, tol float64) (*Square, error) {
	if err := checkResolution(res); err != nil {
		return nil, err
	}
	dim := sp.Dim()
	shape := make([]int, dim)
	size := make(space.Vec, dim)
	for i, e := range sp.Extent {
		shape[i] = int(math.Round(float64(res) * e))
		if shape[i] < 1 {
			return nil, squareMismatch()
		}
		size[i] = e / float64(shape[i])
	}
	for i := 1; i < dim; i++ {
		if math.Abs(size[i]-size[0])/size[0] > tol {
			return nil, squareMismatch()
		}
	}

	g := &Square{base: newBase(sp, res, shape), cellSize: size}
	if !sp.Periodic {
		for id := 0; id < g.n; id++ {
			for i, m := range g.MultiIndex(id) {
				if m == 0 || m == shape[i]-1 {
					g.boundary[id] = true
					break
				}
			}
		}
	}
	return g, nil
}

func squareMismatch() error {
	return fmt.Errorf("%w: Given the extent of the physical space and the specified resolution, "+
		"a mapping with exactly square cells could not be found!", ErrShape)
}

func (g *Square) Structure() Structure { return StructureSquare }

// CellSize returns the physical side lengths of every cell.
func (g *Square) CellSize() space.Vec { return append(space.Vec(nil), g.cellSize...) }

func (g *Square) CellAt(pos space.Vec) (int, error) {
	if len(pos) != g.sp.Dim() {
		return -1, fmt.Errorf("%w: position has %d components, space has %d", space.ErrDimension, len(pos), g.sp.Dim())
	}
	if g.sp.Periodic {
		pos = g.sp.Wrap(pos)
	} else if !g.sp.Contains(pos) {
		return -1, fmt.Errorf("%w: %v", ErrOutOfSpace, pos)
	}
	midx := make([]int, len(pos))
	for i, p := range pos {
		m := int(math.Floor(p / g.cellSize[i]))
		midx[i] = min(max(m, 0), g.shape[i]-1)
	}
	return g.Index(midx), nil
}

func (g *Square) Barycenter(id int) space.Vec {
	midx := g.MultiIndex(id)
	out := make(space.Vec, len(midx))
	for i, m := range midx {
		out[i] = (float64(m) + 0.5) * g.cellSize[i]
	}
	return out
}

func (g *Square) CellExtent(int) space.Vec { return g.CellSize() }

// Vertices returns the cell corners. In 2D they are ordered counter
// clockwise starting at the lower left corner; otherwise axis 0 varies
// fastest.
func (g *Square) Vertices(id int) []space.Vec {
	midx := g.MultiIndex(id)
	dim := len(midx)
	corner := func(bits int) space.Vec {
		v := make(space.Vec, dim)
		for i, m := range midx {
			v[i] = float64(m+((bits>>i)&1)) * g.cellSize[i]
		}
		return v
	}
	if dim == 2 {
		return []space.Vec{corner(0b00), corner(0b01), corner(0b11), corner(0b10)}
	}
	out := make([]space.Vec, 0, 1<<dim)
	for bits := 0; bits < 1<<dim; bits++ {
		out = append(out, corner(bits))
	}
	return out
}

// SetNeighborhood precomputes neighbor lists. For each distance d the
// axis-aligned offsets come first, axis by axis with -d before +d; the
// remaining offsets follow in lexicographic order with axis 0 fastest.
func (g *Square) SetNeighborhood(mode Mode, distance int) error {
	if distance < 1 {
		return fmt.Errorf("%w: neighborhood distance must be positive, was %d", config.ErrInvalid, distance)
	}
	var within func(off []int) bool
	switch mode {
	case Empty:
		g.mode, g.distance, g.nbrs = Empty, distance, nil
		return nil
	case VonNeumann:
		within = func(off []int) bool {
			sum := 0
			for _, o := range off {
				sum += abs(o)
			}
			return sum <= distance
		}
	case Moore:
		within = func(off []int) bool {
			for _, o := range off {
				if abs(o) > distance {
					return false
				}
			}
			return true
		}
	default:
		return fmt.Errorf("%w: neighborhood mode %q is not available on square grids (valid: empty, vonNeumann, Moore)",
			config.ErrInvalid, mode)
	}

	offsets := squareOffsets(g.sp.Dim(), distance, within)
	nbrs := make([][]int, g.n)
	target := make([]int, g.sp.Dim())
	for id := 0; id < g.n; id++ {
		midx := g.MultiIndex(id)
		list := make([]int, 0, len(offsets))
	next:
		for _, off := range offsets {
			for i := range target {
				target[i] = midx[i] + off[i]
				if g.sp.Periodic {
					target[i] = wrapIndex(target[i], g.shape[i])
				} else if target[i] < 0 || target[i] >= g.shape[i] {
					continue next
				}
			}
			list = append(list, g.Index(target))
		}
		nbrs[id] = dedupe(id, list)
	}
	g.mode, g.distance, g.nbrs = mode, distance, nbrs
	return nil
}

func squareOffsets(dim, r int, within func([]int) bool) [][]int {
	var out [][]int
	axial := func(off []int) bool {
		nonzero := 0
		for _, o := range off {
			if o != 0 {
				nonzero++
			}
		}
		return nonzero == 1
	}
	for d := 1; d <= r; d++ {
		for axis := 0; axis < dim; axis++ {
			for _, sign := range []int{-1, 1} {
				off := make([]int, dim)
				off[axis] = sign * d
				if within(off) {
					out = append(out, off)
				}
			}
		}
	}
	off := make([]int, dim)
	for i := range off {
		off[i] = -r
	}
	for {
		if !axial(off) && !isZero(off) && within(off) {
			out = append(out, append([]int(nil), off...))
		}
		i := 0
		for ; i < dim; i++ {
			off[i]++
			if off[i] <= r {
				break
			}
			off[i] = -r
		}
		if i == dim {
			return out
		}
	}
}

func (g *Square) BoundaryCells(sel string) ([]int, error) {
	return g.boundaryCells(sel, func(sel string, midx []int) bool {
		switch sel {
		case "left":
			return midx[0] == 0
		case "right":
			return midx[0] == g.shape[0]-1
		case "bottom":
			return midx[1] == 0
		case "top":
			return midx[1] == g.shape[1]-1
		case "front":
			return midx[2] == 0
		case "back":
			return midx[2] == g.shape[2]-1
		}
		return false
	})
}

func isZero(v []int) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
