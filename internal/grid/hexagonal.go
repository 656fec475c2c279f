package grid

import (
	"fmt"
	"math"

	"gridsim/internal/config"
	"gridsim/internal/space"
)

// hexDirections are the axial neighbor offsets in the order E, NE, NW, W,
// SW, SE.
var hexDirections = [6][2]int{
	{1, 0},
	{1, -1},
	{0, -1},
	{-1, 0},
	{-1, 1},
	{0, 1},
}

// Hex is a pointy-top hexagonal tiling in offset coordinates (column, row).
// Even rows are shifted right by half a cell width, so that all cell centers
// lie inside the space: the first hexagon of an even row is centered at
// x = w/2, the first one of an odd row at x = 0.
type Hex struct {
	base
	size   float64 // center to corner
	width  float64 // sqrt(3) * size
	height float64 // 2 * size
}

// NewHexagonal discretizes a 2D space into hexagons whose width is
// 1/resolution. The row count must fit the second extent within the
// relative tolerance tol.
func NewHexagonal(sp *space.Space, res int, tol float64) (*Hex, error) {
	if err := checkResolution(res); err != nil {
		return nil, err
	}
	if sp.Dim() != 2 {
		return nil, fmt.Errorf("%w: hexagonal grids are only available in 2D, space has dimension %d",
			config.ErrInvalid, sp.Dim())
	}
	cols := int(math.Round(float64(res) * sp.Extent[0]))
	if cols < 1 {
		return nil, hexMismatch()
	}
	width := sp.Extent[0] / float64(cols)
	size := width / math.Sqrt(3)
	rowHeight := 1.5 * size
	rows := int(math.Round(sp.Extent[1] / rowHeight))
	if rows < 1 || math.Abs(float64(rows)*rowHeight-sp.Extent[1])/sp.Extent[1] > tol {
		return nil, hexMismatch()
	}
	if sp.Periodic && rows%2 != 0 {
		return nil, fmt.Errorf("%w: periodic hexagonal grids need an even number of rows, got %d", ErrShape, rows)
	}

	g := &Hex{base: newBase(sp, res, []int{cols, rows}), size: size, width: width, height: 2 * size}
	if !sp.Periodic {
		for id := 0; id < g.n; id++ {
			c, r := id%cols, id/cols
			g.boundary[id] = c == 0 || c == cols-1 || r == 0 || r == rows-1
		}
	}
	return g, nil
}

func hexMismatch() error {
	return fmt.Errorf("%w: Given the extent of the physical space and the specified resolution, "+
		"a mapping with regular hexagonal cells could not be found!", ErrShape)
}

func (g *Hex) Structure() Structure { return StructureHexagonal }

// HexSize returns the distance from a cell center to its corners.
func (g *Hex) HexSize() float64 { return g.size }

func (g *Hex) toAxial(col, row int) (q, r int) {
	return col - (row+(row&1))/2, row
}

func (g *Hex) fromAxial(q, r int) (col, row int) {
	return q + (r+(r&1))/2, r
}

func (g *Hex) Barycenter(id int) space.Vec {
	q, r := g.toAxial(id%g.shape[0], id/g.shape[0])
	x := g.width/2 + g.width*(float64(q)+float64(r)/2)
	y := 0.75*g.size + 1.5*g.size*float64(r)
	return space.Vec{x, y}
}

func (g *Hex) CellExtent(int) space.Vec { return space.Vec{g.width, g.height} }

// Vertices returns the six corners counter clockwise, starting at the
// lower right one.
func (g *Hex) Vertices(id int) []space.Vec {
	c := g.Barycenter(id)
	out := make([]space.Vec, 6)
	for k := range out {
		angle := math.Pi / 180 * float64(60*k-30)
		out[k] = space.Vec{c[0] + g.size*math.Cos(angle), c[1] + g.size*math.Sin(angle)}
	}
	return out
}

// CellAt converts pos to fractional axial coordinates and rounds in cube
// space. Positions in the partial hexagons along a non-periodic border are
// clamped onto the nearest border cell.
func (g *Hex) CellAt(pos space.Vec) (int, error) {
	if len(pos) != 2 {
		return -1, fmt.Errorf("%w: position has %d components, space has 2", space.ErrDimension, len(pos))
	}
	if g.sp.Periodic {
		pos = g.sp.Wrap(pos)
	} else if !g.sp.Contains(pos) {
		return -1, fmt.Errorf("%w: %v", ErrOutOfSpace, pos)
	}
	px := pos[0] - g.width/2
	py := pos[1] - 0.75*g.size
	fq := (math.Sqrt(3)/3*px - py/3) / g.size
	fr := (2.0 / 3.0 * py) / g.size
	q, r := cubeRound(fq, fr)
	col, row := g.fromAxial(q, r)
	cols, rows := g.shape[0], g.shape[1]
	if g.sp.Periodic {
		col, row = wrapIndex(col, cols), wrapIndex(row, rows)
	} else {
		row = min(max(row, 0), rows-1)
		col = min(max(col, 0), cols-1)
	}
	return col + row*cols, nil
}

func cubeRound(fq, fr float64) (int, int) {
	fs := -fq - fr
	q, r, s := math.Round(fq), math.Round(fr), math.Round(fs)
	dq, dr, ds := math.Abs(q-fq), math.Abs(r-fr), math.Abs(s-fs)
	switch {
	case dq > dr && dq > ds:
		q = -r - s
	case dr > ds:
		r = -q - s
	}
	return int(q), int(r)
}

// SetNeighborhood accepts the empty and the hexagonal neighborhood. The
// hexagonal neighborhood only supports distance 1.
func (g *Hex) SetNeighborhood(mode Mode, distance int) error {
	switch mode {
	case Empty:
		g.mode, g.distance, g.nbrs = Empty, distance, nil
		return nil
	case Hexagonal:
		if distance != 1 {
			return fmt.Errorf("%w: hexagonal neighborhood only supports distance 1, got %d", config.ErrInvalid, distance)
		}
	default:
		return fmt.Errorf("%w: neighborhood mode %q is not available on hexagonal grids (valid: empty, hexagonal)",
			config.ErrInvalid, mode)
	}

	cols, rows := g.shape[0], g.shape[1]
	nbrs := make([][]int, g.n)
	for id := 0; id < g.n; id++ {
		q, r := g.toAxial(id%cols, id/cols)
		list := make([]int, 0, len(hexDirections))
		for _, d := range hexDirections {
			col, row := g.fromAxial(q+d[0], r+d[1])
			if g.sp.Periodic {
				col, row = wrapIndex(col, cols), wrapIndex(row, rows)
			} else if col < 0 || col >= cols || row < 0 || row >= rows {
				continue
			}
			list = append(list, col+row*cols)
		}
		nbrs[id] = dedupe(id, list)
	}
	g.mode, g.distance, g.nbrs = mode, distance, nbrs
	return nil
}

// BoundaryCells on hexagonal grids: left and right are the first and last
// column of every row, bottom and top the first and last row.
func (g *Hex) BoundaryCells(sel string) ([]int, error) {
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
		}
		return false
	})
}
