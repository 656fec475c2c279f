package grid

import (
	"errors"
	"math"
	"slices"
	"testing"

	"gridsim/internal/config"
	"gridsim/internal/space"
	"gridsim/internal/testtools"
)

func mustSquare(t *testing.T, extent space.Vec, periodic bool, res int) *Square {
	t.Helper()
	sp, err := space.New(extent, periodic)
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewSquare(sp, res, DefaultTolerance)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func mustHex(t *testing.T, periodic bool) *Hex {
	t.Helper()
	sp, err := space.New(space.Vec{1, math.Sqrt(3) / 2}, periodic)
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewHexagonal(sp, 4, DefaultTolerance)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestConstructionCases(t *testing.T) {
	for _, c := range testtools.MustLoadCases(t, "testdata/grid_cases.yml") {
		t.Run(c.Name, func(t *testing.T) {
			_, err := FromConfig(c.Params, 0)
			c.Check(t, err)
		})
	}
}

func TestSquareShapeAndIndex(t *testing.T) {
	g := mustSquare(t, space.Vec{2, 1}, false, 4)
	if !slices.Equal(g.Shape(), []int{8, 4}) {
		t.Fatalf("shape = %v, want [8 4]", g.Shape())
	}
	if g.NumCells() != 32 {
		t.Fatalf("NumCells = %d", g.NumCells())
	}
	if got := g.MultiIndex(9); !slices.Equal(got, []int{1, 1}) {
		t.Fatalf("MultiIndex(9) = %v, want [1 1]", got)
	}
	for id := 0; id < g.NumCells(); id++ {
		if back := g.Index(g.MultiIndex(id)); back != id {
			t.Fatalf("Index(MultiIndex(%d)) = %d", id, back)
		}
	}
	if g.Index([]int{8, 0}) != -1 {
		t.Fatal("Index accepted out of range multi index")
	}
}

func TestSquareCellAtBarycenter(t *testing.T) {
	for _, periodic := range []bool{false, true} {
		g := mustSquare(t, space.Vec{2, 1}, periodic, 5)
		for id := 0; id < g.NumCells(); id++ {
			got, err := g.CellAt(g.Barycenter(id))
			if err != nil {
				t.Fatal(err)
			}
			if got != id {
				t.Fatalf("periodic=%v: CellAt(Barycenter(%d)) = %d", periodic, id, got)
			}
		}
	}
}

func TestSquareCellAtWrap(t *testing.T) {
	g := mustSquare(t, space.Vec{1, 1}, true, 4)
	positions := []space.Vec{{0.1, 0.9}, {-0.3, 0.2}, {1.7, -2.1}, {0.999, 0}}
	for _, pos := range positions {
		a, err := g.CellAt(pos)
		if err != nil {
			t.Fatal(err)
		}
		b, err := g.CellAt(g.Space().Wrap(pos))
		if err != nil {
			t.Fatal(err)
		}
		if a != b {
			t.Fatalf("CellAt(%v) = %d, CellAt(wrap) = %d", pos, a, b)
		}
	}
}

func TestSquareCellAtOutside(t *testing.T) {
	g := mustSquare(t, space.Vec{1, 1}, false, 4)
	_, err := g.CellAt(space.Vec{1.2, 0.5})
	if !errors.Is(err, ErrOutOfSpace) {
		t.Fatalf("expected ErrOutOfSpace, got %v", err)
	}
}

func TestVonNeumannCounts(t *testing.T) {
	g := mustSquare(t, space.Vec{1, 1}, false, 4)
	if err := g.SetNeighborhood(VonNeumann, 1); err != nil {
		t.Fatal(err)
	}
	for id := 0; id < g.NumCells(); id++ {
		n := len(g.Neighbors(id))
		if n < 2 || n > 4 {
			t.Fatalf("cell %d has %d neighbors", id, n)
		}
	}
	if n := len(g.Neighbors(0)); n != 2 {
		t.Fatalf("corner has %d neighbors, want 2", n)
	}
	if n := len(g.Neighbors(1)); n != 3 {
		t.Fatalf("edge cell has %d neighbors, want 3", n)
	}

	p := mustSquare(t, space.Vec{1, 1}, true, 4)
	if err := p.SetNeighborhood(VonNeumann, 1); err != nil {
		t.Fatal(err)
	}
	for id := 0; id < p.NumCells(); id++ {
		if n := len(p.Neighbors(id)); n != 4 {
			t.Fatalf("periodic cell %d has %d neighbors", id, n)
		}
	}
}

func TestMooreOrder(t *testing.T) {
	g := mustSquare(t, space.Vec{1, 1}, false, 3)
	if err := g.SetNeighborhood(Moore, 1); err != nil {
		t.Fatal(err)
	}
	// center cell (1,1) has id 4
	want := []int{3, 5, 1, 7, 0, 2, 6, 8}
	if got := g.Neighbors(4); !slices.Equal(got, want) {
		t.Fatalf("Moore neighbors = %v, want %v", got, want)
	}
}

func TestTinyPeriodicNoDuplicates(t *testing.T) {
	g := mustSquare(t, space.Vec{1, 1}, true, 2)
	if err := g.SetNeighborhood(Moore, 1); err != nil {
		t.Fatal(err)
	}
	got := g.Neighbors(0)
	sorted := slices.Sorted(slices.Values(got))
	if !slices.Equal(sorted, []int{1, 2, 3}) {
		t.Fatalf("neighbors on 2x2 periodic grid = %v", got)
	}
}

func TestBoundaryCells(t *testing.T) {
	g := mustSquare(t, space.Vec{2, 1}, false, 3)
	shape := g.Shape()
	all, err := g.BoundaryCells("all")
	if err != nil {
		t.Fatal(err)
	}
	if want := 2*(shape[0]+shape[1]) - 4; len(all) != want {
		t.Fatalf("|boundary| = %d, want %d", len(all), want)
	}
	for _, id := range all {
		if !g.IsBoundary(id) {
			t.Fatalf("cell %d reported as boundary but IsBoundary is false", id)
		}
	}
	left, _ := g.BoundaryCells("left")
	if len(left) != shape[1] {
		t.Fatalf("|left| = %d, want %d", len(left), shape[1])
	}
	top, _ := g.BoundaryCells("top")
	for _, id := range top {
		if g.MultiIndex(id)[1] != shape[1]-1 {
			t.Fatalf("top cell %d not in last row", id)
		}
	}

	p := mustSquare(t, space.Vec{2, 1}, true, 3)
	all, err = p.BoundaryCells("all")
	if err != nil || len(all) != 0 {
		t.Fatalf("periodic boundary = %v, %v", all, err)
	}

	_, err = g.BoundaryCells("front")
	if !errors.Is(err, ErrInvalidSelect) {
		t.Fatalf("expected ErrInvalidSelect for front in 2D, got %v", err)
	}
}

func TestSquareVertices(t *testing.T) {
	g := mustSquare(t, space.Vec{1, 1}, false, 2)
	v := g.Vertices(3)
	want := []space.Vec{{0.5, 0.5}, {1, 0.5}, {1, 1}, {0.5, 1}}
	for i := range want {
		if !testtools.ApproxSlice(v[i], want[i], 1e-12) {
			t.Fatalf("vertex %d = %v, want %v", i, v[i], want[i])
		}
	}
}

func TestSquare3D(t *testing.T) {
	g := mustSquare(t, space.Vec{1, 1, 1}, false, 3)
	if g.NumCells() != 27 {
		t.Fatalf("NumCells = %d", g.NumCells())
	}
	if err := g.SetNeighborhood(VonNeumann, 1); err != nil {
		t.Fatal(err)
	}
	if n := len(g.Neighbors(13)); n != 6 {
		t.Fatalf("center of 3x3x3 has %d von Neumann neighbors", n)
	}
	front, err := g.BoundaryCells("front")
	if err != nil || len(front) != 9 {
		t.Fatalf("front = %v, %v", front, err)
	}
	if len(g.Vertices(0)) != 8 {
		t.Fatal("3D cell should have 8 vertices")
	}
}

func TestHexShape(t *testing.T) {
	g := mustHex(t, true)
	if !slices.Equal(g.Shape(), []int{4, 4}) {
		t.Fatalf("shape = %v, want [4 4]", g.Shape())
	}
}

func TestHexCellAtBarycenter(t *testing.T) {
	for _, periodic := range []bool{false, true} {
		g := mustHex(t, periodic)
		for id := 0; id < g.NumCells(); id++ {
			got, err := g.CellAt(g.Barycenter(id))
			if err != nil {
				t.Fatal(err)
			}
			if got != id {
				t.Fatalf("periodic=%v: CellAt(Barycenter(%d)) = %d", periodic, id, got)
			}
		}
	}
}

func TestHexNeighbors(t *testing.T) {
	g := mustHex(t, true)
	if err := g.SetNeighborhood(Hexagonal, 1); err != nil {
		t.Fatal(err)
	}
	for id := 0; id < g.NumCells(); id++ {
		nbrs := g.Neighbors(id)
		if len(nbrs) != 6 {
			t.Fatalf("cell %d has %d neighbors, want 6", id, len(nbrs))
		}
		for _, n := range nbrs {
			if !slices.Contains(g.Neighbors(n), id) {
				t.Fatalf("neighborhood not symmetric between %d and %d", id, n)
			}
		}
	}

	// the E neighbor is the next cell in the row, W the previous one
	id := g.Index([]int{1, 1})
	nbrs := g.Neighbors(id)
	if nbrs[0] != g.Index([]int{2, 1}) || nbrs[3] != g.Index([]int{0, 1}) {
		t.Fatalf("unexpected E/W neighbors %v", nbrs)
	}

	// neighbor centers are one cell width apart
	for _, n := range nbrs {
		d := g.Space().Distance(g.Barycenter(id), g.Barycenter(n))
		if !testtools.Approx(d, 0.25, 1e-9) {
			t.Fatalf("distance to neighbor %d = %v, want 0.25", n, d)
		}
	}

	np := mustHex(t, false)
	if err := np.SetNeighborhood(Hexagonal, 1); err != nil {
		t.Fatal(err)
	}
	if n := len(np.Neighbors(0)); n >= 6 {
		t.Fatalf("corner of non-periodic hex grid has %d neighbors", n)
	}
}

func TestHexBoundary(t *testing.T) {
	g := mustHex(t, false)
	all, err := g.BoundaryCells("all")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 12 {
		t.Fatalf("|boundary| = %d, want 12", len(all))
	}
	bottom, _ := g.BoundaryCells("bottom")
	if !slices.Equal(bottom, []int{0, 1, 2, 3}) {
		t.Fatalf("bottom = %v", bottom)
	}
	if _, err := g.BoundaryCells("front"); !errors.Is(err, ErrInvalidSelect) {
		t.Fatalf("expected ErrInvalidSelect, got %v", err)
	}
}

func TestFromConfigNeighborhood(t *testing.T) {
	cm := config.MustParse(`
grid: {structure: square, resolution: 3}
space: {extent: [1.0, 1.0], periodic: true}
neighborhood: {mode: Moore, distance: 1}
`)
	g, err := FromConfig(cm, 0)
	if err != nil {
		t.Fatal(err)
	}
	if g.NeighborhoodMode() != Moore || len(g.Neighbors(0)) != 8 {
		t.Fatalf("mode = %s, neighbors = %v", g.NeighborhoodMode(), g.Neighbors(0))
	}
	if g.Structure() != StructureSquare || g.Resolution() != 3 {
		t.Fatalf("unexpected grid %s/%d", g.Structure(), g.Resolution())
	}
}
