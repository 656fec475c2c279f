package manager

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"gridsim/internal/config"
	"gridsim/internal/entity"
	"gridsim/internal/grid"
	"gridsim/internal/hdf"
	"gridsim/internal/logging"
	"gridsim/internal/rules"
	"gridsim/internal/space"
	"gridsim/internal/testtools"
	"gridsim/pkg/core"
)

const squareDoc = `
grid:
  structure: square
  resolution: 4
space:
  extent: [1.0, 1.0]
  periodic: %v
neighborhood:
  mode: vonNeumann
cell_params:
  initial: 3
`

type sandState struct {
	Slope int
}

func sandFactory(cfg config.Node, _ *core.RNG) (sandState, error) {
	v, err := config.GetOr(cfg, "initial", 0)
	return sandState{Slope: v}, err
}

func newSquare(t *testing.T, periodic bool) *CellManager[sandState] {
	t.Helper()
	cfg := testtools.Config(t, fmt.Sprintf(squareDoc, periodic))
	m, err := NewCellManager(cfg, core.NewRNG(1), logging.Discard(), sandFactory)
	if err != nil {
		t.Fatalf("NewCellManager: %v", err)
	}
	return m
}

func TestCellManagerSetup(t *testing.T) {
	m := newSquare(t, false)
	if m.NumCells() != 16 {
		t.Fatalf("NumCells = %d, want 16", m.NumCells())
	}
	for _, c := range m.Cells() {
		if c.State.Slope != 3 {
			t.Fatalf("cell %d slope = %d, want 3 from cell_params", c.ID(), c.State.Slope)
		}
	}
	counts := map[int]int{}
	for _, c := range m.Cells() {
		counts[len(m.Neighbors(c))]++
	}
	if counts[2] != 4 || counts[3] != 8 || counts[4] != 4 {
		t.Fatalf("neighbor count histogram = %v", counts)
	}
	c, err := m.CellAt(space.Vec{0.1, 0.9})
	if err != nil {
		t.Fatal(err)
	}
	if c.ID() != 12 || !c.IsBoundary() {
		t.Fatalf("CellAt = %d boundary=%v, want 12 on the boundary", c.ID(), c.IsBoundary())
	}
	if _, err := m.CellAt(space.Vec{1.5, 0.5}); !errors.Is(err, grid.ErrOutOfSpace) {
		t.Fatalf("err = %v, want ErrOutOfSpace", err)
	}

	if err := m.SetNeighborhood(grid.Moore, 1); err != nil {
		t.Fatal(err)
	}
	if n := len(m.Neighbors(m.Cell(5))); n != 8 {
		t.Fatalf("Moore neighbors = %d, want 8", n)
	}
}

func TestCellManagerConfigErrors(t *testing.T) {
	cfg := testtools.Config(t, `
grid:
  structure: square
  resolution: 0
space:
  extent: [1.0, 1.0]
`)
	_, err := NewCellManager(cfg, core.NewRNG(1), logging.Discard(), ZeroState[int]())
	if err == nil || !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}

	failing := func(config.Node, *core.RNG) (int, error) { return 0, errors.New("boom") }
	cfg = testtools.Config(t, fmt.Sprintf(squareDoc, false))
	if _, err := NewCellManager(cfg, core.NewRNG(1), logging.Discard(), failing); err == nil {
		t.Fatal("expected factory error")
	}
}

func TestApplyRuleSync(t *testing.T) {
	m := newSquare(t, true)
	m.Cell(0).State.Slope = 10
	err := m.ApplyRule(rules.Sync, rules.ShuffleOff, func(c *Cell[sandState]) sandState {
		sum := 0
		for _, nb := range m.Neighbors(c) {
			sum += nb.State.Slope
		}
		return sandState{Slope: sum}
	})
	if err != nil {
		t.Fatal(err)
	}
	got := States(m, func(c *Cell[sandState]) int { return c.State.Slope })
	// neighbors of cell 0 on the periodic 4x4 grid: 3, 1, 12, 4
	for _, id := range []int{1, 3, 4, 12} {
		if got[id] != 19 {
			t.Fatalf("cell %d = %d, want 19", id, got[id])
		}
	}
	if got[5] != 12 || got[0] != 12 {
		t.Fatalf("cells 0 and 5 = %d, %d, want 12", got[0], got[5])
	}
}

func TestSelectCells(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want func([]int) error
	}{
		{
			name: "sample",
			doc:  "mode: sample\nnum_cells: 5",
			want: func(ids []int) error {
				if len(ids) != 5 || !slices.IsSorted(ids) {
					return fmt.Errorf("got %v", ids)
				}
				return nil
			},
		},
		{
			name: "fraction one",
			doc:  "mode: fraction\nprobability: 1.0",
			want: func(ids []int) error {
				if len(ids) != 16 {
					return fmt.Errorf("got %d cells", len(ids))
				}
				return nil
			},
		},
		{
			name: "fraction zero",
			doc:  "mode: fraction\nprobability: 0.0",
			want: func(ids []int) error {
				if len(ids) != 0 {
					return fmt.Errorf("got %v", ids)
				}
				return nil
			},
		},
		{
			name: "boundary left",
			doc:  "mode: boundary\nboundary: left",
			want: func(ids []int) error {
				if !slices.Equal(ids, []int{0, 4, 8, 12}) {
					return fmt.Errorf("got %v", ids)
				}
				return nil
			},
		},
		{
			name: "boundary all",
			doc:  "mode: boundary",
			want: func(ids []int) error {
				if len(ids) != 12 {
					return fmt.Errorf("got %d cells", len(ids))
				}
				return nil
			},
		},
		{
			name: "clustered full attach",
			doc:  "mode: clustered\np_seed: 0.0\np_attach: 1.0\nnum_passes: 3",
			want: func(ids []int) error {
				if len(ids) != 0 {
					return fmt.Errorf("no seeds should give no cells, got %v", ids)
				}
				return nil
			},
		},
		{
			name: "clustered all seeds",
			doc:  "mode: clustered\np_seed: 1.0\np_attach: 0.0",
			want: func(ids []int) error {
				if len(ids) != 16 {
					return fmt.Errorf("got %d cells", len(ids))
				}
				return nil
			},
		},
		{
			name: "cell_at",
			doc:  "mode: cell_at\npositions: [[0.9, 0.1], [0.1, 0.1], [0.95, 0.05]]",
			want: func(ids []int) error {
				if !slices.Equal(ids, []int{0, 3}) {
					return fmt.Errorf("got %v", ids)
				}
				return nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newSquare(t, false)
			cells, err := m.SelectCells(testtools.Config(t, tt.doc), nil)
			if err != nil {
				t.Fatalf("SelectCells: %v", err)
			}
			if err := tt.want(entity.IDs(cells)); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestSelectCellsErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"unknown mode", "mode: everywhere", config.ErrInvalid},
		{"missing mode", "num_cells: 3", config.ErrMissing},
		{"too many", "mode: sample\nnum_cells: 17", config.ErrInvalid},
		{"bad probability", "mode: fraction\nprobability: 1.5", config.ErrInvalid},
		{"bad boundary", "mode: boundary\nboundary: inside", grid.ErrInvalidSelect},
		{"outside", "mode: cell_at\npositions: [[2.0, 0.5]]", grid.ErrOutOfSpace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newSquare(t, false)
			_, err := m.SelectCells(testtools.Config(t, tt.doc), nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSelectFromFile(t *testing.T) {
	path := testtools.TempOutput(t, "init.sqlite")
	f, err := hdf.Create(path, hdf.FormatSQLite, nil)
	if err != nil {
		t.Fatal(err)
	}
	ds, _ := f.OpenDataset("model/kind")
	if err := ds.SetCapacity([]uint64{hdf.Unlimited, 16}); err != nil {
		t.Fatal(err)
	}
	frame := make([]uint8, 16)
	if err := hdf.Write(ds, frame); err != nil {
		t.Fatal(err)
	}
	frame[2], frame[7] = 1, 3
	if err := hdf.Write(ds, frame); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	m := newSquare(t, false)
	doc := fmt.Sprintf("mode: from_file\nfile: %s\ndataset: model/kind", path)
	cells, err := m.SelectCells(testtools.Config(t, doc), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := entity.IDs(cells); !slices.Equal(got, []int{2, 7}) {
		t.Fatalf("selected %v, want last frame's [2 7]", got)
	}
}

func TestApplyPatch(t *testing.T) {
	m := newSquare(t, false)
	set := func(c *Cell[sandState]) { c.State.Slope = -1 }

	n, err := m.ApplyPatch(testtools.Config(t, "mode: boundary\nboundary: top\nenabled: false"), nil, set)
	if err != nil || n != 0 {
		t.Fatalf("disabled patch: n=%d err=%v", n, err)
	}
	if n, err := m.ApplyPatch(config.Node{}, nil, set); err != nil || n != 0 {
		t.Fatalf("empty patch: n=%d err=%v", n, err)
	}
	n, err = m.ApplyPatch(testtools.Config(t, "mode: boundary\nboundary: top"), nil, set)
	if err != nil || n != 4 {
		t.Fatalf("top patch: n=%d err=%v", n, err)
	}
	for _, id := range []int{12, 13, 14, 15} {
		if m.Cell(id).State.Slope != -1 {
			t.Fatalf("cell %d not patched", id)
		}
	}
}

func TestClusters(t *testing.T) {
	m := newSquare(t, false)
	for _, c := range m.Cells() {
		c.State.Slope = 0
	}
	for _, id := range []int{0, 1, 4, 10, 11, 15} {
		m.Cell(id).State.Slope = 1
	}
	member := func(c *Cell[sandState]) bool { return c.State.Slope == 1 }
	labels, n, err := m.LabelClusters(member)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("clusters = %d, want 2", n)
	}
	if labels[0] != 1 || labels[1] != 1 || labels[4] != 1 || labels[10] != 2 || labels[15] != 2 || labels[5] != 0 {
		t.Fatalf("labels = %v", labels)
	}
	size := m.FloodFill(m.Cell(11), member, func(c *Cell[sandState]) { c.State.Slope = 2 })
	if size != 3 || m.Cell(10).State.Slope != 2 {
		t.Fatalf("flood fill size = %d", size)
	}
}

const agentDoc = `
space:
  extent: [10.0, 10.0]
  periodic: %v
out_of_space: %s
initial_positions: [[1.0, 1.0], [9.5, 9.5], [5.0, 5.0]]
`

func newAgents(t *testing.T, periodic bool, policy OutOfSpace) *AgentManager[int] {
	t.Helper()
	cfg := testtools.Config(t, fmt.Sprintf(agentDoc, periodic, policy))
	m, err := NewAgentManager(cfg, core.NewRNG(3), logging.Discard(), ZeroState[int]())
	if err != nil {
		t.Fatalf("NewAgentManager: %v", err)
	}
	return m
}

func TestAgentMoves(t *testing.T) {
	tests := []struct {
		name     string
		periodic bool
		policy   OutOfSpace
		moved    bool
		want     space.Vec
		err      error
	}{
		{"periodic wraps", true, Reject, true, space.Vec{9.5, 1}, nil},
		{"reject", false, Reject, false, space.Vec{1, 1}, nil},
		{"clip", false, Clip, true, space.Vec{0, 1}, nil},
		{"error", false, Fail, false, space.Vec{1, 1}, grid.ErrOutOfSpace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newAgents(t, tt.periodic, tt.policy)
			a := m.Agents()[0]
			moved, err := m.MoveBy(a, space.Vec{-1.5, 0})
			if !errors.Is(err, tt.err) || moved != tt.moved {
				t.Fatalf("moved=%v err=%v", moved, err)
			}
			if !testtools.ApproxSlice(a.Position(), tt.want, 1e-9) {
				t.Fatalf("position = %v, want %v", a.Position(), tt.want)
			}
		})
	}
}

func TestAgentNeighbors(t *testing.T) {
	m := newAgents(t, true, Reject)
	a := m.Agents()[0]
	if got := entity.IDs(m.NeighborsWithin(a, 2.5)); !slices.Equal(got, []int{1}) {
		t.Fatalf("periodic neighbors = %v, want [1]", got)
	}
	m = newAgents(t, false, Reject)
	if got := m.NeighborsWithin(m.Agents()[0], 2.5); len(got) != 0 {
		t.Fatalf("non-periodic neighbors = %v, want none", entity.IDs(got))
	}
}

func TestAgentRandomPlacement(t *testing.T) {
	cfg := testtools.Config(t, "space:\n  extent: [2.0, 3.0]\ninitial_num_agents: 50\nagent_params: {}")
	m, err := NewAgentManager(cfg, core.NewRNG(9), logging.Discard(), StateFromValue(1.0))
	if err != nil {
		t.Fatal(err)
	}
	if m.NumAgents() != 50 {
		t.Fatalf("NumAgents = %d", m.NumAgents())
	}
	for _, a := range m.Agents() {
		if !m.Space().Contains(a.Position()) {
			t.Fatalf("agent %d at %v outside space", a.ID(), a.Position())
		}
	}
	err = m.ApplyInPlace(rules.Async, rules.ShuffleOn, func(a *Agent[float64]) { a.State *= 2 })
	if err != nil {
		t.Fatal(err)
	}
	if m.Agents()[7].State != 2 {
		t.Fatalf("state = %v, want 2", m.Agents()[7].State)
	}

	bad := testtools.Config(t, "space:\n  extent: [2.0, 3.0]\nout_of_space: bounce\ninitial_num_agents: 1")
	if _, err := NewAgentManager(bad, core.NewRNG(9), logging.Discard(), ZeroState[int]()); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}
