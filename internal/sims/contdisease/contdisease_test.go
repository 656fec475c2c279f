package contdisease

import (
	"io"
	"testing"

	"gridsim/internal/hdf"
	"gridsim/internal/model"
	"gridsim/internal/testtools"
)

func newModel(t *testing.T, doc string) *Model {
	t.Helper()
	pp, err := model.NewPseudoParentFromNode(testtools.Config(t, doc),
		model.WithLogWriter(io.Discard), model.WithMonitorWriter(io.Discard))
	if err != nil {
		t.Fatalf("NewPseudoParentFromNode: %v", err)
	}
	t.Cleanup(func() { _ = pp.Close() })
	m, err := New("contdisease", pp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func count(m *Model, k Kind) int {
	n := 0
	for _, c := range m.CellManager().Cells() {
		if c.State == k {
			n++
		}
	}
	return n
}

func TestPointInfection(t *testing.T) {
	m := newModel(t, `
output_format: memory
contdisease:
  cell_manager:
    grid: {resolution: 5}
    space: {extent: [1.0, 1.0], periodic: true}
    cell_params: {initial_density: 1.0}
  p_growth: 0.0
  p_infect: 0.0
  p_random_infect: 1.0
`)
	if err := model.Prolog(m); err != nil {
		t.Fatalf("Prolog: %v", err)
	}
	steps := []struct {
		kind Kind
	}{
		{Infected},
		{Empty},
	}
	for i, s := range steps {
		if err := model.Iterate(m); err != nil {
			t.Fatalf("Iterate: %v", err)
		}
		if got := count(m, s.kind); got != 25 {
			t.Fatalf("step %d: %d cells are %s, want 25", i+1, got, s.kind)
		}
	}
	if err := model.Epilog(m); err != nil {
		t.Fatalf("Epilog: %v", err)
	}

	ds, err := m.Group().OpenDataset("densities")
	if err != nil {
		t.Fatal(err)
	}
	got, shape, err := hdf.Read[float64](ds)
	if err != nil {
		t.Fatal(err)
	}
	if len(shape) != 2 || shape[0] != 3 || shape[1] != 5 {
		t.Fatalf("densities shape = %v, want [3 5]", shape)
	}
	want := []float64{
		0, 1, 0, 0, 0,
		0, 0, 1, 0, 0,
		1, 0, 0, 0, 0,
	}
	if !testtools.ApproxSlice(got, want, 1e-12) {
		t.Fatalf("densities = %v, want %v", got, want)
	}
	attrs, err := ds.Attributes()
	if err != nil {
		t.Fatal(err)
	}
	names, ok := hdf.Lookup(attrs, "coords__kind")
	if !ok || len(names.(hdf.Strings)) != 5 || names.(hdf.Strings)[2] != "infected" {
		t.Fatalf("coords__kind = %v", names)
	}
}

func TestNeighborInfection(t *testing.T) {
	// 3x1 strip with a source at the left end
	m := newModel(t, `
output_format: memory
contdisease:
  cell_manager:
    grid: {resolution: 1}
    space: {extent: [3.0, 1.0], periodic: false}
    cell_params: {initial_density: 1.0}
  p_growth: 0.0
  p_infect: 1.0
  p_random_infect: 0.0
  infection_source:
    enabled: true
    mode: boundary
    boundary: left
`)
	want := [][]Kind{
		{Source, Infected, Tree},
		{Source, Empty, Infected},
		{Source, Empty, Empty},
	}
	for step, row := range want {
		if err := m.PerformStep(); err != nil {
			t.Fatal(err)
		}
		for id, k := range row {
			if got := m.CellManager().Cell(id).State; got != k {
				t.Fatalf("step %d cell %d = %s, want %s", step+1, id, got, k)
			}
		}
	}
}

func TestInfectionControl(t *testing.T) {
	m := newModel(t, `
output_format: memory
contdisease:
  cell_manager:
    grid: {resolution: 4}
    space: {extent: [1.0, 1.0], periodic: true}
    neighborhood: {mode: empty}
    cell_params: {initial_density: 1.0}
  p_growth: 0.0
  p_infect: 0.0
  p_random_infect: 0.0
  infection_control:
    enabled: true
    num_additional_infections: 3
    at_times: [1]
`)
	if err := model.Prolog(m); err != nil {
		t.Fatal(err)
	}
	if err := model.Iterate(m); err != nil {
		t.Fatal(err)
	}
	if got := count(m, Tree); got != 16 {
		t.Fatalf("trees after the first step = %d, want 16", got)
	}
	if err := model.Iterate(m); err != nil {
		t.Fatal(err)
	}
	// infected at time 1 and killed by the synchronous rule of the same step
	if got := count(m, Empty); got != 3 {
		t.Fatalf("empty cells = %d, want 3", got)
	}
}
