package predatorprey

import (
	"fmt"
	"io"
	"testing"

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
	m, err := New("predatorprey", pp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func strip(width int, pFlee float64) string {
	return fmt.Sprintf(`
output_format: memory
predatorprey:
  cell_manager:
    grid: {resolution: 1}
    space: {extent: [%d.0, 1.0], periodic: false}
    neighborhood: {mode: vonNeumann}
    cell_params: {p_predator: 0.0, p_prey: 0.0}
  predator:
    cost_of_living: 1.0
    resource_intake: 3.0
    resource_max: 8.0
    p_repro: 0.0
  prey:
    cost_of_living: 0.5
    resource_intake: 1.0
    resource_max: 8.0
    p_repro: 0.0
    p_flee: %v
`, width, pFlee)
}

func TestPredatorCatchesPrey(t *testing.T) {
	cases := []struct {
		name      string
		resources float64
		want      float64
	}{
		{"gains intake", 3, 5},
		{"clamped at max", 7, 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newModel(t, strip(2, 0))
			cells := m.CellManager().Cells()
			cells[0].State.Predator = Animal{Present: true, Resources: tc.resources}
			cells[1].State.Prey = Animal{Present: true, Resources: 2}

			if err := m.PerformStep(); err != nil {
				t.Fatal(err)
			}
			if s := cells[0].State; s.Predator.Present || s.Prey.Present {
				t.Fatalf("cell 0 = %+v, want empty", s)
			}
			s := cells[1].State
			if s.Prey.Present {
				t.Fatalf("prey survived: %+v", s)
			}
			if !s.Predator.Present || s.Predator.Resources != tc.want {
				t.Fatalf("cell 1 predator = %+v, want resources %v", s.Predator, tc.want)
			}
		})
	}
}

func TestStarvation(t *testing.T) {
	m := newModel(t, strip(2, 0))
	cells := m.CellManager().Cells()
	cells[0].State.Predator = Animal{Present: true, Resources: 1}
	if err := m.PerformStep(); err != nil {
		t.Fatal(err)
	}
	if predators, prey := m.Counts(); predators != 0 || prey != 0 {
		t.Fatalf("counts = %d, %d, want 0, 0", predators, prey)
	}
}

func TestPreyFlees(t *testing.T) {
	m := newModel(t, strip(3, 1))
	cells := m.CellManager().Cells()
	// predator and prey share the middle cell; the predator stays, the prey
	// escapes to one of the two free neighbors and feeds there
	cells[1].State.Predator = Animal{Present: true, Resources: 5}
	cells[1].State.Prey = Animal{Present: true, Resources: 2}
	if err := m.PerformStep(); err != nil {
		t.Fatal(err)
	}
	if s := cells[1].State; !s.Predator.Present || s.Prey.Present || s.Predator.Resources != 4 {
		t.Fatalf("middle cell = %+v", s)
	}
	var fled *Animal
	for _, id := range []int{0, 2} {
		if cells[id].State.Prey.Present {
			fled = &cells[id].State.Prey
		}
	}
	if fled == nil || fled.Resources != 2.5 {
		t.Fatalf("prey did not flee and feed: %+v", fled)
	}
}

func TestReproduction(t *testing.T) {
	m := newModel(t, `
output_format: memory
predatorprey:
  cell_manager:
    grid: {resolution: 1}
    space: {extent: [2.0, 1.0], periodic: false}
    cell_params: {p_predator: 0.0, p_prey: 0.0}
  prey:
    cost_of_living: 0.0
    resource_intake: 0.0
    repro_resource_requirement: 4.0
    repro_cost: 2.0
    p_repro: 1.0
    p_flee: 0.0
`)
	cells := m.CellManager().Cells()
	cells[0].State.Prey = Animal{Present: true, Resources: 5}
	if err := m.PerformStep(); err != nil {
		t.Fatal(err)
	}
	if got := cells[0].State.Prey.Resources; got != 3 {
		t.Fatalf("parent resources = %v, want 3", got)
	}
	if got := cells[1].State.Prey; !got.Present || got.Resources != 2 {
		t.Fatalf("offspring = %+v", got)
	}
}

func TestInvalidSpecies(t *testing.T) {
	pp, err := model.NewPseudoParentFromNode(testtools.Config(t, `
output_format: memory
predatorprey:
  prey: {repro_cost: 5.0, repro_resource_requirement: 4.0}
`), model.WithLogWriter(io.Discard), model.WithMonitorWriter(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	defer pp.Close()
	if _, err := New("predatorprey", pp); err == nil {
		t.Fatal("expected an error for repro_cost above the requirement")
	}
}
