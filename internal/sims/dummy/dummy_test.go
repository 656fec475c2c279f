package dummy

import (
	"io"
	"slices"
	"testing"

	"gridsim/internal/hdf"
	"gridsim/internal/model"
	"gridsim/internal/testtools"
)

const nested = `
output_format: memory
root_model_name: dummy
num_steps: 10
dummy:
  state_size: 3
  submodels: [a, b]
  a:
    state_size: 2
    stop_iterate: 3
  b:
    start_iterate: 5
    submodels: [c]
    c: {state_size: 1}
`

func run(t *testing.T, doc string) *Model {
	t.Helper()
	pp, err := model.NewPseudoParentFromNode(testtools.Config(t, doc),
		model.WithLogWriter(io.Discard), model.WithMonitorWriter(io.Discard))
	if err != nil {
		t.Fatalf("NewPseudoParentFromNode: %v", err)
	}
	t.Cleanup(func() { _ = pp.Close() })
	m, err := New("dummy", pp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := model.Run(t.Context(), m); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return m
}

func TestNestedDummies(t *testing.T) {
	m := run(t, nested)
	subs := m.Submodels()
	if len(subs) != 2 {
		t.Fatalf("got %d submodels, want 2", len(subs))
	}
	a, b := subs[0].(*Model), subs[1].(*Model)
	c := b.Submodels()[0].(*Model)

	cases := []struct {
		m     *Model
		path  string
		time  uint64
		shape []uint64
	}{
		{m, "dummy", 10, []uint64{11, 3}},
		{a, "dummy.a", 3, []uint64{4, 2}},
		{b, "dummy.b", 6, []uint64{7, 100}},
		{c, "dummy.b.c", 6, []uint64{7, 1}},
	}
	for _, tc := range cases {
		if tc.m.Path() != tc.path {
			t.Fatalf("path = %s, want %s", tc.m.Path(), tc.path)
		}
		if tc.m.Time() != tc.time {
			t.Fatalf("%s: time = %d, want %d", tc.path, tc.m.Time(), tc.time)
		}
		ds, err := tc.m.Group().OpenDataset("state")
		if err != nil {
			t.Fatal(err)
		}
		_, shape, err := hdf.Read[float64](ds)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(shape, tc.shape) {
			t.Fatalf("%s: state shape = %v, want %v", tc.path, shape, tc.shape)
		}
	}
}

func TestSameSeedSameWalk(t *testing.T) {
	x := run(t, nested).State()
	y := run(t, nested).State()
	if !slices.Equal(x, y) {
		t.Fatalf("runs with the same seed differ: %v vs %v", x, y)
	}
	z := run(t, nested+"seed: 7\n").State()
	if slices.Equal(x, z) {
		t.Fatalf("runs with different seeds agree: %v", x)
	}
}

func TestInvalidStateSize(t *testing.T) {
	pp, err := model.NewPseudoParentFromNode(testtools.Config(t, "{output_format: memory, dummy: {state_size: 0}}"),
		model.WithLogWriter(io.Discard), model.WithMonitorWriter(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	defer pp.Close()
	if _, err := New("dummy", pp); err == nil {
		t.Fatal("expected an error for state_size 0")
	}
}
