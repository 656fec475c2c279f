package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetAndSub(t *testing.T) {
	n := MustParse(`
cell_manager:
  grid:
    structure: square
    resolution: 4
  space:
    extent: [2.0, 1.0]
    periodic: true
`)
	grid := n.Sub("cell_manager").Sub("grid")
	if grid.Path() != "cell_manager.grid" {
		t.Fatalf("unexpected path %q", grid.Path())
	}
	res, err := Get[int](grid, "resolution")
	if err != nil {
		t.Fatalf("Get resolution: %v", err)
	}
	if res != 4 {
		t.Fatalf("resolution = %d, want 4", res)
	}
	extent, err := Get[[]float64](n.Sub("cell_manager").Sub("space"), "extent")
	if err != nil {
		t.Fatalf("Get extent: %v", err)
	}
	if len(extent) != 2 || extent[0] != 2 || extent[1] != 1 {
		t.Fatalf("extent = %v", extent)
	}
}

func TestGetMissingReportsPath(t *testing.T) {
	n := MustParse("a: {b: 1}")
	_, err := Get[int](n.Sub("a"), "c")
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
	if !strings.Contains(err.Error(), "a.c") {
		t.Fatalf("error %q does not name the path", err)
	}
}

func TestGetWrongType(t *testing.T) {
	n := MustParse("a: hello")
	if _, err := Get[int](n, "a"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestGetOrDefault(t *testing.T) {
	n := MustParse("a: 3")
	v, err := GetOr(n, "b", 7)
	if err != nil || v != 7 {
		t.Fatalf("GetOr = %d, %v", v, err)
	}
	v, err = GetOr(n, "a", 7)
	if err != nil || v != 3 {
		t.Fatalf("GetOr = %d, %v", v, err)
	}
}

func TestProbabilityRange(t *testing.T) {
	n := MustParse("p: 1.5\nq: 0.25")
	if _, err := Probability(n, "p", 0); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for p=1.5, got %v", err)
	}
	q, err := Probability(n, "q", 0)
	if err != nil || q != 0.25 {
		t.Fatalf("Probability(q) = %v, %v", q, err)
	}
}

func TestMergeIsRecursive(t *testing.T) {
	base := MustParse(`
seed: 1
log_levels: {core: info, model: debug}
list: [1, 2, 3]
`)
	update := MustParse(`
log_levels: {core: trace}
list: [9]
extra: yes
`)
	merged := Merge(base, update)

	if v, _ := Get[int](merged, "seed"); v != 1 {
		t.Fatalf("seed = %d, want 1", v)
	}
	if v, _ := Get[string](merged.Sub("log_levels"), "core"); v != "trace" {
		t.Fatalf("core level = %q, want trace", v)
	}
	if v, _ := Get[string](merged.Sub("log_levels"), "model"); v != "debug" {
		t.Fatalf("model level = %q, want debug", v)
	}
	if v, _ := Get[[]int](merged, "list"); len(v) != 1 || v[0] != 9 {
		t.Fatalf("list = %v, want [9]", v)
	}
	if !merged.Has("extra") {
		t.Fatal("merge dropped new key")
	}
	// inputs stay untouched
	if v, _ := Get[string](base.Sub("log_levels"), "core"); v != "info" {
		t.Fatalf("base mutated: core = %q", v)
	}
}

func TestLoadAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yml")
	if err := os.WriteFile(path, []byte("num_steps: 10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	n, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	merged := Merge(Defaults(), n)
	if v, _ := Get[int](merged, "num_steps"); v != 10 {
		t.Fatalf("num_steps = %d", v)
	}
	if v, _ := Get[int](merged, "write_every"); v != 1 {
		t.Fatalf("write_every = %d", v)
	}
}

func TestWithAndKeys(t *testing.T) {
	n := MustParse("b: 1\na: 2")
	n2, err := n.With("c", map[string]any{"d": 4})
	if err != nil {
		t.Fatal(err)
	}
	keys := n2.Keys()
	if strings.Join(keys, ",") != "b,a,c" {
		t.Fatalf("keys = %v", keys)
	}
	if v, _ := Get[int](n2.Sub("c"), "d"); v != 4 {
		t.Fatalf("c.d = %d", v)
	}
	if n.Has("c") {
		t.Fatal("With mutated receiver")
	}
}

func TestOverlayKeepsPath(t *testing.T) {
	root := MustParse("model: {p_growth: 0.5}")
	defaults := MustParse("{p_growth: 0.1, p_lightning: 0.01}")
	n := Overlay(defaults, root.Sub("model"))
	if n.Path() != "model" {
		t.Fatalf("Path = %q, want model", n.Path())
	}
	if v, _ := Get[float64](n, "p_growth"); v != 0.5 {
		t.Fatalf("p_growth = %v, want 0.5", v)
	}
	if v, _ := Get[float64](n, "p_lightning"); v != 0.01 {
		t.Fatalf("p_lightning = %v, want 0.01", v)
	}
	if _, err := Get[int](n, "missing"); err == nil || !strings.Contains(err.Error(), "model.missing") {
		t.Fatalf("error = %v, want path model.missing", err)
	}

	absent := Overlay(defaults, root.Sub("other"))
	if v, _ := Get[float64](absent, "p_growth"); v != 0.1 || absent.Path() != "other" {
		t.Fatalf("absent overlay = %v at %s", v, absent.Path())
	}
}
