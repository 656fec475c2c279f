package rules

import (
	"errors"
	"slices"
	"testing"

	"gridsim/internal/entity"
	"gridsim/internal/space"
	"gridsim/pkg/core"
)

func line(n int, state func(i int) int) []*entity.Cell[int] {
	cells := make([]*entity.Cell[int], n)
	for i := range cells {
		cells[i] = entity.NewCell(i, space.Vec{float64(i)}, i == 0 || i == n-1, state(i))
	}
	return cells
}

func states(cells []*entity.Cell[int]) []int {
	out := make([]int, len(cells))
	for i, c := range cells {
		out[i] = c.State
	}
	return out
}

// left returns the left neighbor with wrap-around.
func left(cells []*entity.Cell[int], c *entity.Cell[int]) *entity.Cell[int] {
	return cells[(c.ID()+len(cells)-1)%len(cells)]
}

func TestSyncIdentityIsNoop(t *testing.T) {
	cells := line(10, func(i int) int { return i * i })
	before := states(cells)
	for _, sh := range []Shuffle{ShuffleOff, ShuffleOn} {
		err := Apply(Sync, sh, cells, func(c *entity.Cell[int]) int { return c.State }, core.NewRNG(1))
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(states(cells), before) {
			t.Fatalf("shuffle=%v: identity rule changed state to %v", sh, states(cells))
		}
	}
}

func TestSyncDoesNotObserveUpdates(t *testing.T) {
	cells := line(5, func(i int) int { return i })
	shift := func(c *entity.Cell[int]) int { return left(cells, c).State }
	if err := Apply(Sync, ShuffleOff, cells, shift, nil); err != nil {
		t.Fatal(err)
	}
	if want := []int{4, 0, 1, 2, 3}; !slices.Equal(states(cells), want) {
		t.Fatalf("sync shift = %v, want %v", states(cells), want)
	}
}

func TestSyncIndependentOfRNG(t *testing.T) {
	run := func(seed int64) []int {
		cells := line(16, func(i int) int { return i % 3 })
		rule := func(c *entity.Cell[int]) int { return c.State + left(cells, c).State }
		if err := Apply(Sync, ShuffleOn, cells, rule, core.NewRNG(seed)); err != nil {
			t.Fatal(err)
		}
		return states(cells)
	}
	if a, b := run(1), run(99); !slices.Equal(a, b) {
		t.Fatalf("sync result depends on seed: %v vs %v", a, b)
	}
}

func TestAsyncObservesUpdates(t *testing.T) {
	cells := line(5, func(i int) int { return i })
	cells[4].State = 100
	shift := func(c *entity.Cell[int]) int { return left(cells, c).State }
	if err := Apply(Async, ShuffleOff, cells, shift, nil); err != nil {
		t.Fatal(err)
	}
	for i, s := range states(cells) {
		if s != 100 {
			t.Fatalf("cell %d = %d, async update should have propagated 100", i, s)
		}
	}
}

func TestAsyncShuffleReproducible(t *testing.T) {
	run := func(seed int64) []int {
		cells := line(32, func(i int) int { return i })
		var order []int
		err := ApplyInPlace(Async, ShuffleOn, cells, func(c *entity.Cell[int]) {
			order = append(order, c.ID())
		}, core.NewRNG(seed))
		if err != nil {
			t.Fatal(err)
		}
		return order
	}
	a, b := run(7), run(7)
	if !slices.Equal(a, b) {
		t.Fatal("same seed produced different traversal orders")
	}
	c := run(8)
	if slices.Equal(a, c) {
		t.Fatal("different seeds produced the same traversal order")
	}
	sorted := slices.Sorted(slices.Values(a))
	for i, id := range sorted {
		if id != i {
			t.Fatalf("traversal is not a permutation: %v", a)
		}
	}
}

func TestShapeErrors(t *testing.T) {
	cells := line(3, func(int) int { return 0 })
	noop := func(*entity.Cell[int]) {}
	keep := func(c *entity.Cell[int]) int { return c.State }

	if err := ApplyInPlace(Sync, ShuffleOff, cells, noop, nil); !errors.Is(err, ErrRuleShape) {
		t.Fatalf("void rule under sync: %v", err)
	}
	if err := Apply(Manual, ShuffleOff, cells, keep, nil); !errors.Is(err, ErrRuleShape) {
		t.Fatalf("state rule under manual: %v", err)
	}
	if err := ApplyInPlace(Manual, ShuffleOn, cells, noop, core.NewRNG(1)); !errors.Is(err, ErrRuleShape) {
		t.Fatalf("shuffled manual: %v", err)
	}
	if err := ApplyInPlace(Async, ShuffleOn, cells, noop, nil); !errors.Is(err, ErrNoRNG) {
		t.Fatalf("shuffle without rng: %v", err)
	}
	if err := Apply(Sync, ShuffleOn, cells, keep, nil); !errors.Is(err, ErrNoRNG) {
		t.Fatalf("sync shuffle without rng: %v", err)
	}
	if err := ApplyInPlace(Manual, ShuffleOff, cells, noop, nil); err != nil {
		t.Fatalf("manual in place: %v", err)
	}
}

func TestScratchReuse(t *testing.T) {
	var s Scratch[*entity.Cell[int]]
	cells := line(8, func(i int) int { return i })
	rng := core.NewRNG(3)
	for i := 0; i < 3; i++ {
		err := ApplyWith(&s, Async, ShuffleOn, cells, func(c *entity.Cell[int]) int { return c.State + 1 }, rng)
		if err != nil {
			t.Fatal(err)
		}
	}
	for i, c := range cells {
		if c.State != i+3 {
			t.Fatalf("cell %d = %d, want %d", i, c.State, i+3)
		}
	}
}

func TestLabelClusters(t *testing.T) {
	// 1 1 0 1 1 1 0 0 1 on an open line
	pattern := []int{1, 1, 0, 1, 1, 1, 0, 0, 1}
	cells := line(len(pattern), func(i int) int { return pattern[i] })
	neighbors := func(c *entity.Cell[int]) []*entity.Cell[int] {
		var out []*entity.Cell[int]
		if c.ID() > 0 {
			out = append(out, cells[c.ID()-1])
		}
		if c.ID() < len(cells)-1 {
			out = append(out, cells[c.ID()+1])
		}
		return out
	}
	member := func(c *entity.Cell[int]) bool { return c.State == 1 }

	var s Scratch[*entity.Cell[int]]
	labels, n, err := LabelClusters(&s, cells, member, neighbors)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("found %d clusters, want 3", n)
	}
	if want := []int{1, 1, 0, 2, 2, 2, 0, 0, 3}; !slices.Equal(labels, want) {
		t.Fatalf("labels = %v, want %v", labels, want)
	}

	burned := FloodFill(&s, cells[4], member, neighbors, func(c *entity.Cell[int]) { c.State = 0 })
	if burned != 3 {
		t.Fatalf("flood fill visited %d cells, want 3", burned)
	}
	if want := []int{1, 1, 0, 0, 0, 0, 0, 0, 1}; !slices.Equal(states(cells), want) {
		t.Fatalf("after flood fill: %v", states(cells))
	}
	if FloodFill(&s, cells[2], member, neighbors, func(*entity.Cell[int]) {}) != 0 {
		t.Fatal("flood fill from a non-member visited cells")
	}
}
