package core

import (
	"slices"
	"testing"
)

func TestSameSeedSameStream(t *testing.T) {
	a, b := NewRNG(7), NewRNG(7)
	for i := 0; i < 32; i++ {
		if x, y := a.Uint64(), b.Uint64(); x != y {
			t.Fatalf("draw %d differs: %d != %d", i, x, y)
		}
	}
}

func TestDeriveIgnoresDrawHistory(t *testing.T) {
	a, b := NewRNG(42), NewRNG(42)
	for i := 0; i < 10; i++ {
		a.Uint64()
	}
	ca, cb := a.Derive("root.child"), b.Derive("root.child")
	if ca.Seed() != cb.Seed() {
		t.Fatalf("derived seeds differ: %d != %d", ca.Seed(), cb.Seed())
	}
}

func TestDeriveSeparatesPaths(t *testing.T) {
	r := NewRNG(42)
	a, b := r.Derive("root.a"), r.Derive("root.b")
	if a.Seed() == b.Seed() {
		t.Fatal("sibling paths produced the same seed")
	}
	if a.Seed() == r.Seed() {
		t.Fatal("child seed equals parent seed")
	}
	same := 0
	for i := 0; i < 16; i++ {
		if a.Uint64() == b.Uint64() {
			same++
		}
	}
	if same > 0 {
		t.Fatalf("sibling streams collided %d times", same)
	}
}

func TestBernoulliEdges(t *testing.T) {
	r := NewRNG(1)
	for i := 0; i < 100; i++ {
		if r.Bernoulli(0) {
			t.Fatal("Bernoulli(0) returned true")
		}
		if !r.Bernoulli(1) {
			t.Fatal("Bernoulli(1) returned false")
		}
	}
}

func TestPermIsPermutation(t *testing.T) {
	p := NewRNG(3).Perm(10)
	slices.Sort(p)
	for i, v := range p {
		if v != i {
			t.Fatalf("Perm result is not a permutation: %v", p)
		}
	}
}

func TestRanges(t *testing.T) {
	r := NewRNG(5)
	var heads int
	for i := 0; i < 256; i++ {
		if x := r.Uniform(-2, 3); x < -2 || x >= 3 {
			t.Fatalf("Uniform(-2, 3) = %v", x)
		}
		if n := r.IntN(7); n < 0 || n >= 7 {
			t.Fatalf("IntN(7) = %d", n)
		}
		if r.Bool() {
			heads++
		}
	}
	if heads == 0 || heads == 256 {
		t.Fatalf("Bool returned the same value 256 times")
	}
	if r.IntN(0) != 0 {
		t.Fatal("IntN(0) != 0")
	}
}
