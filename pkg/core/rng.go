package core

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
)

// RNG is a thin convenience wrapper around math/rand/v2 for deterministic
// seeding. Every model owns one, derived from its parent's.
type RNG struct {
	seed uint64
	r    *rand.Rand
}

// NewRNG creates a deterministic RNG using the provided seed.
func NewRNG(seed int64) *RNG {
	return newRNG(uint64(seed))
}

func newRNG(seed uint64) *RNG {
	return &RNG{seed: seed, r: rand.New(rand.NewPCG(seed, 0))}
}

// Derive returns an independent RNG for the given hierarchy path. The child
// seed depends only on this RNG's seed and the path, never on how many
// numbers have been drawn so far.
func (r *RNG) Derive(path string) *RNG {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], r.seed)
	d := xxhash.New()
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(path)
	return newRNG(d.Sum64())
}

// Seed reports the seed this RNG was created with.
func (r *RNG) Seed() uint64 { return r.seed }

// Bool returns a random boolean value.
func (r *RNG) Bool() bool {
	return r.r.IntN(2) == 1
}

// Bernoulli reports true with probability p.
func (r *RNG) Bernoulli(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return r.r.Float64() < p
}

// Float64 returns a uniform float in [0, 1).
func (r *RNG) Float64() float64 { return r.r.Float64() }

// Uniform returns a uniform float in [lo, hi).
func (r *RNG) Uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*r.r.Float64()
}

// NormFloat64 returns a standard normally distributed float.
func (r *RNG) NormFloat64() float64 { return r.r.NormFloat64() }

// IntN returns a random int in [0, n).
func (r *RNG) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	return r.r.IntN(n)
}

// Uint64 returns a random 64-bit value.
func (r *RNG) Uint64() uint64 { return r.r.Uint64() }

// Shuffle pseudo-randomizes the order of n elements using swap.
func (r *RNG) Shuffle(n int, swap func(i, j int)) { r.r.Shuffle(n, swap) }

// Perm returns a random permutation of [0, n).
func (r *RNG) Perm(n int) []int { return r.r.Perm(n) }

// Source exposes the underlying rand.Rand for advanced use.
func (r *RNG) Source() *rand.Rand { return r.r }

// PCG returns a fresh rand.Source seeded from this RNG, for libraries that
// take a source rather than a generator.
func (r *RNG) PCG() rand.Source {
	return rand.NewPCG(r.r.Uint64(), r.r.Uint64())
}
