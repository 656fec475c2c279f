// Package space models the continuous, axis-aligned domain that grids and
// agents live in.
package space

import (
	"errors"
	"fmt"
	"math"

	"gridsim/internal/config"
)

// Vec is a position or displacement in physical space.
type Vec []float64

// Space is a 1 to 3 dimensional box [0, extent) with an optional periodic
// boundary.
type Space struct {
	Extent   Vec
	Periodic bool
}

// New validates the extent and returns a Space.
func New(extent Vec, periodic bool) (*Space, error) {
	if len(extent) < 1 || len(extent) > 3 {
		return nil, fmt.Errorf("%w: space dimension must be 1, 2 or 3, was %d", config.ErrInvalid, len(extent))
	}
	for i, e := range extent {
		if !(e > 0) || math.IsInf(e, 0) {
			return nil, fmt.Errorf("%w: space extent[%d] must be positive, was %v", config.ErrInvalid, i, e)
		}
	}
	return &Space{Extent: append(Vec(nil), extent...), Periodic: periodic}, nil
}

// Unit returns the non-periodic unit box of the given dimension.
func Unit(dim int) *Space {
	ext := make(Vec, dim)
	for i := range ext {
		ext[i] = 1
	}
	return &Space{Extent: ext}
}

// FromConfig builds a Space from a node with optional keys `extent` and
// `periodic`. An absent extent defaults to the unit box of dimension dim.
func FromConfig(n config.Node, dim int) (*Space, error) {
	periodic, err := config.GetOr(n, "periodic", false)
	if err != nil {
		return nil, err
	}
	if !n.Has("extent") {
		s := Unit(dim)
		s.Periodic = periodic
		return s, nil
	}
	extent, err := config.Get[[]float64](n, "extent")
	if err != nil {
		return nil, err
	}
	if dim > 0 && len(extent) != dim {
		return nil, fmt.Errorf("%w '%s.extent': expected %d components, got %d",
			config.ErrInvalid, n.Path(), dim, len(extent))
	}
	return New(extent, periodic)
}

// Dim returns the number of axes.
func (s *Space) Dim() int { return len(s.Extent) }

// Volume returns the product of the extents.
func (s *Space) Volume() float64 {
	v := 1.0
	for _, e := range s.Extent {
		v *= e
	}
	return v
}

// Contains reports whether 0 <= pos[i] < extent[i] on every axis.
func (s *Space) Contains(pos Vec) bool {
	if len(pos) != len(s.Extent) {
		return false
	}
	for i, p := range pos {
		if p < 0 || p >= s.Extent[i] {
			return false
		}
	}
	return true
}

// Wrap maps pos back into the space on periodic spaces. Non-periodic spaces
// return a copy of pos.
func (s *Space) Wrap(pos Vec) Vec {
	out := append(Vec(nil), pos...)
	if !s.Periodic {
		return out
	}
	for i := range out {
		out[i] = mod(out[i], s.Extent[i])
	}
	return out
}

// Clamp moves pos onto the closest point inside the space.
func (s *Space) Clamp(pos Vec) Vec {
	out := append(Vec(nil), pos...)
	for i := range out {
		hi := math.Nextafter(s.Extent[i], 0)
		out[i] = math.Min(math.Max(out[i], 0), hi)
	}
	return out
}

// Displacement returns the shortest vector pointing from a to b. On
// periodic spaces each component is the representative with minimal
// absolute value.
func (s *Space) Displacement(a, b Vec) Vec {
	d := make(Vec, len(a))
	for i := range a {
		d[i] = b[i] - a[i]
		if s.Periodic {
			e := s.Extent[i]
			d[i] = mod(d[i]+e/2, e) - e/2
		}
	}
	return d
}

// Distance returns the euclidean length of Displacement(a, b).
func (s *Space) Distance(a, b Vec) float64 {
	return Norm(s.Displacement(a, b))
}

// ErrDimension is returned when vectors of different length are combined.
var ErrDimension = errors.New("dimension mismatch")

// Add returns a + b.
func Add(a, b Vec) (Vec, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d != %d", ErrDimension, len(a), len(b))
	}
	out := make(Vec, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out, nil
}

// Norm returns the euclidean length of v.
func Norm(v Vec) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// mod is the mathematical modulo: the result has the sign of m.
func mod(x, m float64) float64 {
	r := math.Mod(x, m)
	if r < 0 {
		r += m
	}
	if r >= m {
		r = 0
	}
	return r
}
