package hdf

import (
	"fmt"
	"slices"
)

// Dataspace tracks the size and capacity of a dataset together with a
// hyperslab selection.
type Dataspace struct {
	size     []uint64
	capacity []uint64

	start, end, step []uint64
}

// NewDataspace creates a dataspace; a nil capacity equals the size.
func NewDataspace(size, capacity []uint64) (*Dataspace, error) {
	if capacity == nil {
		capacity = slices.Clone(size)
	}
	if len(size) != len(capacity) {
		return nil, fmt.Errorf("%w: size %v and capacity %v differ in rank", ErrRank, size, capacity)
	}
	s := &Dataspace{size: slices.Clone(size), capacity: slices.Clone(capacity)}
	for i := range size {
		if size[i] > capacity[i] {
			return nil, s.capacityError(i, size[i])
		}
	}
	return s, nil
}

func (s *Dataspace) Rank() int          { return len(s.size) }
func (s *Dataspace) Size() []uint64     { return slices.Clone(s.size) }
func (s *Dataspace) Capacity() []uint64 { return slices.Clone(s.capacity) }

func (s *Dataspace) capacityError(i int, want uint64) error {
	return fmt.Errorf("%w: capacity %s at index %d of %d is too small for new extent %d",
		ErrCapacity, dimString(s.capacity[i]), i, len(s.capacity), want)
}

// Resize changes the size within the capacity. The selection is released.
func (s *Dataspace) Resize(size []uint64) error {
	if len(size) != len(s.size) {
		return fmt.Errorf("%w: cannot resize rank %d dataspace to %v", ErrRank, len(s.size), size)
	}
	for i := range size {
		if size[i] > s.capacity[i] {
			return s.capacityError(i, size[i])
		}
	}
	s.size = slices.Clone(size)
	s.ReleaseSelection()
	return nil
}

// SelectSlice selects the hyperslab [start, end) with the given step per
// axis. A nil step selects every element.
func (s *Dataspace) SelectSlice(start, end, step []uint64) error {
	rank := len(s.size)
	if step == nil {
		step = make([]uint64, rank)
		for i := range step {
			step[i] = 1
		}
	}
	if len(start) != rank || len(end) != rank || len(step) != rank {
		return fmt.Errorf("%w: selection vectors must have rank %d", ErrRank, rank)
	}
	for i := 0; i < rank; i++ {
		if start[i] > end[i] || end[i] > s.size[i] || step[i] == 0 {
			return fmt.Errorf("%w: invalid selection [%d, %d) step %d on axis %d of size %d",
				ErrRank, start[i], end[i], step[i], i, s.size[i])
		}
	}
	s.start, s.end, s.step = slices.Clone(start), slices.Clone(end), slices.Clone(step)
	return nil
}

// SelectAll selects the whole dataspace.
func (s *Dataspace) SelectAll() {
	s.start = make([]uint64, len(s.size))
	s.end = slices.Clone(s.size)
	s.step = make([]uint64, len(s.size))
	for i := range s.step {
		s.step[i] = 1
	}
}

// ReleaseSelection removes any selection.
func (s *Dataspace) ReleaseSelection() {
	s.start, s.end, s.step = nil, nil, nil
}

// Selection returns the current selection; without one, everything.
func (s *Dataspace) Selection() (start, end, step []uint64) {
	if s.start == nil {
		all := &Dataspace{size: s.size}
		all.SelectAll()
		return all.start, all.end, all.step
	}
	return slices.Clone(s.start), slices.Clone(s.end), slices.Clone(s.step)
}

// SelectionShape returns the number of selected elements per axis.
func (s *Dataspace) SelectionShape() []uint64 {
	start, end, step := s.Selection()
	out := make([]uint64, len(start))
	for i := range out {
		out[i] = (end[i] - start[i] + step[i] - 1) / step[i]
	}
	return out
}

func dimString(d uint64) string {
	if d == Unlimited {
		return "unlimited"
	}
	return fmt.Sprint(d)
}
