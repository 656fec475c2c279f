package rules

// Identifiable entities carry a non-negative id that is unique within
// their collection.
type Identifiable interface {
	ID() int
}

func (s *Scratch[E]) mark(id int) bool {
	if id >= len(s.seen) {
		s.seen = append(s.seen, make([]bool, id+1-len(s.seen))...)
	}
	if s.seen[id] {
		return false
	}
	s.seen[id] = true
	return true
}

func release[E Identifiable](s *Scratch[E]) {
	for _, e := range s.queue {
		s.seen[e.ID()] = false
	}
	s.queue = s.queue[:0]
}

// FloodFill visits every entity reachable from start through neighbors
// whose members all satisfy member, breadth first in neighbor order. It
// returns the number of visited entities; start itself is visited only if
// it is a member.
func FloodFill[E Identifiable](s *Scratch[E], start E, member func(E) bool, neighbors func(E) []E, visit func(E)) int {
	if !member(start) {
		return 0
	}
	release(s)
	s.mark(start.ID())
	s.queue = append(s.queue, start)
	for head := 0; head < len(s.queue); head++ {
		e := s.queue[head]
		visit(e)
		for _, n := range neighbors(e) {
			if member(n) && s.mark(n.ID()) {
				s.queue = append(s.queue, n)
			}
		}
	}
	count := len(s.queue)
	release(s)
	return count
}

// LabelClusters assigns a label to every entity satisfying member such that
// two members share a label iff they are connected through neighbors.
// Labels are indexed by entity id. Non-members keep label 0; clusters are
// numbered from 1 in container order of their first member. The traversal
// is an asynchronous in-place rule, so labels written for one cluster are
// visible when the traversal reaches later members.
func LabelClusters[E Identifiable](s *Scratch[E], entities []E, member func(E) bool, neighbors func(E) []E) ([]int, int, error) {
	maxID := -1
	for _, e := range entities {
		maxID = max(maxID, e.ID())
	}
	labels := make([]int, maxID+1)
	count := 0
	err := ApplyInPlaceWith(s, Async, ShuffleOff, entities, func(e E) {
		if labels[e.ID()] != 0 || !member(e) {
			return
		}
		count++
		FloodFill(s, e, member, neighbors, func(v E) { labels[v.ID()] = count })
	}, nil)
	if err != nil {
		return nil, 0, err
	}
	return labels, count, nil
}
