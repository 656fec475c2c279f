// Package rules applies update rules to collections of cells or agents.
//
// A rule is applied under one of three update modes. Sync rules return the
// new state, which is staged for every entity and committed after the whole
// traversal, so no rule observes a partially updated collection. Async rules
// see every earlier update of the same pass immediately. Manual rules mutate
// entities in place with no guarantee beyond container order.
package rules

import (
	"errors"
	"fmt"

	"gridsim/pkg/core"
)

var (
	// ErrNoRNG is returned when a shuffled traversal is requested without
	// a random number generator.
	ErrNoRNG = errors.New("applying a rule with shuffling requires an RNG")
	// ErrRuleShape is returned when the rule signature does not fit the
	// update mode.
	ErrRuleShape = errors.New("rule shape incompatible with update mode")
)

// Update selects synchronous, asynchronous or manual application.
type Update int

const (
	Sync Update = iota
	Async
	Manual
)

func (u Update) String() string {
	switch u {
	case Sync:
		return "sync"
	case Async:
		return "async"
	case Manual:
		return "manual"
	}
	return fmt.Sprintf("Update(%d)", int(u))
}

// Shuffle selects the traversal order.
type Shuffle bool

const (
	ShuffleOff Shuffle = false
	ShuffleOn  Shuffle = true
)

// Stateful is the view of an entity that state-returning rules need.
type Stateful[S any] interface {
	Current() S
	Stage(S)
	Commit()
}

// Scratch holds the buffers reused between rule applications: the shuffled
// traversal order and the flood-fill work list. The zero value is ready to
// use. A Scratch must not be shared between concurrent applications.
type Scratch[E any] struct {
	perm  []E
	queue []E
	seen  []bool
}

func (s *Scratch[E]) order(entities []E, shuffle Shuffle, rng *core.RNG) []E {
	if !shuffle {
		return entities
	}
	s.perm = append(s.perm[:0], entities...)
	rng.Shuffle(len(s.perm), func(i, j int) { s.perm[i], s.perm[j] = s.perm[j], s.perm[i] })
	return s.perm
}

// Apply applies a state-returning rule.
func Apply[S any, E Stateful[S]](update Update, shuffle Shuffle, entities []E, rule func(E) S, rng *core.RNG) error {
	return ApplyWith(new(Scratch[E]), update, shuffle, entities, rule, rng)
}

// ApplyWith is Apply with a caller-owned scratch buffer.
func ApplyWith[S any, E Stateful[S]](s *Scratch[E], update Update, shuffle Shuffle, entities []E, rule func(E) S, rng *core.RNG) error {
	if update == Manual {
		return fmt.Errorf("%w: manual updates take a rule that mutates in place", ErrRuleShape)
	}
	if shuffle && rng == nil {
		return ErrNoRNG
	}
	order := s.order(entities, shuffle, rng)
	switch update {
	case Sync:
		for _, e := range order {
			e.Stage(rule(e))
		}
		for _, e := range entities {
			e.Commit()
		}
	case Async:
		for _, e := range order {
			e.Stage(rule(e))
			e.Commit()
		}
	default:
		return fmt.Errorf("%w: unknown update mode %s", ErrRuleShape, update)
	}
	return nil
}

// ApplyInPlace applies a rule that mutates its entity. It is valid for async
// and manual updates only.
func ApplyInPlace[E any](update Update, shuffle Shuffle, entities []E, rule func(E), rng *core.RNG) error {
	return ApplyInPlaceWith(new(Scratch[E]), update, shuffle, entities, rule, rng)
}

// ApplyInPlaceWith is ApplyInPlace with a caller-owned scratch buffer.
func ApplyInPlaceWith[E any](s *Scratch[E], update Update, shuffle Shuffle, entities []E, rule func(E), rng *core.RNG) error {
	switch update {
	case Sync:
		return fmt.Errorf("%w: synchronous updates need a rule that returns the new state", ErrRuleShape)
	case Manual:
		if shuffle {
			return fmt.Errorf("%w: manual updates cannot be shuffled", ErrRuleShape)
		}
	case Async:
	default:
		return fmt.Errorf("%w: unknown update mode %s", ErrRuleShape, update)
	}
	if shuffle && rng == nil {
		return ErrNoRNG
	}
	for _, e := range s.order(entities, shuffle, rng) {
		rule(e)
	}
	return nil
}
