// Package entity defines the cells and agents that managers own and rules
// operate on.
package entity

import "gridsim/internal/space"

// Cell is an immovable unit of a grid. Only its state is mutable.
type Cell[S any] struct {
	State S

	next     S
	id       int
	pos      space.Vec
	boundary bool
}

// NewCell creates a cell with its fixed geometry.
func NewCell[S any](id int, pos space.Vec, boundary bool, state S) *Cell[S] {
	return &Cell[S]{State: state, id: id, pos: pos, boundary: boundary}
}

// ID is the cell's index in its manager.
func (c *Cell[S]) ID() int { return c.id }

// Position is the barycenter of the cell.
func (c *Cell[S]) Position() space.Vec { return c.pos }

// IsBoundary reports whether a face of the cell lies on a non-periodic
// space boundary.
func (c *Cell[S]) IsBoundary() bool { return c.boundary }

// Current returns the state visible to rules.
func (c *Cell[S]) Current() S { return c.State }

// Stage stores a state that becomes visible on Commit.
func (c *Cell[S]) Stage(s S) { c.next = s }

// Commit makes the staged state current.
func (c *Cell[S]) Commit() { c.State = c.next }

// Agent is a movable entity located in continuous space.
type Agent[S any] struct {
	State S

	next S
	id   int
	pos  space.Vec
}

// NewAgent creates an agent at pos.
func NewAgent[S any](id int, pos space.Vec, state S) *Agent[S] {
	return &Agent[S]{State: state, id: id, pos: pos}
}

func (a *Agent[S]) ID() int             { return a.id }
func (a *Agent[S]) Position() space.Vec { return a.pos }
func (a *Agent[S]) Current() S          { return a.State }
func (a *Agent[S]) Stage(s S)           { a.next = s }
func (a *Agent[S]) Commit()             { a.State = a.next }

// SetPosition moves the agent. Managers are responsible for keeping the
// position inside their space.
func (a *Agent[S]) SetPosition(pos space.Vec) { a.pos = pos }

// IDs returns the ids of a slice of entities.
func IDs[E interface{ ID() int }](entities []E) []int {
	out := make([]int, len(entities))
	for i, e := range entities {
		out[i] = e.ID()
	}
	return out
}
