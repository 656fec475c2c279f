package manager

import (
	"fmt"
	"log/slog"

	"gridsim/internal/config"
	"gridsim/internal/entity"
	"gridsim/internal/grid"
	"gridsim/internal/rules"
	"gridsim/internal/space"
	"gridsim/pkg/core"
)

// Agent is the agent type handed out by an AgentManager.
type Agent[S any] = entity.Agent[S]

// OutOfSpace selects what happens to moves leaving a non-periodic space.
// Periodic spaces always wrap.
type OutOfSpace string

const (
	Reject OutOfSpace = "reject"
	Clip   OutOfSpace = "clip"
	Fail   OutOfSpace = "error"
)

// AgentManager owns a fixed population of agents in a continuous space.
type AgentManager[S any] struct {
	cfg        config.Node
	sp         *space.Space
	agents     []*Agent[S]
	outOfSpace OutOfSpace
	rng        *core.RNG
	log        *slog.Logger
	scratch    rules.Scratch[*Agent[S]]
}

// NewAgentManager builds the space of an agent_manager node and places
// initial_num_agents agents, either uniformly at random or at the given
// initial positions. States come from factory with the agent_params node.
func NewAgentManager[S any](cfg config.Node, rng *core.RNG, log *slog.Logger, factory StateFactory[S]) (*AgentManager[S], error) {
	dim, err := config.GetOr(cfg, "dim", 2)
	if err != nil {
		return nil, err
	}
	sp, err := space.FromConfig(cfg.Sub("space"), dim)
	if err != nil {
		return nil, err
	}
	mode, err := config.GetOr(cfg, "out_of_space", string(Reject))
	if err != nil {
		return nil, err
	}
	switch OutOfSpace(mode) {
	case Reject, Clip, Fail:
	default:
		return nil, fmt.Errorf("%w '%s.out_of_space': %q (valid: reject, clip, error)", config.ErrInvalid, cfg.Path(), mode)
	}

	var positions []space.Vec
	if cfg.Has("initial_positions") {
		raw, err := config.Get[[][]float64](cfg, "initial_positions")
		if err != nil {
			return nil, err
		}
		for _, p := range raw {
			if !sp.Contains(p) {
				return nil, fmt.Errorf("%w: initial position %v", grid.ErrOutOfSpace, p)
			}
			positions = append(positions, space.Vec(p))
		}
	} else {
		num, err := config.Get[int](cfg, "initial_num_agents")
		if err != nil {
			return nil, err
		}
		if num < 0 {
			return nil, fmt.Errorf("%w '%s.initial_num_agents': must not be negative", config.ErrInvalid, cfg.Path())
		}
		for i := 0; i < num; i++ {
			p := make(space.Vec, sp.Dim())
			for d := range p {
				p[d] = rng.Uniform(0, sp.Extent[d])
			}
			positions = append(positions, p)
		}
	}

	m := &AgentManager[S]{cfg: cfg, sp: sp, outOfSpace: OutOfSpace(mode), rng: rng, log: log}
	params := cfg.Sub("agent_params")
	for id, p := range positions {
		s, err := factory(params, rng)
		if err != nil {
			return nil, fmt.Errorf("constructing state of agent %d: %w", id, err)
		}
		m.agents = append(m.agents, entity.NewAgent(id, p, s))
	}
	log.Info("agent manager set up", "num_agents", len(m.agents), "extent", sp.Extent, "periodic", sp.Periodic)
	return m, nil
}

func (m *AgentManager[S]) Config() config.Node { return m.cfg }
func (m *AgentManager[S]) Space() *space.Space { return m.sp }
func (m *AgentManager[S]) Agents() []*Agent[S] { return m.agents }
func (m *AgentManager[S]) NumAgents() int      { return len(m.agents) }
func (m *AgentManager[S]) RNG() *core.RNG      { return m.rng }

// MoveTo places a at pos. Periodic spaces wrap the position; otherwise the
// out_of_space policy decides. It reports whether the agent moved.
func (m *AgentManager[S]) MoveTo(a *Agent[S], pos space.Vec) (bool, error) {
	if len(pos) != m.sp.Dim() {
		return false, fmt.Errorf("%w: position has %d components, space has %d", space.ErrDimension, len(pos), m.sp.Dim())
	}
	switch {
	case m.sp.Periodic:
		pos = m.sp.Wrap(pos)
	case m.sp.Contains(pos):
	case m.outOfSpace == Clip:
		pos = m.sp.Clamp(pos)
	case m.outOfSpace == Fail:
		return false, fmt.Errorf("%w: moving agent %d to %v", grid.ErrOutOfSpace, a.ID(), pos)
	default:
		return false, nil
	}
	a.SetPosition(pos)
	return true, nil
}

// MoveBy moves a by the displacement delta.
func (m *AgentManager[S]) MoveBy(a *Agent[S], delta space.Vec) (bool, error) {
	pos, err := space.Add(a.Position(), delta)
	if err != nil {
		return false, err
	}
	return m.MoveTo(a, pos)
}

// NeighborsWithin returns all other agents closer than radius to a,
// honoring periodicity.
func (m *AgentManager[S]) NeighborsWithin(a *Agent[S], radius float64) []*Agent[S] {
	var out []*Agent[S]
	for _, b := range m.agents {
		if b == a {
			continue
		}
		if m.sp.Distance(a.Position(), b.Position()) < radius {
			out = append(out, b)
		}
	}
	return out
}

// ApplyRule applies a state-returning rule to all agents.
func (m *AgentManager[S]) ApplyRule(update rules.Update, shuffle rules.Shuffle, rule func(*Agent[S]) S) error {
	return rules.ApplyWith(&m.scratch, update, shuffle, m.agents, rule, m.rng)
}

// ApplyInPlace applies a mutating rule to all agents.
func (m *AgentManager[S]) ApplyInPlace(update rules.Update, shuffle rules.Shuffle, rule func(*Agent[S])) error {
	return rules.ApplyInPlaceWith(&m.scratch, update, shuffle, m.agents, rule, m.rng)
}
