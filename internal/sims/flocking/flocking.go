// Package flocking implements the Vicsek model: agents move at constant
// speed and align their heading with the mean heading of all agents within
// the interaction radius, perturbed by uniform noise.
package flocking

import (
	_ "embed"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"gridsim/internal/config"
	"gridsim/internal/core"
	"gridsim/internal/manager"
	"gridsim/internal/model"
	"gridsim/internal/monitor"
	"gridsim/internal/rules"
	"gridsim/internal/space"
	rng "gridsim/pkg/core"
)

//go:embed defaults.yml
var defaultsYAML string

// State is the heading of an agent in radians, within [-pi, pi).
type State struct {
	Orientation float64
}

// Params are the Vicsek parameters.
type Params struct {
	Speed             float64
	NoiseLevel        float64
	InteractionRadius float64
}

// Model is the Vicsek flocking model.
type Model struct {
	*model.Base
	am     *manager.AgentManager[State]
	params Params
	angles []float64
}

// New sets up the model from its configuration.
func New(name string, parent model.Parent) (*Model, error) {
	b, err := model.New(name, parent, model.WithDefaults(config.MustParse(defaultsYAML)))
	if err != nil {
		return nil, err
	}
	cfg := b.Config()
	var p Params
	if p.Speed, err = config.Get[float64](cfg, "speed"); err != nil {
		return nil, err
	}
	if p.NoiseLevel, err = config.Get[float64](cfg, "noise_level"); err != nil {
		return nil, err
	}
	if p.InteractionRadius, err = config.Get[float64](cfg, "interaction_radius"); err != nil {
		return nil, err
	}
	if p.Speed < 0 || p.NoiseLevel < 0 || p.InteractionRadius < 0 {
		return nil, fmt.Errorf("%w '%s': speed, noise_level and interaction_radius must not be negative", config.ErrInvalid, cfg.Path())
	}
	am, err := manager.NewAgentManager(cfg.Sub("agent_manager"), b.RNG(), b.Logger(), randomHeading)
	if err != nil {
		return nil, err
	}
	if am.Space().Dim() != 2 {
		return nil, fmt.Errorf("%w '%s': flocking needs a two-dimensional space", config.ErrInvalid, am.Config().Path())
	}
	m := &Model{Base: b, am: am, params: p}

	n := am.NumAgents()
	err = b.SetupDataManager(
		model.SeriesTask(b, "orientation", n, "agents", func() []float64 { return m.agentValues(func(a *manager.Agent[State]) float64 { return a.State.Orientation }) }),
		model.SeriesTask(b, "position_x", n, "agents", func() []float64 { return m.agentValues(func(a *manager.Agent[State]) float64 { return a.Position()[0] }) }),
		model.SeriesTask(b, "position_y", n, "agents", func() []float64 { return m.agentValues(func(a *manager.Agent[State]) float64 { return a.Position()[1] }) }),
		model.SeriesTask(b, "mean_velocity", 0, "", func() []float64 { return []float64{m.MeanVelocity()} }),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func randomHeading(_ config.Node, r *rng.RNG) (State, error) {
	return State{Orientation: r.Uniform(-math.Pi, math.Pi)}, nil
}

func (m *Model) agentValues(f func(*manager.Agent[State]) float64) []float64 {
	out := make([]float64, m.am.NumAgents())
	for i, a := range m.am.Agents() {
		out[i] = f(a)
	}
	return out
}

// AgentManager returns the model's agents.
func (m *Model) AgentManager() *manager.AgentManager[State] { return m.am }

// PerformStep aligns all headings synchronously and then moves every agent.
func (m *Model) PerformStep() error {
	r := m.RNG()
	half := m.params.NoiseLevel / 2
	err := m.am.ApplyRule(rules.Sync, rules.ShuffleOff, func(a *manager.Agent[State]) State {
		m.angles = append(m.angles[:0], a.State.Orientation)
		for _, nb := range m.am.NeighborsWithin(a, m.params.InteractionRadius) {
			m.angles = append(m.angles, nb.State.Orientation)
		}
		heading := stat.CircularMean(m.angles, nil)
		if half > 0 {
			heading += r.Uniform(-half, half)
		}
		return State{Orientation: wrapAngle(heading)}
	})
	if err != nil {
		return err
	}
	for _, a := range m.am.Agents() {
		v := velocity(a.State.Orientation, m.params.Speed)
		if _, err := m.am.MoveBy(a, v); err != nil {
			return err
		}
	}
	return nil
}

func velocity(angle, speed float64) space.Vec {
	return space.Vec{speed * math.Cos(angle), speed * math.Sin(angle)}
}

// wrapAngle maps an angle into [-pi, pi).
func wrapAngle(x float64) float64 {
	x = math.Mod(x+math.Pi, 2*math.Pi)
	if x < 0 {
		x += 2 * math.Pi
	}
	return x - math.Pi
}

// MeanVelocity is the norm of the mean unit heading, 1 for a perfectly
// aligned flock and close to 0 for a disordered one.
func (m *Model) MeanVelocity() float64 {
	if m.am.NumAgents() == 0 {
		return 0
	}
	sum := space.Vec{0, 0}
	for _, a := range m.am.Agents() {
		v := velocity(a.State.Orientation, 1)
		sum[0] += v[0]
		sum[1] += v[1]
	}
	return space.Norm(sum) / float64(m.am.NumAgents())
}

func (m *Model) MonitorModel(mon *monitor.Monitor) {
	mon.SetEntry("mean_velocity", m.MeanVelocity())
}

func (m *Model) Parameters() model.ParameterSnapshot {
	return model.Snapshot("flocking",
		model.FloatParam("speed", m.params.Speed),
		model.FloatParam("noise_level", m.params.NoiseLevel),
		model.FloatParam("interaction_radius", m.params.InteractionRadius),
		model.IntParam("num_agents", m.am.NumAgents()))
}

func init() {
	core.Register("flocking", "Vicsek model of self-propelled aligning agents",
		func(name string, parent model.Parent) (model.Runnable, error) { return New(name, parent) })
}
