// Package dummy is the smallest complete model: a vector of random walkers.
// It optionally nests child dummies and so exercises the scheduling of
// model hierarchies.
package dummy

import (
	_ "embed"
	"fmt"

	"gridsim/internal/config"
	"gridsim/internal/core"
	"gridsim/internal/hdf"
	"gridsim/internal/model"
	"gridsim/internal/monitor"
)

//go:embed defaults.yml
var defaultsYAML string

// Model is a vector of independent random walks.
type Model struct {
	*model.Base
	state    []float64
	stepSize float64
	ds       *hdf.Dataset
}

// New sets up the model and, recursively, its submodels.
func New(name string, parent model.Parent) (*Model, error) {
	b, err := model.New(name, parent, model.WithDefaults(config.MustParse(defaultsYAML)))
	if err != nil {
		return nil, err
	}
	cfg := b.Config()
	size, err := config.Get[int](cfg, "state_size")
	if err != nil {
		return nil, err
	}
	if size < 1 {
		return nil, fmt.Errorf("%w '%s': state_size must be positive", config.ErrInvalid, cfg.Sub("state_size").Path())
	}
	initial, err := config.Get[float64](cfg, "initial_state")
	if err != nil {
		return nil, err
	}
	m := &Model{Base: b, state: make([]float64, size)}
	for i := range m.state {
		m.state[i] = initial
	}
	if m.stepSize, err = config.Get[float64](cfg, "step_size"); err != nil {
		return nil, err
	}

	children, err := config.Get[[]string](cfg, "submodels")
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		c, err := New(child, b)
		if err != nil {
			return nil, fmt.Errorf("setting up submodel '%s': %w", child, err)
		}
		if err := b.AddSubmodel(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// State returns the current walker positions.
func (m *Model) State() []float64 { return m.state }

func (m *Model) Prolog() error {
	ds, err := m.CreateTimeSeries("state", len(m.state), "ids")
	if err != nil {
		return err
	}
	m.ds = ds
	return nil
}

// PerformStep moves every walker by a uniform step in [-step_size/2, step_size/2).
func (m *Model) PerformStep() error {
	r := m.RNG()
	half := m.stepSize / 2
	for i := range m.state {
		m.state[i] += r.Uniform(-half, half)
	}
	return nil
}

func (m *Model) WriteData() error { return hdf.Write(m.ds, m.state) }

func (m *Model) MonitorModel(mon *monitor.Monitor) {
	var sum float64
	for _, x := range m.state {
		sum += x
	}
	mon.SetEntry("mean_state", sum/float64(len(m.state)))
}

func (m *Model) Parameters() model.ParameterSnapshot {
	return model.Snapshot("dummy",
		model.IntParam("state_size", len(m.state)),
		model.FloatParam("step_size", m.stepSize),
		model.IntParam("num_submodels", len(m.Submodels())))
}

func init() {
	core.Register("dummy", "random walkers, optionally nested into a model hierarchy",
		func(name string, parent model.Parent) (model.Runnable, error) { return New(name, parent) })
}
