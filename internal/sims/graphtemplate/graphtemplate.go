// Package graphtemplate is a template for models on networks. Vertices of
// a G(n, p) random graph carry a value that relaxes towards the mean value
// of their neighbors.
package graphtemplate

import (
	_ "embed"
	"fmt"

	"gonum.org/v1/gonum/graph/graphs/gen"
	"gonum.org/v1/gonum/graph/simple"

	"gridsim/internal/config"
	"gridsim/internal/core"
	"gridsim/internal/hdf"
	"gridsim/internal/model"
	"gridsim/internal/monitor"
	"gridsim/internal/rules"
)

//go:embed defaults.yml
var defaultsYAML string

// Vertex is a graph vertex carrying a value.
type Vertex struct {
	id    int
	Value float64
	next  float64
}

func (v *Vertex) ID() int             { return v.id }
func (v *Vertex) Current() float64    { return v.Value }
func (v *Vertex) Stage(value float64) { v.next = value }
func (v *Vertex) Commit()             { v.Value = v.next }

// Model is the graph template model.
type Model struct {
	*model.Base
	g        *simple.UndirectedGraph
	vertices []*Vertex
	coupling float64
	scratch  rules.Scratch[*Vertex]
	network  *hdf.GraphGroup
}

// New builds the random graph and the initial vertex values.
func New(name string, parent model.Parent) (*Model, error) {
	b, err := model.New(name, parent, model.WithDefaults(config.MustParse(defaultsYAML)))
	if err != nil {
		return nil, err
	}
	cfg := b.Config()
	gn := cfg.Sub("graph")
	n, err := config.Get[int](gn, "num_vertices")
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w '%s': must not be negative", config.ErrInvalid, gn.Sub("num_vertices").Path())
	}
	p, err := config.Probability(gn, "p_edge", 0)
	if err != nil {
		return nil, err
	}
	coupling, err := config.Probability(cfg, "coupling", 0)
	if err != nil {
		return nil, err
	}
	iv := cfg.Sub("initial_value")
	lo, err := config.Get[float64](iv, "lower")
	if err != nil {
		return nil, err
	}
	hi, err := config.Get[float64](iv, "upper")
	if err != nil {
		return nil, err
	}
	if lo > hi {
		return nil, fmt.Errorf("%w '%s': lower bound exceeds upper bound", config.ErrInvalid, iv.Path())
	}

	r := b.RNG()
	g := simple.NewUndirectedGraph()
	if err := gen.Gnp(g, n, p, r.PCG()); err != nil {
		return nil, fmt.Errorf("generating G(%d, %v): %w", n, p, err)
	}
	// isolated vertices
	for i := 0; i < n; i++ {
		if g.Node(int64(i)) == nil {
			g.AddNode(simple.Node(i))
		}
	}

	m := &Model{Base: b, g: g, coupling: coupling, vertices: make([]*Vertex, n)}
	for i := range m.vertices {
		m.vertices[i] = &Vertex{id: i, Value: r.Uniform(lo, hi)}
	}
	b.Logger().Info("graph set up", "num_vertices", g.Nodes().Len(), "num_edges", g.Edges().Len())
	return m, nil
}

// Graph returns the model's network.
func (m *Model) Graph() *simple.UndirectedGraph { return m.g }

// Vertices returns the vertices in id order.
func (m *Model) Vertices() []*Vertex { return m.vertices }

// Neighbors returns the vertices adjacent to v.
func (m *Model) Neighbors(v *Vertex) []*Vertex {
	var out []*Vertex
	for it := m.g.From(int64(v.id)); it.Next(); {
		out = append(out, m.vertices[it.Node().ID()])
	}
	return out
}

// Prolog writes the static network.
func (m *Model) Prolog() error {
	gg, err := hdf.SaveGraph(m.Group(), "network", m.g)
	if err != nil {
		return fmt.Errorf("writing network: %w", err)
	}
	m.network = gg
	return nil
}

// PerformStep moves every value towards its neighborhood mean. Isolated
// vertices keep their value.
func (m *Model) PerformStep() error {
	return rules.ApplyWith(&m.scratch, rules.Sync, rules.ShuffleOff, m.vertices, func(v *Vertex) float64 {
		nbrs := m.Neighbors(v)
		if len(nbrs) == 0 {
			return v.Value
		}
		var sum float64
		for _, nb := range nbrs {
			sum += nb.Value
		}
		mean := sum / float64(len(nbrs))
		return (1-m.coupling)*v.Value + m.coupling*mean
	}, m.RNG())
}

func (m *Model) values() []float64 {
	out := make([]float64, len(m.vertices))
	for i, v := range m.vertices {
		out[i] = v.Value
	}
	return out
}

func (m *Model) WriteData() error {
	return hdf.WriteVertexProperty(m.network, "value", m.Time(), m.values())
}

func (m *Model) MonitorModel(mon *monitor.Monitor) {
	lo, hi := 0.0, 0.0
	for i, v := range m.vertices {
		if i == 0 || v.Value < lo {
			lo = v.Value
		}
		if i == 0 || v.Value > hi {
			hi = v.Value
		}
	}
	mon.SetEntry("value_spread", hi-lo)
}

func (m *Model) Parameters() model.ParameterSnapshot {
	return model.Snapshot("graphtemplate",
		model.IntParam("num_vertices", len(m.vertices)),
		model.FloatParam("coupling", m.coupling))
}

func init() {
	core.Register("graphtemplate", "value relaxation on a G(n, p) random graph",
		func(name string, parent model.Parent) (model.Runnable, error) { return New(name, parent) })
}
