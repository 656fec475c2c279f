// Package sandpile implements the Bak-Tang-Wiesenfeld sandpile. Every step
// drops one grain on a random cell and relaxes the pile: a cell whose slope
// exceeds the critical slope topples, handing one grain to each lattice
// neighbor. Grains toppled over a non-periodic border are lost.
package sandpile

import (
	_ "embed"
	"fmt"

	"gridsim/internal/config"
	"gridsim/internal/core"
	"gridsim/internal/grid"
	"gridsim/internal/manager"
	"gridsim/internal/model"
	"gridsim/internal/monitor"
	rng "gridsim/pkg/core"
)

//go:embed defaults.yml
var defaultsYAML string

// State is the state of a cell.
type State struct {
	Slope       uint32
	InAvalanche bool
}

// Model is the sandpile model.
type Model struct {
	*model.Base
	cm       *manager.CellManager[State]
	critical uint32
	// grains a toppling cell loses, one per lattice direction
	loss uint32

	avalancheSize uint64
	work          []*manager.Cell[State]
}

// New sets up the model and relaxes the initial pile.
func New(name string, parent model.Parent) (*Model, error) {
	b, err := model.New(name, parent, model.WithDefaults(config.MustParse(defaultsYAML)))
	if err != nil {
		return nil, err
	}
	cfg := b.Config()
	critical, err := config.Get[uint32](cfg, "critical_slope")
	if err != nil {
		return nil, err
	}
	cm, err := manager.NewCellManager(cfg.Sub("cell_manager"), b.RNG(), b.Logger(), initialState)
	if err != nil {
		return nil, err
	}
	if cm.Grid().NeighborhoodMode() == grid.Empty {
		return nil, fmt.Errorf("%w '%s': sandpile needs a neighborhood", config.ErrInvalid, cm.Config().Sub("neighborhood").Path())
	}
	m := &Model{Base: b, cm: cm, critical: critical}
	for _, c := range cm.Cells() {
		m.loss = max(m.loss, uint32(len(cm.Neighbors(c))))
	}

	m.relax(cm.Cells())
	b.Logger().Info("initial avalanche relaxed", "avalanche_size", m.avalancheSize)

	err = b.SetupDataManager(
		model.GridTask(b, "slope", cm, func(c *manager.Cell[State]) uint32 { return c.State.Slope }),
		model.GridTask(b, "avalanche", cm, func(c *manager.Cell[State]) uint8 {
			if c.State.InAvalanche {
				return 1
			}
			return 0
		}),
		model.SeriesTask(b, "avalanche_size", 0, "", func() []uint64 { return []uint64{m.avalancheSize} }),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func initialState(cfg config.Node, r *rng.RNG) (State, error) {
	lo, err := config.Get[uint32](cfg, "initial_slope_lower_limit")
	if err != nil {
		return State{}, err
	}
	hi, err := config.Get[uint32](cfg, "initial_slope_upper_limit")
	if err != nil {
		return State{}, err
	}
	if lo > hi {
		return State{}, fmt.Errorf("%w '%s': initial_slope_lower_limit %d exceeds the upper limit %d",
			config.ErrInvalid, cfg.Path(), lo, hi)
	}
	return State{Slope: lo + uint32(r.IntN(int(hi-lo)+1))}, nil
}

// CellManager returns the model's cells.
func (m *Model) CellManager() *manager.CellManager[State] { return m.cm }

// AvalancheSize is the number of distinct cells toppled in the last step.
func (m *Model) AvalancheSize() uint64 { return m.avalancheSize }

// PerformStep drops a grain on a random cell and relaxes the pile.
func (m *Model) PerformStep() error {
	c := m.cm.Cell(m.RNG().IntN(m.cm.NumCells()))
	m.AddGrains(c, 1)
	return nil
}

// AddGrains drops n grains on c and relaxes the pile. It returns the number
// of topplings.
func (m *Model) AddGrains(c *manager.Cell[State], n uint32) int {
	c.State.Slope += n
	return m.relax([]*manager.Cell[State]{c})
}

// relax topples cells above the critical slope, starting from candidates,
// until the pile is stable.
func (m *Model) relax(candidates []*manager.Cell[State]) int {
	for _, c := range m.cm.Cells() {
		c.State.InAvalanche = false
	}
	m.avalancheSize = 0
	m.work = append(m.work[:0], candidates...)
	topplings := 0
	for len(m.work) > 0 {
		c := m.work[len(m.work)-1]
		m.work = m.work[:len(m.work)-1]
		if c.State.Slope <= m.critical {
			continue
		}
		c.State.Slope -= min(m.loss, c.State.Slope)
		topplings++
		if !c.State.InAvalanche {
			c.State.InAvalanche = true
			m.avalancheSize++
		}
		for _, nb := range m.cm.Neighbors(c) {
			nb.State.Slope++
			if nb.State.Slope > m.critical {
				m.work = append(m.work, nb)
			}
		}
		if c.State.Slope > m.critical {
			m.work = append(m.work, c)
		}
	}
	return topplings
}

func (m *Model) MonitorModel(mon *monitor.Monitor) {
	mon.SetEntry("avalanche_size", m.avalancheSize)
}

func (m *Model) Parameters() model.ParameterSnapshot {
	return model.Snapshot("sandpile",
		model.IntParam("critical_slope", int(m.critical)),
		model.IntParam("topple_loss", int(m.loss)))
}

func init() {
	core.Register("sandpile", "Bak-Tang-Wiesenfeld sandpile",
		func(name string, parent model.Parent) (model.Runnable, error) { return New(name, parent) })
}
