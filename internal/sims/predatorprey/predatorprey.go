// Package predatorprey implements a predator-prey model on a grid. Every
// cell holds at most one predator and one prey. A step runs the phases
// cost of living, predator movement, prey flight, eating and reproduction,
// each as an asynchronous pass in random order.
package predatorprey

import (
	_ "embed"
	"fmt"

	"gridsim/internal/config"
	"gridsim/internal/core"
	"gridsim/internal/grid"
	"gridsim/internal/manager"
	"gridsim/internal/model"
	"gridsim/internal/monitor"
	"gridsim/internal/rules"
	rng "gridsim/pkg/core"
)

//go:embed defaults.yml
var defaultsYAML string

// Animal is a predator or prey on a cell.
type Animal struct {
	Present   bool
	Resources float64
}

// State is the state of a cell.
type State struct {
	Predator Animal
	Prey     Animal
}

// SpeciesParams are the parameters of one species.
type SpeciesParams struct {
	CostOfLiving             float64 `yaml:"cost_of_living"`
	ResourceIntake           float64 `yaml:"resource_intake"`
	ResourceMax              float64 `yaml:"resource_max"`
	ReproResourceRequirement float64 `yaml:"repro_resource_requirement"`
	ReproCost                float64 `yaml:"repro_cost"`
	PRepro                   float64 `yaml:"p_repro"`
	PFlee                    float64 `yaml:"p_flee"`
}

func readSpecies(n config.Node) (SpeciesParams, error) {
	var p SpeciesParams
	if err := n.Decode(&p); err != nil {
		return p, err
	}
	if _, err := config.Probability(n, "p_repro", 0); err != nil {
		return p, err
	}
	if _, err := config.Probability(n, "p_flee", 0); err != nil {
		return p, err
	}
	if p.ReproCost > p.ReproResourceRequirement {
		return p, fmt.Errorf("%w '%s': repro_cost must not exceed repro_resource_requirement", config.ErrInvalid, n.Path())
	}
	return p, nil
}

// Model is the predator-prey model.
type Model struct {
	*model.Base
	cm       *manager.CellManager[State]
	predator SpeciesParams
	prey     SpeciesParams
	choices  []*manager.Cell[State]
}

// New sets up the model from its configuration.
func New(name string, parent model.Parent) (*Model, error) {
	b, err := model.New(name, parent, model.WithDefaults(config.MustParse(defaultsYAML)))
	if err != nil {
		return nil, err
	}
	cfg := b.Config()
	m := &Model{Base: b}
	if m.predator, err = readSpecies(cfg.Sub("predator")); err != nil {
		return nil, err
	}
	if m.prey, err = readSpecies(cfg.Sub("prey")); err != nil {
		return nil, err
	}
	if m.cm, err = manager.NewCellManager(cfg.Sub("cell_manager"), b.RNG(), b.Logger(), initialState); err != nil {
		return nil, err
	}
	if m.cm.Grid().NeighborhoodMode() == grid.Empty {
		return nil, fmt.Errorf("%w '%s': predator-prey needs a neighborhood", config.ErrInvalid, m.cm.Config().Sub("neighborhood").Path())
	}

	cm := m.cm
	err = b.SetupDataManager(
		model.GridTask(b, "predator", cm, func(c *manager.Cell[State]) uint8 { return presence(c.State.Predator) }),
		model.GridTask(b, "prey", cm, func(c *manager.Cell[State]) uint8 { return presence(c.State.Prey) }),
		model.GridTask(b, "resource_predator", cm, func(c *manager.Cell[State]) float64 { return c.State.Predator.Resources }),
		model.GridTask(b, "resource_prey", cm, func(c *manager.Cell[State]) float64 { return c.State.Prey.Resources }),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func presence(a Animal) uint8 {
	if a.Present {
		return 1
	}
	return 0
}

func initialState(cfg config.Node, r *rng.RNG) (State, error) {
	var s State
	pPredator, err := config.Probability(cfg, "p_predator", 0)
	if err != nil {
		return s, err
	}
	pPrey, err := config.Probability(cfg, "p_prey", 0)
	if err != nil {
		return s, err
	}
	predRes, err := config.GetOr(cfg, "predator_init_resources", 1.0)
	if err != nil {
		return s, err
	}
	preyRes, err := config.GetOr(cfg, "prey_init_resources", 1.0)
	if err != nil {
		return s, err
	}
	if r.Bernoulli(pPredator) {
		s.Predator = Animal{Present: true, Resources: predRes}
	}
	if r.Bernoulli(pPrey) {
		s.Prey = Animal{Present: true, Resources: preyRes}
	}
	return s, nil
}

// CellManager returns the model's cells.
func (m *Model) CellManager() *manager.CellManager[State] { return m.cm }

// PerformStep runs the five phases of a step.
func (m *Model) PerformStep() error {
	phases := []func(*manager.Cell[State]){
		m.costOfLiving,
		m.movePredator,
		m.fleePrey,
		m.eat,
		m.reproduce,
	}
	for _, phase := range phases {
		if err := m.cm.ApplyInPlace(rules.Async, rules.ShuffleOn, phase); err != nil {
			return err
		}
	}
	return nil
}

func (m *Model) costOfLiving(c *manager.Cell[State]) {
	live := func(a *Animal, cost float64) {
		if !a.Present {
			return
		}
		a.Resources -= cost
		if a.Resources <= 0 {
			*a = Animal{}
		}
	}
	live(&c.State.Predator, m.predator.CostOfLiving)
	live(&c.State.Prey, m.prey.CostOfLiving)
}

// movePredator moves a predator onto a neighboring cell with prey and no
// predator, or else onto a random neighbor without predator. A predator
// already sharing its cell with prey stays.
func (m *Model) movePredator(c *manager.Cell[State]) {
	if !c.State.Predator.Present || c.State.Prey.Present {
		return
	}
	target := m.choose(c, func(nb *manager.Cell[State]) bool {
		return !nb.State.Predator.Present && nb.State.Prey.Present
	})
	if target == nil {
		target = m.choose(c, func(nb *manager.Cell[State]) bool { return !nb.State.Predator.Present })
	}
	if target != nil {
		target.State.Predator, c.State.Predator = c.State.Predator, Animal{}
	}
}

// fleePrey lets prey sharing its cell with a predator escape with
// probability p_flee onto a random neighbor without prey.
func (m *Model) fleePrey(c *manager.Cell[State]) {
	if !c.State.Prey.Present || !c.State.Predator.Present || !m.RNG().Bernoulli(m.prey.PFlee) {
		return
	}
	target := m.choose(c, func(nb *manager.Cell[State]) bool { return !nb.State.Prey.Present })
	if target != nil {
		target.State.Prey, c.State.Prey = c.State.Prey, Animal{}
	}
}

// eat lets a predator consume the prey on its cell; remaining prey feed.
func (m *Model) eat(c *manager.Cell[State]) {
	s := &c.State
	switch {
	case s.Predator.Present && s.Prey.Present:
		s.Predator.Resources = min(s.Predator.Resources+m.predator.ResourceIntake, m.predator.ResourceMax)
		s.Prey = Animal{}
	case s.Prey.Present:
		s.Prey.Resources = min(s.Prey.Resources+m.prey.ResourceIntake, m.prey.ResourceMax)
	}
}

func (m *Model) reproduce(c *manager.Cell[State]) {
	r := m.RNG()
	if a := &c.State.Predator; a.Present && a.Resources >= m.predator.ReproResourceRequirement && r.Bernoulli(m.predator.PRepro) {
		if nb := m.choose(c, func(nb *manager.Cell[State]) bool { return !nb.State.Predator.Present }); nb != nil {
			a.Resources -= m.predator.ReproCost
			nb.State.Predator = Animal{Present: true, Resources: m.predator.ReproCost}
		}
	}
	if a := &c.State.Prey; a.Present && a.Resources >= m.prey.ReproResourceRequirement && r.Bernoulli(m.prey.PRepro) {
		if nb := m.choose(c, func(nb *manager.Cell[State]) bool { return !nb.State.Prey.Present }); nb != nil {
			a.Resources -= m.prey.ReproCost
			nb.State.Prey = Animal{Present: true, Resources: m.prey.ReproCost}
		}
	}
}

// choose returns a random neighbor of c satisfying ok, or nil.
func (m *Model) choose(c *manager.Cell[State], ok func(*manager.Cell[State]) bool) *manager.Cell[State] {
	m.choices = m.choices[:0]
	for _, nb := range m.cm.Neighbors(c) {
		if ok(nb) {
			m.choices = append(m.choices, nb)
		}
	}
	if len(m.choices) == 0 {
		return nil
	}
	return m.choices[m.RNG().IntN(len(m.choices))]
}

// Counts returns the number of predators and prey.
func (m *Model) Counts() (predators, prey int) {
	for _, c := range m.cm.Cells() {
		if c.State.Predator.Present {
			predators++
		}
		if c.State.Prey.Present {
			prey++
		}
	}
	return predators, prey
}

func (m *Model) MonitorModel(mon *monitor.Monitor) {
	predators, prey := m.Counts()
	mon.SetEntry("num_predators", predators)
	mon.SetEntry("num_prey", prey)
}

func (m *Model) Parameters() model.ParameterSnapshot {
	species := func(name string, p SpeciesParams) model.ParameterGroup {
		return model.ParameterGroup{Name: name, Params: []model.Parameter{
			model.FloatParam("cost_of_living", p.CostOfLiving),
			model.FloatParam("resource_intake", p.ResourceIntake),
			model.FloatParam("resource_max", p.ResourceMax),
			model.FloatParam("p_repro", p.PRepro),
		}}
	}
	s := model.ParameterSnapshot{Groups: []model.ParameterGroup{species("predator", m.predator), species("prey", m.prey)}}
	s.Groups[1].Params = append(s.Groups[1].Params, model.FloatParam("p_flee", m.prey.PFlee))
	return s
}

func init() {
	core.Register("predatorprey", "predators hunting fleeing prey on a grid",
		func(name string, parent model.Parent) (model.Runnable, error) { return New(name, parent) })
}
