// Package model provides the runtime shared by all models: a Base that
// carries configuration, logging, randomness and output of one model, the
// prolog / step / epilog protocol including nested submodels, and the
// PseudoParent that sets up a run.
package model

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gridsim/internal/config"
	"gridsim/internal/datamanager"
	"gridsim/internal/hdf"
	"gridsim/internal/logging"
	"gridsim/internal/monitor"
	"gridsim/pkg/core"
)

var (
	// ErrState is returned for an illegal prolog / epilog transition.
	ErrState = errors.New("illegal model state transition")
	// ErrNoNumSteps is returned when running a model without num_steps.
	ErrNoNumSteps = errors.New("num_steps is not configured")
)

// NoStop is the stop_iterate of a submodel that is iterated until its
// parent ends.
const NoStop = math.MaxUint64

type state int

const (
	stateFresh state = iota
	statePrologged
	stateEpilogged
)

func (s state) String() string {
	switch s {
	case stateFresh:
		return "fresh"
	case statePrologged:
		return "prologged"
	case stateEpilogged:
		return "epilogged"
	}
	return "unknown"
}

// Runnable is a model: a type embedding *Base and implementing one step.
type Runnable interface {
	Model() *Base
	PerformStep() error
}

// Prologer models run custom code before the first step.
type Prologer interface {
	Prolog() error
}

// Epiloger models run custom code after the last step.
type Epiloger interface {
	Epilog() error
}

// Writer models write their data directly whenever a write is due, in
// addition to the tasks of their data manager.
type Writer interface {
	WriteData() error
}

// Monitorer models report monitor entries when the monitor is due.
type Monitorer interface {
	MonitorModel(m *monitor.Monitor)
}

// ParameterReporter models expose their parameters, which are written as
// attributes of the model group at prolog.
type ParameterReporter interface {
	Parameters() ParameterSnapshot
}

// Parent is what a model is constructed below: a PseudoParent or another
// model.
type Parent interface {
	scope() scope
}

// scope is what a parent hands down to its children.
type scope struct {
	env   *runEnv
	base  *Base
	cfg   config.Node
	path  string
	group *hdf.Group
	rng   *core.RNG
	level slog.Level

	numSteps   uint64
	writeEvery uint64
	writeStart uint64
}

// runEnv holds what all models of one run share.
type runEnv struct {
	handler  slog.Handler
	dataIO   *slog.Logger
	monitors *monitor.Manager
}

// Base is the state common to every model. Concrete models embed a *Base
// created by New.
type Base struct {
	name   string
	path   string
	cfg    config.Node
	env    *runEnv
	parent *Base

	log   *slog.Logger
	level *slog.LevelVar
	rng   *core.RNG
	group *hdf.Group
	mon   *monitor.Monitor
	dm    *datamanager.Manager

	time        uint64
	numSteps    uint64
	hasNumSteps bool
	writeEvery  uint64
	writeStart  uint64

	startIterate      uint64
	stopIterate       uint64
	runInParentProlog bool

	state    state
	children []Runnable
	datasets []*hdf.Dataset
}

// Option configures New.
type Option func(*options)

type options struct {
	defaults *config.Node
}

// WithDefaults merges the model's configuration on top of defaults.
func WithDefaults(defaults config.Node) Option {
	return func(o *options) { o.defaults = &defaults }
}

// New creates the base of a model called name below parent. The model's
// configuration is the parent's node at name. It reads:
//
//	num_steps            required to Run the model on its own
//	write_every          defaults to the parent's
//	write_start          defaults to the parent's
//	start_iterate        first parent step the model is iterated in (0)
//	stop_iterate         last parent step, the model's epilog runs after it
//	run_in_parent_prolog run the model to completion in the parent's prolog
//	log_level            overrides the inherited level
func New(name string, parent Parent, opts ...Option) (*Base, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: model needs a name", config.ErrInvalid)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	sc := parent.scope()
	cfg := sc.cfg.Sub(name)
	if o.defaults != nil {
		cfg = config.Overlay(*o.defaults, cfg)
	}
	b := &Base{
		name:   name,
		path:   name,
		cfg:    cfg,
		env:    sc.env,
		parent: sc.base,
		level:  new(slog.LevelVar),
	}
	if sc.path != "" {
		b.path = sc.path + "." + name
	}

	level := sc.level
	if cfg.Has("log_level") {
		s, err := config.Get[string](cfg, "log_level")
		if err != nil {
			return nil, err
		}
		if level, err = logging.ParseLevelStrict(s); err != nil {
			return nil, fmt.Errorf("%w '%s': %v", config.ErrInvalid, cfg.Sub("log_level").Path(), err)
		}
	}
	b.level.Set(level)
	b.log = logging.New(sc.env.handler, b.level).With("model", b.path)

	if err := b.readSchedule(sc); err != nil {
		return nil, err
	}

	b.rng = sc.rng.Derive(b.path)
	g, err := sc.group.OpenGroup(name)
	if err != nil {
		return nil, fmt.Errorf("opening group of model '%s': %w", b.path, err)
	}
	b.group = g
	b.mon = sc.env.monitors.NewMonitor(b.path)

	b.log.Debug("model set up",
		"num_steps", b.numSteps,
		"write_every", b.writeEvery,
		"write_start", b.writeStart,
		"seed", b.rng.Seed())
	return b, nil
}

func (b *Base) readSchedule(sc scope) error {
	cfg := b.cfg
	var err error
	switch {
	case cfg.Has("num_steps"):
		if b.numSteps, err = config.Get[uint64](cfg, "num_steps"); err != nil {
			return err
		}
		b.hasNumSteps = true
	case sc.base == nil:
		b.numSteps, b.hasNumSteps = sc.numSteps, true
	}
	if b.writeEvery, err = config.GetOr(cfg, "write_every", sc.writeEvery); err != nil {
		return err
	}
	if b.writeEvery < 1 {
		return fmt.Errorf("%w '%s': write_every must be at least 1", config.ErrInvalid, cfg.Path())
	}
	if b.writeStart, err = config.GetOr(cfg, "write_start", sc.writeStart); err != nil {
		return err
	}
	if b.startIterate, err = config.GetOr(cfg, "start_iterate", uint64(0)); err != nil {
		return err
	}
	if b.stopIterate, err = config.GetOr(cfg, "stop_iterate", uint64(NoStop)); err != nil {
		return err
	}
	if b.startIterate > b.stopIterate {
		return fmt.Errorf("%w '%s': start_iterate %d is after stop_iterate %d",
			config.ErrInvalid, cfg.Path(), b.startIterate, b.stopIterate)
	}
	if b.runInParentProlog, err = config.GetOr(cfg, "run_in_parent_prolog", false); err != nil {
		return err
	}
	return nil
}

func (b *Base) scope() scope {
	return scope{
		env:        b.env,
		base:       b,
		cfg:        b.cfg,
		path:       b.path,
		group:      b.group,
		rng:        b.rng,
		level:      b.level.Level(),
		numSteps:   b.numSteps,
		writeEvery: b.writeEvery,
		writeStart: b.writeStart,
	}
}

// Model returns b; it lets types embedding *Base satisfy Runnable.
func (b *Base) Model() *Base { return b }

func (b *Base) Name() string                      { return b.name }
func (b *Base) Path() string                      { return b.path }
func (b *Base) Config() config.Node               { return b.cfg }
func (b *Base) Logger() *slog.Logger              { return b.log }
func (b *Base) RNG() *core.RNG                    { return b.rng }
func (b *Base) Group() *hdf.Group                 { return b.group }
func (b *Base) Monitor() *monitor.Monitor         { return b.mon }
func (b *Base) DataManager() *datamanager.Manager { return b.dm }
func (b *Base) Time() uint64                      { return b.time }
func (b *Base) NumSteps() uint64                  { return b.numSteps }
func (b *Base) WriteEvery() uint64                { return b.writeEvery }
func (b *Base) WriteStart() uint64                { return b.writeStart }
func (b *Base) StartIterate() uint64              { return b.startIterate }
func (b *Base) StopIterate() uint64               { return b.stopIterate }
func (b *Base) Submodels() []Runnable             { return b.children }
func (b *Base) LogLevel() slog.Level              { return b.level.Level() }
func (b *Base) IsRoot() bool                      { return b.parent == nil }
func (b *Base) Parent() *Base                     { return b.parent }

// SetLogLevel changes the model's level. Children created afterwards
// inherit it.
func (b *Base) SetLogLevel(l slog.Level) { b.level.Set(l) }

// AddSubmodel appends a child constructed with b as parent. Children are
// iterated in the order they were added.
func (b *Base) AddSubmodel(child Runnable) error {
	cb := child.Model()
	if cb.parent != b {
		return fmt.Errorf("%w: model '%s' was not constructed below '%s'", ErrState, cb.path, b.path)
	}
	if cb.state != stateFresh || b.state != stateFresh {
		return fmt.Errorf("%w: submodel '%s' must be added before the prolog", ErrState, cb.path)
	}
	b.children = append(b.children, child)
	return nil
}

// SetupDataManager creates the data manager from the model's data_manager
// node. Tasks without configuration write every write_every steps from
// write_start on.
func (b *Base) SetupDataManager(tasks ...*datamanager.Task) error {
	if b.dm != nil {
		return fmt.Errorf("%w: data manager of model '%s' is already set up", ErrState, b.path)
	}
	dm, err := datamanager.FromConfig(b.cfg.Sub("data_manager"), tasks,
		datamanager.Defaults{WriteStart: b.writeStart, WriteEvery: b.writeEvery},
		b.env.dataIO.With("model", b.path))
	if err != nil {
		return err
	}
	b.dm = dm
	return nil
}

// WriteDue reports whether the current time is a write time.
func (b *Base) WriteDue() bool {
	return b.time >= b.writeStart && (b.time-b.writeStart)%b.writeEvery == 0
}
