package model

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gridsim/internal/config"
	"gridsim/internal/hdf"
	"gridsim/internal/logging"
	"gridsim/internal/monitor"
	"gridsim/pkg/core"
)

// EnvLogLevel overrides log_levels.core when set.
const EnvLogLevel = "GRIDSIM_LOG_LEVEL"

// PseudoParent is the parent of a root model. It owns what a run shares:
// the merged configuration, the log handler, the root RNG, the output file
// and the monitor manager.
type PseudoParent struct {
	cfg      config.Node
	env      *runEnv
	log      *slog.Logger
	rng      *core.RNG
	file     *hdf.File
	logFile  *os.File
	rootName string

	modelLevel slog.Level
	numSteps   uint64
	writeEvery uint64
	writeStart uint64
}

// PseudoOption configures a PseudoParent.
type PseudoOption func(*pseudoOptions)

type pseudoOptions struct {
	logWriter     io.Writer
	monitorWriter io.Writer
}

// WithLogWriter sets where log records go. Defaults to stderr.
func WithLogWriter(w io.Writer) PseudoOption {
	return func(o *pseudoOptions) { o.logWriter = w }
}

// WithMonitorWriter sets where monitor documents go. Defaults to stdout.
func WithMonitorWriter(w io.Writer) PseudoOption {
	return func(o *pseudoOptions) { o.monitorWriter = w }
}

// NewPseudoParent loads the run configuration at path and sets up a run.
func NewPseudoParent(path string, opts ...PseudoOption) (*PseudoParent, error) {
	n, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return NewPseudoParentFromNode(n, opts...)
}

// NewPseudoParentFromNode sets up a run from a configuration tree, merged
// over the embedded defaults.
func NewPseudoParentFromNode(n config.Node, opts ...PseudoOption) (*PseudoParent, error) {
	o := pseudoOptions{logWriter: os.Stderr, monitorWriter: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := config.Merge(config.Defaults(), n)
	pp := &PseudoParent{cfg: cfg}

	levels, err := pp.readLevels()
	if err != nil {
		return nil, err
	}
	logPath, err := config.GetOr(cfg, "log_file", "")
	if err != nil {
		return nil, err
	}
	w := o.logWriter
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.Create(logPath)
		if err != nil {
			return nil, fmt.Errorf("creating log file: %w", err)
		}
		pp.logFile = f
		w = io.MultiWriter(w, f)
	}
	handler := logging.NewHandler(w)
	coreLevel, dataIOLevel := new(slog.LevelVar), new(slog.LevelVar)
	coreLevel.Set(levels[logging.Core])
	dataIOLevel.Set(levels[logging.DataIO])
	pp.modelLevel = levels[logging.Model]
	pp.log = logging.New(handler, coreLevel).With("component", logging.Core)
	dataIO := logging.New(handler, dataIOLevel).With("component", logging.DataIO)

	if err := pp.readRun(); err != nil {
		_ = pp.closeLog()
		return nil, err
	}

	interval, err := config.GetOr(cfg, "monitor_emit_interval", 2.0)
	if err != nil {
		_ = pp.closeLog()
		return nil, err
	}
	procStats, err := config.GetOr(cfg, "monitor_process_stats", false)
	if err != nil {
		_ = pp.closeLog()
		return nil, err
	}
	monOpts := []monitor.Option{monitor.WithWriter(o.monitorWriter), monitor.WithLogger(pp.log)}
	if procStats {
		monOpts = append(monOpts, monitor.WithProcessStats())
	}
	monitors := monitor.NewManager(time.Duration(interval*float64(time.Second)), monOpts...)
	pp.env = &runEnv{handler: handler, dataIO: dataIO, monitors: monitors}

	if err := pp.openOutput(dataIO); err != nil {
		_ = pp.closeLog()
		return nil, err
	}
	pp.log.Info("run set up",
		"root_model", pp.rootName,
		"output", pp.file.Path(),
		"format", pp.file.Format(),
		"seed", pp.rng.Seed(),
		"num_steps", pp.numSteps)
	return pp, nil
}

func (pp *PseudoParent) readLevels() (map[string]slog.Level, error) {
	levels := make(map[string]slog.Level)
	ln := pp.cfg.Sub("log_levels")
	for _, comp := range []string{logging.Core, logging.DataIO, logging.Model} {
		s, err := config.GetOr(ln, comp, "info")
		if err != nil {
			return nil, err
		}
		if comp == logging.Core {
			if env := os.Getenv(EnvLogLevel); env != "" {
				s = env
			}
		}
		l, err := logging.ParseLevelStrict(s)
		if err != nil {
			return nil, fmt.Errorf("%w '%s': %v", config.ErrInvalid, ln.Sub(comp).Path(), err)
		}
		levels[comp] = l
	}
	return levels, nil
}

func (pp *PseudoParent) readRun() error {
	var err error
	cfg := pp.cfg
	if pp.rootName, err = config.Get[string](cfg, "root_model_name"); err != nil {
		return err
	}
	seed, err := config.Get[int64](cfg, "seed")
	if err != nil {
		return err
	}
	pp.rng = core.NewRNG(seed)
	if pp.numSteps, err = config.Get[uint64](cfg, "num_steps"); err != nil {
		return err
	}
	if pp.writeEvery, err = config.Get[uint64](cfg, "write_every"); err != nil {
		return err
	}
	if pp.writeEvery < 1 {
		return fmt.Errorf("%w 'write_every': must be at least 1", config.ErrInvalid)
	}
	if pp.writeStart, err = config.Get[uint64](cfg, "write_start"); err != nil {
		return err
	}
	return nil
}

func (pp *PseudoParent) openOutput(log *slog.Logger) error {
	path, err := config.Get[string](pp.cfg, "output_path")
	if err != nil {
		return err
	}
	name, err := config.GetOr(pp.cfg, "output_format", "auto")
	if err != nil {
		return err
	}
	format, err := hdf.FormatFromString(name)
	if err != nil {
		return fmt.Errorf("%w 'output_format': %v", config.ErrInvalid, err)
	}
	f, err := hdf.Create(path, format, log)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	pp.file = f
	return nil
}

func (pp *PseudoParent) scope() scope {
	return scope{
		env:        pp.env,
		cfg:        pp.cfg,
		group:      pp.file.Root(),
		rng:        pp.rng,
		level:      pp.modelLevel,
		numSteps:   pp.numSteps,
		writeEvery: pp.writeEvery,
		writeStart: pp.writeStart,
	}
}

func (pp *PseudoParent) Config() config.Node        { return pp.cfg }
func (pp *PseudoParent) Logger() *slog.Logger       { return pp.log }
func (pp *PseudoParent) RNG() *core.RNG             { return pp.rng }
func (pp *PseudoParent) File() *hdf.File            { return pp.file }
func (pp *PseudoParent) Group() *hdf.Group          { return pp.file.Root() }
func (pp *PseudoParent) Monitors() *monitor.Manager { return pp.env.monitors }
func (pp *PseudoParent) RootModelName() string      { return pp.rootName }
func (pp *PseudoParent) NumSteps() uint64           { return pp.numSteps }

// Close flushes and closes the output file and the log file.
func (pp *PseudoParent) Close() error {
	err := pp.file.Close()
	if err == nil {
		pp.log.Info("output written", "path", pp.file.Path())
	}
	return errors.Join(err, pp.closeLog())
}

func (pp *PseudoParent) closeLog() error {
	if pp.logFile == nil {
		return nil
	}
	err := pp.logFile.Close()
	pp.logFile = nil
	return err
}
