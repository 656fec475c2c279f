// Package monitor collects a few live values per model and emits them as a
// YAML document at most once per wall-clock interval. Numeric entries are
// mirrored into Prometheus gauges.
package monitor

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"gridsim/internal/logging"
)

// Monitor holds the entries of one model.
type Monitor struct {
	path    string
	mu      sync.Mutex
	entries map[string]any
}

// Path returns the dotted model path the monitor belongs to.
func (m *Monitor) Path() string { return m.path }

// SetEntry stores a value under key, replacing a previous value.
func (m *Monitor) SetEntry(key string, v any) {
	m.mu.Lock()
	m.entries[key] = v
	m.mu.Unlock()
}

// Entry returns the value stored under key.
func (m *Monitor) Entry(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *Monitor) snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.entries)
}

// Manager owns the monitors of a model tree and decides when to emit.
type Manager struct {
	w        io.Writer
	log      *slog.Logger
	throttle *Throttle
	registry *prometheus.Registry
	gauges   *prometheus.GaugeVec

	monitors []*Monitor
	byPath   map[string]*Monitor

	time     uint64
	numSteps uint64
	due      bool
	emitted  int

	processStats bool
	probe        *processProbe
}

// Option configures NewManager.
type Option func(*Manager)

// WithWriter sets where documents are written. Defaults to stdout.
func WithWriter(w io.Writer) Option { return func(m *Manager) { m.w = w } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.log = l } }

// WithProcessStats adds the memory and CPU usage of the process to every
// document under `process`.
func WithProcessStats() Option { return func(m *Manager) { m.processStats = true } }

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.throttle.now = now } }

// NewManager returns a manager emitting at most once per interval. The
// gauges are registered with a registry of their own, see Registry.
func NewManager(interval time.Duration, opts ...Option) *Manager {
	m := &Manager{
		w:        os.Stdout,
		log:      logging.Discard(),
		throttle: NewThrottle(interval),
		registry: prometheus.NewRegistry(),
		gauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gridsim_monitor_value",
			Help: "Latest numeric monitor entry per model and key.",
		}, []string{"model", "key"}),
		byPath: make(map[string]*Monitor),
	}
	m.registry.MustRegister(m.gauges)
	for _, opt := range opts {
		opt(m)
	}
	if m.processStats {
		probe, err := newProcessProbe()
		if err != nil {
			m.log.Warn("process statistics unavailable", "err", err)
		}
		m.probe = probe
	}
	return m
}

// Registry returns the registry holding the monitor gauges.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Gauge returns the gauge of one model entry.
func (m *Manager) Gauge(model, key string) prometheus.Gauge {
	return m.gauges.WithLabelValues(model, key)
}

// NewMonitor returns the monitor of the model at path, creating it on first
// use.
func (m *Manager) NewMonitor(path string) *Monitor {
	if mon, ok := m.byPath[path]; ok {
		return mon
	}
	mon := &Monitor{path: path, entries: make(map[string]any)}
	m.monitors = append(m.monitors, mon)
	m.byPath[path] = mon
	return mon
}

// CheckTimer evaluates the throttle once per root step and records whether
// the step is an emission step.
func (m *Manager) CheckTimer() bool {
	m.due = m.throttle.Ready()
	return m.due
}

// Due reports the result of the last CheckTimer.
func (m *Manager) Due() bool { return m.due }

// SetTime records the root's time and step count for the progress entry.
func (m *Manager) SetTime(t, numSteps uint64) {
	m.time, m.numSteps = t, numSteps
}

// Emitted returns the number of documents written so far.
func (m *Manager) Emitted() int { return m.emitted }

type document struct {
	Time     uint64                    `yaml:"time"`
	Progress float64                   `yaml:"progress"`
	Models   map[string]map[string]any `yaml:"models"`
	Process  *ProcessStats             `yaml:"process,omitempty"`
}

// Emit writes a document if the current step is due.
func (m *Manager) Emit() error {
	if !m.due {
		return nil
	}
	m.due = false
	return m.EmitNow()
}

// EmitNow writes a document regardless of the throttle and updates the
// gauges.
func (m *Manager) EmitNow() error {
	doc := document{Time: m.time, Models: make(map[string]map[string]any, len(m.monitors))}
	if m.numSteps > 0 {
		doc.Progress = float64(m.time) / float64(m.numSteps)
	}
	for _, mon := range m.monitors {
		entries := mon.snapshot()
		doc.Models[mon.path] = entries
		for k, v := range entries {
			if f, ok := numeric(v); ok {
				m.gauges.WithLabelValues(mon.path, k).Set(f)
			}
		}
	}
	if m.probe != nil {
		ps, err := m.probe.read()
		if err != nil {
			m.log.Debug("reading process statistics", "err", err)
		} else {
			doc.Process = &ps
			m.gauges.WithLabelValues("process", "rss_bytes").Set(float64(ps.RSSBytes))
			m.gauges.WithLabelValues("process", "cpu_percent").Set(ps.CPUPercent)
		}
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding monitor document: %w", err)
	}
	if _, err := fmt.Fprintf(m.w, "---\n%s", out); err != nil {
		return fmt.Errorf("writing monitor document: %w", err)
	}
	m.emitted++
	logging.Trace(m.log, "monitor emitted", "time", m.time)
	return nil
}

func numeric(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Bool:
		if rv.Bool() {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
