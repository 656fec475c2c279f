package model

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"gridsim/internal/config"
	"gridsim/internal/datamanager"
	"gridsim/internal/grid"
	"gridsim/internal/hdf"
	"gridsim/internal/monitor"
	"gridsim/internal/testtools"
)

// counter records its steps into a shared event list and writes its time
// whenever a write is due.
type counter struct {
	*Base
	events *[]string
	ds     *hdf.Dataset
	draws  []float64
	cancel func()
	stopAt uint64
}

func newCounter(t *testing.T, name string, parent Parent, events *[]string) *counter {
	t.Helper()
	b, err := New(name, parent)
	if err != nil {
		t.Fatalf("New(%s): %v", name, err)
	}
	return &counter{Base: b, events: events}
}

func (c *counter) Prolog() error {
	*c.events = append(*c.events, c.Path()+":prolog")
	ds, err := c.CreateTimeSeries("time", 0, "")
	c.ds = ds
	return err
}

func (c *counter) PerformStep() error {
	*c.events = append(*c.events, c.Path()+":step")
	c.draws = append(c.draws, c.RNG().Float64())
	if c.cancel != nil && c.Time()+1 == c.stopAt {
		c.cancel()
	}
	return nil
}

func (c *counter) WriteData() error { return hdf.WriteScalar(c.ds, c.Time()) }

func (c *counter) Epilog() error {
	*c.events = append(*c.events, c.Path()+":epilog")
	return nil
}

func (c *counter) MonitorModel(m *monitor.Monitor) { m.SetEntry("draws", len(c.draws)) }

func (c *counter) Parameters() ParameterSnapshot {
	return Snapshot("params", IntParam("stop_at", int(c.stopAt)), BoolParam("cancelling", c.cancel != nil))
}

func (c *counter) written(t *testing.T) []uint64 {
	t.Helper()
	ds, err := c.Group().OpenDataset("time")
	if err != nil {
		t.Fatalf("OpenDataset: %v", err)
	}
	got, _, err := hdf.Read[uint64](ds)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return got
}

func newPseudo(t *testing.T, doc string, opts ...PseudoOption) *PseudoParent {
	t.Helper()
	opts = append([]PseudoOption{WithLogWriter(io.Discard), WithMonitorWriter(io.Discard)}, opts...)
	pp, err := NewPseudoParentFromNode(testtools.Config(t, doc), opts...)
	if err != nil {
		t.Fatalf("NewPseudoParentFromNode: %v", err)
	}
	t.Cleanup(func() { _ = pp.Close() })
	return pp
}

func TestNestedSchedule(t *testing.T) {
	pp := newPseudo(t, `
output_format: memory
root_model_name: root
num_steps: 10
root:
  a: {stop_iterate: 3}
  b: {start_iterate: 5}
`)
	var events []string
	root := newCounter(t, "root", pp, &events)
	a := newCounter(t, "a", root, &events)
	b := newCounter(t, "b", root, &events)
	for _, c := range []*counter{a, b} {
		if err := root.AddSubmodel(c); err != nil {
			t.Fatalf("AddSubmodel: %v", err)
		}
	}

	if err := Run(context.Background(), root); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if root.Time() != 10 || a.Time() != 3 || b.Time() != 6 {
		t.Fatalf("times = (%d, %d, %d), want (10, 3, 6)", root.Time(), a.Time(), b.Time())
	}
	if got, want := a.written(t), []uint64{0, 1, 2, 3}; !slices.Equal(got, want) {
		t.Errorf("a wrote %v, want %v", got, want)
	}
	if got, want := b.written(t), []uint64{0, 1, 2, 3, 4, 5, 6}; !slices.Equal(got, want) {
		t.Errorf("b wrote %v, want %v", got, want)
	}
	if got := len(root.written(t)); got != 11 {
		t.Errorf("root wrote %d frames, want 11", got)
	}

	// a ends right after its third tick, b starts within step 5.
	idx := func(ev string) int { return slices.Index(events, ev) }
	count := func(ev string) int {
		n := 0
		for _, e := range events {
			if e == ev {
				n++
			}
		}
		return n
	}
	if i := idx("root.a:epilog"); i < 1 || events[i-1] != "root.a:step" || count("root.a:step") != 3 {
		t.Errorf("a did not end after its third step: %v", events)
	}
	if i := idx("root.b:prolog"); i < 0 || events[i+1] != "root.b:step" {
		t.Errorf("b's prolog is not directly followed by its first step: %v", events)
	}
	if count("root.a:epilog") != 1 || count("root.b:epilog") != 1 {
		t.Errorf("epilogs ran more than once: %v", events)
	}
	if tail := events[len(events)-2:]; !slices.Equal(tail, []string{"root:epilog", "root.b:epilog"}) {
		t.Errorf("run ended with %v, want root's epilog followed by b's", tail)
	}
}

func TestRunInParentProlog(t *testing.T) {
	pp := newPseudo(t, `
output_format: memory
root_model_name: root
num_steps: 2
root:
  early: {run_in_parent_prolog: true, num_steps: 3}
`)
	var events []string
	root := newCounter(t, "root", pp, &events)
	early := newCounter(t, "early", root, &events)
	if err := root.AddSubmodel(early); err != nil {
		t.Fatalf("AddSubmodel: %v", err)
	}
	if err := Run(context.Background(), root); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{
		"root:prolog",
		"root.early:prolog", "root.early:step", "root.early:step", "root.early:step", "root.early:epilog",
		"root:step", "root:step",
		"root:epilog",
	}
	if !slices.Equal(events, want) {
		t.Fatalf("events = %v\nwant %v", events, want)
	}
	if early.Time() != 3 {
		t.Fatalf("early time = %d, want 3", early.Time())
	}
}

func TestStateErrors(t *testing.T) {
	pp := newPseudo(t, `
output_format: memory
root_model_name: root
num_steps: 1
root:
  nosteps: {run_in_parent_prolog: true}
`)
	var events []string
	root := newCounter(t, "root", pp, &events)
	child := newCounter(t, "nosteps", root, &events)

	err := Run(context.Background(), child)
	if !errors.Is(err, ErrNoNumSteps) || !strings.Contains(err.Error(), "Cannot perform run on (sub-)model 'root.nosteps'") {
		t.Fatalf("Run(child) err = %v", err)
	}
	if err := Epilog(root); !errors.Is(err, ErrState) {
		t.Fatalf("Epilog before prolog err = %v", err)
	}
	if err := Iterate(root); !errors.Is(err, ErrState) {
		t.Fatalf("Iterate before prolog err = %v", err)
	}
	if err := Prolog(root); err != nil {
		t.Fatalf("Prolog: %v", err)
	}
	err = Prolog(root)
	if !errors.Is(err, ErrState) || !strings.Contains(err.Error(), "Requesting to run prolog another time in model 'root'") {
		t.Fatalf("second Prolog err = %v", err)
	}
	if err := root.AddSubmodel(child); !errors.Is(err, ErrState) {
		t.Fatalf("AddSubmodel after prolog err = %v", err)
	}
	if err := Epilog(root); err != nil {
		t.Fatalf("Epilog: %v", err)
	}
	if err := Epilog(root); !errors.Is(err, ErrState) {
		t.Fatalf("second Epilog err = %v", err)
	}

	other := newCounter(t, "other", pp, &events)
	if err := other.AddSubmodel(child); !errors.Is(err, ErrState) {
		t.Fatalf("AddSubmodel of a foreign child err = %v", err)
	}
}

func TestRunInParentPrologNeedsNumSteps(t *testing.T) {
	pp := newPseudo(t, `
output_format: memory
root_model_name: root
root:
  nosteps: {run_in_parent_prolog: true}
`)
	var events []string
	root := newCounter(t, "root", pp, &events)
	if err := root.AddSubmodel(newCounter(t, "nosteps", root, &events)); err != nil {
		t.Fatalf("AddSubmodel: %v", err)
	}
	if err := Run(context.Background(), root); !errors.Is(err, ErrNoNumSteps) {
		t.Fatalf("Run err = %v, want ErrNoNumSteps", err)
	}
}

func TestCancelAtStepBoundary(t *testing.T) {
	pp := newPseudo(t, "{output_format: memory, num_steps: 100}")
	var events []string
	root := newCounter(t, "dummy", pp, &events)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	root.cancel, root.stopAt = cancel, 4

	err := Run(ctx, root)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	if root.Time() != 4 {
		t.Fatalf("time = %d, want 4", root.Time())
	}
	if events[len(events)-1] != "dummy:epilog" {
		t.Fatalf("epilog did not run: %v", events)
	}
	if got := len(root.written(t)); got != 5 {
		t.Fatalf("wrote %d frames, want 5", got)
	}
}

func TestReproducibleRNG(t *testing.T) {
	run := func(seed string) (root, a, b []float64) {
		pp := newPseudo(t, "{output_format: memory, root_model_name: r, num_steps: 5, seed: "+seed+"}")
		var events []string
		r := newCounter(t, "r", pp, &events)
		ca := newCounter(t, "a", r, &events)
		cb := newCounter(t, "b", r, &events)
		for _, c := range []*counter{ca, cb} {
			if err := r.AddSubmodel(c); err != nil {
				t.Fatalf("AddSubmodel: %v", err)
			}
		}
		if err := Run(context.Background(), r); err != nil {
			t.Fatalf("Run: %v", err)
		}
		return r.draws, ca.draws, cb.draws
	}
	r1, a1, b1 := run("7")
	r2, a2, b2 := run("7")
	if !slices.Equal(r1, r2) || !slices.Equal(a1, a2) || !slices.Equal(b1, b2) {
		t.Fatalf("same seed gave different streams")
	}
	if slices.Equal(a1, b1) || slices.Equal(r1, a1) {
		t.Fatalf("sibling or parent/child streams coincide")
	}
	r3, _, _ := run("8")
	if slices.Equal(r1, r3) {
		t.Fatalf("different seeds gave the same stream")
	}
}

func TestLogLevelInheritance(t *testing.T) {
	pp := newPseudo(t, `
output_format: memory
root_model_name: root
log_levels: {model: debug}
root:
  quiet: {log_level: error}
  inherits: {}
`)
	root, err := New("root", pp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	quiet, err := New("quiet", root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	inherits, err := New("inherits", root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if root.LogLevel() != slog.LevelDebug || quiet.LogLevel() != slog.LevelError || inherits.LogLevel() != slog.LevelDebug {
		t.Fatalf("levels = (%v, %v, %v)", root.LogLevel(), quiet.LogLevel(), inherits.LogLevel())
	}
	if quiet.Path() != "root.quiet" {
		t.Fatalf("path = %s", quiet.Path())
	}

	bad := newPseudo(t, "{output_format: memory, root_model_name: root, root: {log_level: loud}}")
	if _, err := New("root", bad); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("unknown level err = %v", err)
	}
}

func TestPseudoParentConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"bad format", "output_format: xml", "output_format"},
		{"zero write_every", "{output_format: memory, write_every: 0}", "write_every"},
		{"bad level", "{output_format: memory, log_levels: {core: chatty}}", "log_levels.core"},
		{"bad seed", "{output_format: memory, seed: many}", "seed"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewPseudoParentFromNode(testtools.Config(t, c.doc), WithLogWriter(io.Discard))
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Fatalf("err = %v, want mention of %q", err, c.want)
			}
		})
	}
}

func TestPseudoParentLogFileAndEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	logPath := testtools.TempOutput(t, "logs/run.log")
	var stderr bytes.Buffer
	pp := newPseudo(t, "{output_format: memory, log_file: "+logPath+"}", WithLogWriter(&stderr))
	pp.Logger().Debug("core debug visible")
	if err := pp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !strings.Contains(stderr.String(), "core debug visible") {
		t.Fatalf("env level override not applied:\n%s", stderr.String())
	}
}

func TestParametersAndMonitor(t *testing.T) {
	var out bytes.Buffer
	pp := newPseudo(t, `
output_format: memory
root_model_name: root
num_steps: 3
monitor_emit_interval: 0
root:
  child: {}
`, WithMonitorWriter(&out))
	var events []string
	root := newCounter(t, "root", pp, &events)
	root.stopAt = 9
	child := newCounter(t, "child", root, &events)
	if err := root.AddSubmodel(child); err != nil {
		t.Fatalf("AddSubmodel: %v", err)
	}
	if err := Run(context.Background(), root); err != nil {
		t.Fatalf("Run: %v", err)
	}

	attrs, err := root.Group().Attributes()
	if err != nil {
		t.Fatalf("Attributes: %v", err)
	}
	got := map[string]hdf.Value{}
	for _, a := range attrs {
		got[a.Name] = a.Value
	}
	if got["params.stop_at"] != hdf.Int(9) || got["params.cancelling"] != hdf.Bool(false) {
		t.Fatalf("parameter attributes = %v", got)
	}

	if n := pp.Monitors().Emitted(); n != 4 {
		t.Fatalf("emitted %d documents, want 4", n)
	}
	if docs := strings.Count(out.String(), "---\n"); docs != 4 {
		t.Fatalf("output holds %d documents, want 4", docs)
	}
	if !strings.Contains(out.String(), "root.child:") {
		t.Fatalf("child entries missing:\n%s", out.String())
	}
	if v, ok := child.Monitor().Entry("draws"); !ok || v != 3 {
		t.Fatalf("child draws entry = %v", v)
	}
}

func TestDataManagerIntegration(t *testing.T) {
	pp := newPseudo(t, `
output_format: memory
root_model_name: root
num_steps: 6
write_every: 2
root:
  data_manager:
    triggers:
      every_three: {type: interval, args: {start: 0, step: 3}}
    tasks:
      split: {trigger: every_three, dataset_path: split_$time}
`)
	root, err := New("root", pp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m := &plain{Base: root}
	timeTask := func(name string) *datamanager.Task {
		return &datamanager.Task{Name: name, WriteData: func(src datamanager.Source, ds *hdf.Dataset) error {
			return hdf.WriteScalar(ds, src.Time())
		}}
	}
	if err := root.SetupDataManager(timeTask("time"), timeTask("split")); err != nil {
		t.Fatalf("SetupDataManager: %v", err)
	}
	if err := root.SetupDataManager(); !errors.Is(err, ErrState) {
		t.Fatalf("second SetupDataManager err = %v", err)
	}
	if err := Run(context.Background(), m); err != nil {
		t.Fatalf("Run: %v", err)
	}
	read := func(name string) []uint64 {
		ds, err := root.Group().OpenDataset(name)
		if err != nil {
			t.Fatalf("OpenDataset(%s): %v", name, err)
		}
		got, _, err := hdf.Read[uint64](ds)
		if err != nil {
			t.Fatalf("Read(%s): %v", name, err)
		}
		return got
	}
	for name, want := range map[string][]uint64{
		"time":    {0, 2, 4, 6},
		"split_0": {0, 2},
		"split_3": {4},
		"split_6": {6},
	} {
		if got := read(name); !slices.Equal(got, want) {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

type plain struct{ *Base }

func (plain) PerformStep() error { return nil }

func TestCreateGridSeries(t *testing.T) {
	pp := newPseudo(t, "{output_format: memory, write_start: 2, write_every: 5}")
	b, err := New("dummy", pp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g, err := grid.FromConfig(testtools.Config(t, "{grid: {resolution: 2}, space: {extent: [2, 1]}}"), 0)
	if err != nil {
		t.Fatalf("grid.FromConfig: %v", err)
	}
	ds, err := b.CreateGridSeries("kind", g)
	if err != nil {
		t.Fatalf("CreateGridSeries: %v", err)
	}
	if err := hdf.Write(ds, make([]uint8, g.NumCells())); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if want := []uint64{hdf.Unlimited, 8}; !slices.Equal(ds.Capacity(), want) {
		t.Fatalf("capacity = %v, want %v", ds.Capacity(), want)
	}
	attrs, err := ds.Attributes()
	if err != nil {
		t.Fatalf("Attributes: %v", err)
	}
	got := map[string]any{}
	for _, a := range attrs {
		got[a.Name] = hdf.Interface(a.Value)
	}
	checks := map[string]any{
		"content":           "grid",
		"index_order":       "F",
		"grid_structure":    "square",
		"coords_mode__time": "start_and_step",
	}
	for k, want := range checks {
		if got[k] != want {
			t.Errorf("%s = %v, want %v", k, got[k], want)
		}
	}
	if shape, ok := got["grid_shape"].([]int64); !ok || !slices.Equal(shape, []int64{4, 2}) {
		t.Errorf("grid_shape = %v", got["grid_shape"])
	}
	if tc, ok := got["coords__time"].([]uint64); !ok || !slices.Equal(tc, []uint64{2, 5}) {
		t.Errorf("coords__time = %v", got["coords__time"])
	}
	if dims, ok := got["dim_names"].([]string); !ok || !slices.Equal(dims, []string{"time", "ids"}) {
		t.Errorf("dim_names = %v", got["dim_names"])
	}
}
