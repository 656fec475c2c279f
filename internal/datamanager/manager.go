// Package datamanager schedules the data output of a model. A Manager holds
// named tasks, deciders and triggers. Deciders say whether a task writes at
// the current time, triggers say whether it first switches to a freshly
// built dataset.
package datamanager

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"gridsim/internal/logging"
)

var (
	// ErrUnknown is returned when a name refers to no registered entry.
	ErrUnknown = errors.New("unknown name")
	// ErrDuplicate is returned when registering an existing name.
	ErrDuplicate = errors.New("name already registered")
	// ErrAmbiguous is returned when associations cannot be inferred.
	ErrAmbiguous = errors.New("ambiguous associations")
)

// Named pairs a decider or trigger with its name.
type Named struct {
	Name    string
	Decider Decider
}

// Manager runs tasks when their deciders and triggers fire. It is not safe
// for concurrent use.
type Manager struct {
	log *slog.Logger

	tasks    map[string]*Task
	deciders map[string]Decider
	triggers map[string]Decider

	taskOrder    []string
	deciderOrder []string
	triggerOrder []string

	// predicate name to linked task names
	deciderTasks map[string][]string
	triggerTasks map[string][]string
}

// Option configures New.
type Option func(*options)

type options struct {
	log          *slog.Logger
	deciderLinks map[string][]string
	triggerLinks map[string][]string
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// WithDeciderLinks associates deciders with tasks explicitly.
func WithDeciderLinks(links map[string][]string) Option {
	return func(o *options) { o.deciderLinks = links }
}

// WithTriggerLinks associates triggers with tasks explicitly.
func WithTriggerLinks(links map[string][]string) Option {
	return func(o *options) { o.triggerLinks = links }
}

// New creates a manager. Without explicit links the i-th task is linked to
// the i-th decider and the i-th trigger, which requires all three to have
// the same length.
func New(tasks []*Task, deciders, triggers []Named, opts ...Option) (*Manager, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Discard()
	}
	m := &Manager{
		log:          o.log,
		tasks:        make(map[string]*Task),
		deciders:     make(map[string]Decider),
		triggers:     make(map[string]Decider),
		deciderTasks: make(map[string][]string),
		triggerTasks: make(map[string][]string),
	}
	for _, t := range tasks {
		if err := m.RegisterTask(t); err != nil {
			return nil, err
		}
	}
	for _, d := range deciders {
		if err := m.RegisterDecider(d.Name, d.Decider); err != nil {
			return nil, err
		}
	}
	for _, d := range triggers {
		if err := m.RegisterTrigger(d.Name, d.Decider); err != nil {
			return nil, err
		}
	}

	if o.deciderLinks == nil {
		if len(deciders) != len(tasks) {
			return nil, fmt.Errorf("%w: deciders size != tasks size! You have to disambiguate the association of deciders and tasks by passing decider links", ErrAmbiguous)
		}
		o.deciderLinks = make(map[string][]string)
		for i, d := range deciders {
			o.deciderLinks[d.Name] = append(o.deciderLinks[d.Name], tasks[i].Name)
		}
	}
	if o.triggerLinks == nil {
		if len(triggers) != len(tasks) {
			return nil, fmt.Errorf("%w: triggers size != tasks size! You have to disambiguate the association of triggers and tasks by passing trigger links", ErrAmbiguous)
		}
		o.triggerLinks = make(map[string][]string)
		for i, d := range triggers {
			o.triggerLinks[d.Name] = append(o.triggerLinks[d.Name], tasks[i].Name)
		}
	}
	for _, d := range sortedKeys(o.deciderLinks) {
		for _, t := range o.deciderLinks[d] {
			if err := m.LinkTaskToDecider(t, d); err != nil {
				return nil, err
			}
		}
	}
	for _, d := range sortedKeys(o.triggerLinks) {
		for _, t := range o.triggerLinks[d] {
			if err := m.LinkTaskToTrigger(t, d); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// RegisterTask adds a task without linking it.
func (m *Manager) RegisterTask(t *Task) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("%w: task needs a name", ErrUnknown)
	}
	if _, ok := m.tasks[t.Name]; ok {
		return fmt.Errorf("%w: task '%s'", ErrDuplicate, t.Name)
	}
	m.tasks[t.Name] = t
	m.taskOrder = append(m.taskOrder, t.Name)
	return nil
}

// RegisterDecider adds a decider without linking it.
func (m *Manager) RegisterDecider(name string, d Decider) error {
	if _, ok := m.deciders[name]; ok {
		return fmt.Errorf("%w: decider '%s'", ErrDuplicate, name)
	}
	m.deciders[name] = d
	m.deciderOrder = append(m.deciderOrder, name)
	return nil
}

// RegisterTrigger adds a trigger without linking it.
func (m *Manager) RegisterTrigger(name string, d Decider) error {
	if _, ok := m.triggers[name]; ok {
		return fmt.Errorf("%w: trigger '%s'", ErrDuplicate, name)
	}
	m.triggers[name] = d
	m.triggerOrder = append(m.triggerOrder, name)
	return nil
}

// RegisterProcedure adds a task together with its decider and trigger and
// links them. Existing deciders or triggers of the same name are reused if
// the given predicate is nil.
func (m *Manager) RegisterProcedure(t *Task, deciderName string, d Decider, triggerName string, trig Decider) error {
	if err := m.RegisterTask(t); err != nil {
		return err
	}
	if d != nil {
		if err := m.RegisterDecider(deciderName, d); err != nil {
			return err
		}
	}
	if trig != nil {
		if err := m.RegisterTrigger(triggerName, trig); err != nil {
			return err
		}
	}
	if err := m.LinkTaskToDecider(t.Name, deciderName); err != nil {
		return err
	}
	return m.LinkTaskToTrigger(t.Name, triggerName)
}

// LinkTaskToDecider additionally links a task to a decider.
func (m *Manager) LinkTaskToDecider(task, decider string) error {
	return m.link(m.deciderTasks, m.deciders, "decider", task, decider)
}

// LinkTaskToTrigger additionally links a task to a trigger.
func (m *Manager) LinkTaskToTrigger(task, trigger string) error {
	return m.link(m.triggerTasks, m.triggers, "trigger", task, trigger)
}

// RelinkTaskToDecider removes all decider links of a task and links it to
// the given decider.
func (m *Manager) RelinkTaskToDecider(task, decider string) error {
	if _, ok := m.deciders[decider]; !ok {
		return fmt.Errorf("%w: decider '%s'", ErrUnknown, decider)
	}
	unlink(m.deciderTasks, task)
	return m.LinkTaskToDecider(task, decider)
}

// RelinkTaskToTrigger removes all trigger links of a task and links it to
// the given trigger.
func (m *Manager) RelinkTaskToTrigger(task, trigger string) error {
	if _, ok := m.triggers[trigger]; !ok {
		return fmt.Errorf("%w: trigger '%s'", ErrUnknown, trigger)
	}
	unlink(m.triggerTasks, task)
	return m.LinkTaskToTrigger(task, trigger)
}

func (m *Manager) link(links map[string][]string, preds map[string]Decider, kind, task, pred string) error {
	if _, ok := m.tasks[task]; !ok {
		return fmt.Errorf("%w: task '%s'", ErrUnknown, task)
	}
	if _, ok := preds[pred]; !ok {
		return fmt.Errorf("%w: %s '%s'", ErrUnknown, kind, pred)
	}
	if !slices.Contains(links[pred], task) {
		links[pred] = append(links[pred], task)
	}
	return nil
}

func unlink(links map[string][]string, task string) {
	for pred, tasks := range links {
		links[pred] = slices.DeleteFunc(tasks, func(t string) bool { return t == task })
	}
}

// Tasks returns the tasks in registration order.
func (m *Manager) Tasks() []*Task {
	out := make([]*Task, len(m.taskOrder))
	for i, name := range m.taskOrder {
		out[i] = m.tasks[name]
	}
	return out
}

// Task returns the named task or nil.
func (m *Manager) Task(name string) *Task { return m.tasks[name] }

// DeciderTasks returns the names of the tasks linked to a decider.
func (m *Manager) DeciderTasks(decider string) []string {
	return slices.Clone(m.deciderTasks[decider])
}

// TriggerTasks returns the names of the tasks linked to a trigger.
func (m *Manager) TriggerTasks(trigger string) []string {
	return slices.Clone(m.triggerTasks[trigger])
}

// Emit evaluates every decider and trigger once. Tasks whose trigger fired
// switch to a new dataset, then tasks whose decider fired write, both in
// task registration order.
func (m *Manager) Emit(src Source) error {
	write := m.fired(m.deciderOrder, m.deciders, m.deciderTasks, src)
	build := m.fired(m.triggerOrder, m.triggers, m.triggerTasks, src)
	for _, name := range m.taskOrder {
		t := m.tasks[name]
		if build[name] {
			logging.Trace(m.log, "building dataset", "task", name, "time", src.Time())
			if err := t.switchDataset(src); err != nil {
				return err
			}
		}
		if write[name] {
			if err := t.write(src); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) fired(order []string, preds map[string]Decider, links map[string][]string, src Source) map[string]bool {
	out := make(map[string]bool)
	for _, name := range order {
		if !preds[name].Decide(src) {
			continue
		}
		for _, t := range links[name] {
			out[t] = true
		}
	}
	return out
}

// Close closes the active datasets of all tasks.
func (m *Manager) Close() error {
	var errs []error
	for _, name := range m.taskOrder {
		if err := m.tasks[name].close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
