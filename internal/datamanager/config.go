package datamanager

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"gridsim/internal/config"
	"gridsim/internal/hdf"
)

// DefaultName is the name of the decider and trigger that tasks without an
// explicit configuration are linked to. The default decider writes every
// write_every steps from write_start on, the default trigger builds the
// dataset once at write_start.
const DefaultName = "default"

// FromConfig builds a manager from a data_manager node:
//
//	deciders:
//	  every_10: {type: interval, args: {step: 10}}
//	triggers:
//	  once: {type: once, args: {time: 0}}
//	tasks:
//	  kind:
//	    active: true
//	    decider: every_10
//	    trigger: once
//	    basegroup_path: cells
//	    dataset_path: kind_$time
//	    capacity: [unlimited, 100]
//	    chunksize: [10, 100]
//	    compression: 3
//
// tasks holds the model's tasks; configuration entries refer to them by
// name. Tasks without an entry use the default decider and trigger.
func FromConfig(n config.Node, tasks []*Task, d Defaults, log *slog.Logger) (*Manager, error) {
	byName := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byName[t.Name] = t
	}

	deciders, err := namedFromConfig(n.Sub("deciders"), d)
	if err != nil {
		return nil, err
	}
	triggers, err := namedFromConfig(n.Sub("triggers"), d)
	if err != nil {
		return nil, err
	}
	if !slices.ContainsFunc(deciders, isDefault) {
		deciders = append(deciders, Named{Name: DefaultName, Decider: NewEvery(d.WriteStart, d.WriteEvery)})
	}
	if !slices.ContainsFunc(triggers, isDefault) {
		triggers = append(triggers, Named{Name: DefaultName, Decider: Once{Time: d.WriteStart}})
	}

	taskCfg := n.Sub("tasks")
	for _, name := range taskCfg.Keys() {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("%w '%s': the model has no task of this name (available: %s)",
				config.ErrInvalid, taskCfg.Sub(name).Path(), strings.Join(sortedKeys(byName), ", "))
		}
	}

	var active []*Task
	deciderLinks := make(map[string][]string)
	triggerLinks := make(map[string][]string)
	for _, t := range tasks {
		tc := taskCfg.Sub(t.Name)
		on, err := config.GetOr(tc, "active", true)
		if err != nil {
			return nil, err
		}
		if !on {
			log.Debug("task deactivated", "task", t.Name)
			continue
		}
		if err := applyLayout(t, tc); err != nil {
			return nil, err
		}
		dec, err := config.GetOr(tc, "decider", DefaultName)
		if err != nil {
			return nil, err
		}
		trig, err := config.GetOr(tc, "trigger", DefaultName)
		if err != nil {
			return nil, err
		}
		deciderLinks[dec] = append(deciderLinks[dec], t.Name)
		triggerLinks[trig] = append(triggerLinks[trig], t.Name)
		active = append(active, t)
	}
	m, err := New(active, deciders, triggers,
		WithLogger(log), WithDeciderLinks(deciderLinks), WithTriggerLinks(triggerLinks))
	if err != nil {
		return nil, fmt.Errorf("setting up data manager '%s': %w", n.Path(), err)
	}
	log.Debug("data manager set up", "tasks", len(active), "deciders", len(deciders), "triggers", len(triggers))
	return m, nil
}

func isDefault(n Named) bool { return n.Name == DefaultName }

func namedFromConfig(n config.Node, d Defaults) ([]Named, error) {
	var out []Named
	for _, name := range n.Keys() {
		dec, err := DeciderFromConfig(n.Sub(name), d)
		if err != nil {
			return nil, err
		}
		out = append(out, Named{Name: name, Decider: dec})
	}
	return out, nil
}

func applyLayout(t *Task, n config.Node) error {
	var err error
	if t.BasegroupPath, err = config.GetOr(n, "basegroup_path", t.BasegroupPath); err != nil {
		return err
	}
	if t.DatasetPath, err = config.GetOr(n, "dataset_path", t.DatasetPath); err != nil {
		return err
	}
	if t.Compression, err = config.GetOr(n, "compression", t.Compression); err != nil {
		return err
	}
	if n.Has("capacity") {
		if t.Capacity, err = dims(n, "capacity"); err != nil {
			return err
		}
	}
	if n.Has("chunksize") {
		if t.Chunksize, err = dims(n, "chunksize"); err != nil {
			return err
		}
	}
	return nil
}

// dims reads a list of sizes where "unlimited" marks an unbounded axis.
func dims(n config.Node, key string) ([]uint64, error) {
	raw, err := config.Get[[]any](n, key)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(raw))
	for i, v := range raw {
		switch v := v.(type) {
		case int:
			if v < 0 {
				return nil, fmt.Errorf("%w '%s.%s': negative size %d", config.ErrInvalid, n.Path(), key, v)
			}
			out[i] = uint64(v)
		case uint64:
			out[i] = v
		case string:
			if v != "unlimited" && v != "inf" {
				return nil, fmt.Errorf("%w '%s.%s': %q is not a size", config.ErrInvalid, n.Path(), key, v)
			}
			out[i] = hdf.Unlimited
		default:
			return nil, fmt.Errorf("%w '%s.%s': %v is not a size", config.ErrInvalid, n.Path(), key, v)
		}
	}
	return out, nil
}
