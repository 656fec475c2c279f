// Package core keeps the registry of models that can be run as a root
// model. Model packages register themselves from init.
package core

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"gridsim/internal/model"
)

// Factory constructs a model called name below parent.
type Factory func(name string, parent model.Parent) (model.Runnable, error)

// Entry is a registered model.
type Entry struct {
	Name        string
	Description string
	New         Factory
}

var (
	mu     sync.RWMutex
	models = map[string]Entry{}
)

// Register adds a model factory under the provided name. Empty names and
// nil factories are ignored; a later registration replaces an earlier one.
func Register(name, description string, f Factory) {
	if name == "" || f == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	models[name] = Entry{Name: name, Description: description, New: f}
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, error) {
	mu.RLock()
	defer mu.RUnlock()
	e, ok := models[name]
	if !ok {
		return nil, fmt.Errorf("unknown model %q (registered: %s)", name, strings.Join(names(), ", "))
	}
	return e.New, nil
}

// Models returns all registered models sorted by name.
func Models() []Entry {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Entry, 0, len(models))
	for _, e := range models {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func names() []string {
	out := make([]string, 0, len(models))
	for name := range models {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// NewRoot constructs the root model named by the parent's configuration.
func NewRoot(pp *model.PseudoParent) (model.Runnable, error) {
	name := pp.RootModelName()
	f, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	m, err := f(name, pp)
	if err != nil {
		return nil, fmt.Errorf("setting up model '%s': %w", name, err)
	}
	return m, nil
}
