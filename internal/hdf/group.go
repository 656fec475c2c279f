package hdf

import (
	"fmt"
	"path"
)

// Group is a handle on a group of the object tree.
type Group struct {
	file *File
	path string
}

func (g *Group) Path() string { return g.path }
func (g *Group) File() *File  { return g.file }

// Name returns the last path element; the root group is called "/".
func (g *Group) Name() string { return path.Base(g.path) }

// OpenGroup opens the named subgroup, creating it and any missing
// intermediate groups.
func (g *Group) OpenGroup(name string) (*Group, error) {
	if err := g.file.check(); err != nil {
		return nil, err
	}
	p := joinPath(g.path, name)
	if err := g.file.ensureGroup(p); err != nil {
		return nil, err
	}
	return &Group{file: g.file, path: p}, nil
}

// OpenDataset returns a handle on the named dataset. An existing dataset is
// reopened for appending; otherwise it is created on the first write.
func (g *Group) OpenDataset(name string) (*Dataset, error) {
	if err := g.file.check(); err != nil {
		return nil, err
	}
	p := joinPath(g.path, name)
	d := &Dataset{file: g.file, path: p}
	typ, err := g.file.drv.Stat(p)
	if err != nil {
		return nil, err
	}
	switch typ {
	case ObjectDataset:
		if err := d.load(); err != nil {
			return nil, fmt.Errorf("reopening dataset %s: %w", p, err)
		}
	case ObjectGroup:
		return nil, fmt.Errorf("%w: %s is a group, not a dataset", ErrType, p)
	}
	g.file.track(d)
	return d, nil
}

// AddAttribute writes an attribute on the group.
func (g *Group) AddAttribute(name string, v any) error {
	if err := g.file.check(); err != nil {
		return err
	}
	val, err := ValueOf(v)
	if err != nil {
		return fmt.Errorf("attribute %q of %s: %w", name, g.path, err)
	}
	return g.file.drv.WriteAttribute(g.path, Attribute{Name: name, Value: val})
}

// Attributes returns the group's attributes in insertion order.
func (g *Group) Attributes() ([]Attribute, error) {
	return g.file.drv.Attributes(g.path)
}

// Children returns the names of the direct children in creation order.
func (g *Group) Children() ([]string, error) {
	return g.file.drv.Children(g.path)
}

// Exists reports whether a child object of the given name exists.
func (g *Group) Exists(name string) (bool, error) {
	typ, err := g.file.drv.Stat(joinPath(g.path, name))
	return typ != ObjectNone, err
}
