package hdf

import (
	"fmt"
	"path"
	"slices"
)

type memObject struct {
	typ      ObjectType
	layout   Layout
	data     *Block
	attrs    []Attribute
	children []string
}

// memoryDriver keeps the object tree in maps.
type memoryDriver struct {
	objects map[string]*memObject
}

func newMemoryDriver() *memoryDriver {
	return &memoryDriver{objects: map[string]*memObject{"/": {typ: ObjectGroup}}}
}

func (m *memoryDriver) get(p string, typ ObjectType) (*memObject, error) {
	o, ok := m.objects[p]
	if !ok || (typ != ObjectNone && o.typ != typ) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return o, nil
}

func (m *memoryDriver) add(p string, o *memObject) error {
	if _, ok := m.objects[p]; ok {
		return fmt.Errorf("object %s already exists", p)
	}
	parent, err := m.get(path.Dir(p), ObjectGroup)
	if err != nil {
		return err
	}
	parent.children = append(parent.children, path.Base(p))
	m.objects[p] = o
	return nil
}

func (m *memoryDriver) CreateGroup(p string) error {
	return m.add(p, &memObject{typ: ObjectGroup})
}

func (m *memoryDriver) CreateDataset(p string, l Layout) error {
	l.Extent = slices.Clone(l.Extent)
	return m.add(p, &memObject{typ: ObjectDataset, layout: l, data: newBlock(l.Kind, l.Extent)})
}

func (m *memoryDriver) Resize(p string, extent []uint64) error {
	o, err := m.get(p, ObjectDataset)
	if err != nil {
		return err
	}
	o.data = o.data.resize(extent)
	o.layout.Extent = slices.Clone(extent)
	return nil
}

func (m *memoryDriver) WriteBlock(p string, offset []uint64, b *Block) error {
	o, err := m.get(p, ObjectDataset)
	if err != nil {
		return err
	}
	return o.data.paste(b, offset)
}

func (m *memoryDriver) WriteAttribute(p string, a Attribute) error {
	o, err := m.get(p, ObjectNone)
	if err != nil {
		return err
	}
	o.attrs = setAttribute(o.attrs, a)
	return nil
}

func (m *memoryDriver) Stat(p string) (ObjectType, error) {
	if o, ok := m.objects[p]; ok {
		return o.typ, nil
	}
	return ObjectNone, nil
}

func (m *memoryDriver) Layout(p string) (Layout, error) {
	o, err := m.get(p, ObjectDataset)
	if err != nil {
		return Layout{}, err
	}
	l := o.layout
	l.Extent = slices.Clone(l.Extent)
	return l, nil
}

func (m *memoryDriver) ReadAll(p string) (*Block, error) {
	o, err := m.get(p, ObjectDataset)
	if err != nil {
		return nil, err
	}
	return o.data.sub(o.data.Shape), nil
}

func (m *memoryDriver) Attributes(p string) ([]Attribute, error) {
	o, err := m.get(p, ObjectNone)
	if err != nil {
		return nil, err
	}
	return slices.Clone(o.attrs), nil
}

func (m *memoryDriver) Children(p string) ([]string, error) {
	o, err := m.get(p, ObjectGroup)
	if err != nil {
		return nil, err
	}
	return slices.Clone(o.children), nil
}

func (m *memoryDriver) Flush() error { return nil }
func (m *memoryDriver) Close() error { return nil }
