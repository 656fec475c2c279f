//go:build hdf5

package hdf

import (
	"encoding/json"
	"fmt"
	"path"
	"slices"

	"gonum.org/v1/hdf5"
)

const hdf5Available = true

// hdf5Unlimited is H5S_UNLIMITED.
const hdf5Unlimited = ^uint(0)

// attributeCatalog is a string dataset in the root group holding one JSON
// record per attribute. The bindings cannot enumerate the attributes of an
// object, so the catalog is what reopened files list attributes from.
const attributeCatalog = "/_attributes"

type catalogEntry struct {
	Path  string          `json:"path"`
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// hdf5Driver writes native HDF5 files through the HDF5 C library. Every
// attribute is stored natively and in the attribute catalog, which is
// written when the file is closed.
type hdf5Driver struct {
	file      *hdf5.File
	writable  bool
	types     map[string]ObjectType
	datasets  map[string]*hdf5.Dataset
	layouts   map[string]Layout
	attrs     map[string][]Attribute
	attrOrder []string
	children  map[string][]string
}

func newHDF5Driver(path string, create bool) (Driver, error) {
	var f *hdf5.File
	var err error
	if create {
		f, err = hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	} else {
		f, err = hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	}
	if err != nil {
		return nil, err
	}
	d := &hdf5Driver{
		file:     f,
		writable: create,
		types:    map[string]ObjectType{"/": ObjectGroup},
		datasets: make(map[string]*hdf5.Dataset),
		layouts:  make(map[string]Layout),
		attrs:    make(map[string][]Attribute),
		children: make(map[string][]string),
	}
	if !create {
		if err := d.loadCatalog(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return d, nil
}

func (d *hdf5Driver) loadCatalog() error {
	if !d.file.LinkExists(attributeCatalog) {
		return nil
	}
	ds, err := d.file.OpenDataset(attributeCatalog)
	if err != nil {
		return fmt.Errorf("opening attribute catalog: %w", err)
	}
	defer ds.Close()
	space := ds.Space()
	dims, _, err := space.SimpleExtentDims()
	space.Close()
	if err != nil {
		return err
	}
	records, err := readCStrings(int(numElements(fromUint(dims))), ds.Read)
	if err != nil {
		return fmt.Errorf("reading attribute catalog: %w", err)
	}
	for _, r := range records {
		var e catalogEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return fmt.Errorf("attribute catalog: %w", err)
		}
		v, err := decodeValue(e.Value)
		if err != nil {
			return fmt.Errorf("attribute %q of %s: %w", e.Name, e.Path, err)
		}
		d.recordAttribute(e.Path, Attribute{Name: e.Name, Value: v})
	}
	return nil
}

func (d *hdf5Driver) recordAttribute(p string, a Attribute) {
	if _, ok := d.attrs[p]; !ok {
		d.attrOrder = append(d.attrOrder, p)
	}
	d.attrs[p] = setAttribute(d.attrs[p], a)
}

func (d *hdf5Driver) writeCatalog() error {
	var records []string
	for _, p := range d.attrOrder {
		for _, a := range d.attrs[p] {
			raw, err := encodeValue(a.Value)
			if err != nil {
				return err
			}
			rec, err := json.Marshal(catalogEntry{Path: p, Name: a.Name, Value: raw})
			if err != nil {
				return err
			}
			records = append(records, string(rec))
		}
	}
	if len(records) == 0 {
		return nil
	}
	dtype, err := hdf5Type(String)
	if err != nil {
		return err
	}
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(records))}, nil)
	if err != nil {
		return err
	}
	defer space.Close()
	ds, err := d.file.CreateDataset(attributeCatalog, dtype, space)
	if err != nil {
		return fmt.Errorf("creating attribute catalog: %w", err)
	}
	defer ds.Close()
	data, release := cStrings(records)
	defer release()
	return ds.Write(data)
}

func toUint(xs []uint64) []uint {
	out := make([]uint, len(xs))
	for i, x := range xs {
		if x == Unlimited {
			out[i] = hdf5Unlimited
			continue
		}
		out[i] = uint(x)
	}
	return out
}

func fromUint(xs []uint) []uint64 {
	out := make([]uint64, len(xs))
	for i, x := range xs {
		if x == hdf5Unlimited {
			out[i] = Unlimited
			continue
		}
		out[i] = uint64(x)
	}
	return out
}

func hdf5Type(k Kind) (*hdf5.Datatype, error) {
	switch k {
	case Int8:
		return hdf5.T_NATIVE_INT8, nil
	case Int16:
		return hdf5.T_NATIVE_INT16, nil
	case Int32:
		return hdf5.T_NATIVE_INT32, nil
	case Int64:
		return hdf5.T_NATIVE_INT64, nil
	case Uint8:
		return hdf5.T_NATIVE_UINT8, nil
	case Uint16:
		return hdf5.T_NATIVE_UINT16, nil
	case Uint32:
		return hdf5.T_NATIVE_UINT32, nil
	case Uint64:
		return hdf5.T_NATIVE_UINT64, nil
	case Float32:
		return hdf5.T_NATIVE_FLOAT, nil
	case Float64:
		return hdf5.T_NATIVE_DOUBLE, nil
	case String:
		// variable-length C string
		return hdf5.NewDatatypeFromValue("")
	}
	return nil, fmt.Errorf("%w: %s datasets in HDF5 files", ErrUnsupported, k)
}

func (d *hdf5Driver) link(p string, typ ObjectType) {
	d.types[p] = typ
	parent := path.Dir(p)
	d.children[parent] = append(d.children[parent], path.Base(p))
}

func (d *hdf5Driver) CreateGroup(p string) error {
	g, err := d.file.CreateGroup(p)
	if err != nil {
		return err
	}
	d.link(p, ObjectGroup)
	return g.Close()
}

func (d *hdf5Driver) CreateDataset(p string, l Layout) error {
	dtype, err := hdf5Type(l.Kind)
	if err != nil {
		return err
	}
	space, err := hdf5.CreateSimpleDataspace(toUint(l.Extent), toUint(l.Capacity))
	if err != nil {
		return err
	}
	defer space.Close()
	dcpl, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
	if err != nil {
		return err
	}
	defer dcpl.Close()
	if err := dcpl.SetChunk(toUint(l.Chunks)); err != nil {
		return err
	}
	if l.Compression > 0 {
		if err := dcpl.SetDeflate(l.Compression); err != nil {
			return err
		}
	}
	ds, err := d.file.CreateDatasetWith(p, dtype, space, dcpl)
	if err != nil {
		return err
	}
	d.datasets[p] = ds
	d.layouts[p] = l
	d.link(p, ObjectDataset)
	return nil
}

func (d *hdf5Driver) dataset(p string) (*hdf5.Dataset, error) {
	if ds, ok := d.datasets[p]; ok {
		return ds, nil
	}
	ds, err := d.file.OpenDataset(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, p, err)
	}
	d.datasets[p] = ds
	return ds, nil
}

func (d *hdf5Driver) Resize(p string, extent []uint64) error {
	ds, err := d.dataset(p)
	if err != nil {
		return err
	}
	if err := ds.Resize(toUint(extent)); err != nil {
		return err
	}
	if l, ok := d.layouts[p]; ok {
		l.Extent = extent
		d.layouts[p] = l
	}
	return nil
}

func (d *hdf5Driver) WriteBlock(p string, offset []uint64, b *Block) error {
	ds, err := d.dataset(p)
	if err != nil {
		return err
	}
	l, err := d.Layout(p)
	if err != nil {
		return err
	}
	data, release, err := nativeSlice(b, l.Kind)
	if err != nil {
		return err
	}
	defer release()
	mem, err := hdf5.CreateSimpleDataspace(toUint(b.Shape), nil)
	if err != nil {
		return err
	}
	defer mem.Close()
	file := ds.Space()
	defer file.Close()
	if err := file.SelectHyperslab(toUint(offset), nil, toUint(b.Shape), nil); err != nil {
		return err
	}
	return ds.WriteSubset(data, mem, file)
}

// nativeSlice converts b into a pointer to a slice of kind's in-memory
// type. release frees memory allocated for the conversion.
func nativeSlice(b *Block, kind Kind) (data any, release func(), err error) {
	release = func() {}
	switch kind {
	case Int8:
		xs, err := Slice[int8](b)
		return &xs, release, err
	case Int16:
		xs, err := Slice[int16](b)
		return &xs, release, err
	case Int32:
		xs, err := Slice[int32](b)
		return &xs, release, err
	case Int64:
		xs, err := Slice[int64](b)
		return &xs, release, err
	case Uint8:
		xs, err := Slice[uint8](b)
		return &xs, release, err
	case Uint16:
		xs, err := Slice[uint16](b)
		return &xs, release, err
	case Uint32:
		xs, err := Slice[uint32](b)
		return &xs, release, err
	case Uint64:
		xs, err := Slice[uint64](b)
		return &xs, release, err
	case Float32:
		xs, err := Slice[float32](b)
		return &xs, release, err
	case Float64:
		xs, err := Slice[float64](b)
		return &xs, release, err
	case String:
		xs, err := Slice[string](b)
		if err != nil {
			return nil, release, err
		}
		data, release := cStrings(xs)
		return data, release, nil
	}
	return nil, release, fmt.Errorf("%w: %s datasets in HDF5 files", ErrUnsupported, kind)
}

type attributer interface {
	CreateAttribute(name string, dtype *hdf5.Datatype, dspace *hdf5.Dataspace) (*hdf5.Attribute, error)
}

func (d *hdf5Driver) WriteAttribute(p string, a Attribute) error {
	var target attributer
	switch typ, _ := d.Stat(p); typ {
	case ObjectDataset:
		ds, err := d.dataset(p)
		if err != nil {
			return err
		}
		target = ds
	case ObjectGroup:
		g, err := d.file.OpenGroup(p)
		if err != nil {
			return err
		}
		defer g.Close()
		var ok bool
		if target, ok = any(g).(attributer); !ok {
			return fmt.Errorf("%w: group attributes", ErrUnsupported)
		}
	default:
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}

	data, n, dtype, release, err := attributePayload(a.Value)
	defer release()
	if err != nil {
		return fmt.Errorf("attribute %q: %w", a.Name, err)
	}
	space, err := hdf5.CreateSimpleDataspace([]uint{n}, nil)
	if err != nil {
		return err
	}
	defer space.Close()
	attr, err := target.CreateAttribute(a.Name, dtype, space)
	if err != nil {
		return err
	}
	defer attr.Close()
	if err := attr.Write(data, dtype); err != nil {
		return err
	}
	d.recordAttribute(p, a)
	return nil
}

// attributePayload returns v as a slice together with its length and
// element type. Scalars become one element slices, bools are stored as int8.
// release frees the C copies of string values.
func attributePayload(v Value) (data any, num uint, dtype *hdf5.Datatype, release func(), err error) {
	var strs []string
	var n int
	kind := Int64
	release = func() {}
	switch x := v.(type) {
	case Int:
		data, n = []int64{int64(x)}, 1
	case Uint:
		data, n, kind = []uint64{uint64(x)}, 1, Uint64
	case Float:
		data, n, kind = []float64{float64(x)}, 1, Float64
	case Bool:
		var b int8
		if x {
			b = 1
		}
		data, n, kind = []int8{b}, 1, Int8
	case Ints:
		data, n = []int64(x), len(x)
	case Uints:
		data, n, kind = []uint64(x), len(x), Uint64
	case Floats:
		data, n, kind = []float64(x), len(x), Float64
	case Text:
		strs, n, kind = []string{string(x)}, 1, String
	case Strings:
		strs, n, kind = []string(x), len(x), String
	default:
		return nil, 0, nil, release, fmt.Errorf("%w: %T", ErrType, v)
	}
	if kind == String {
		data, release = cStrings(strs)
	}
	dt, err := hdf5Type(kind)
	return data, uint(n), dt, release, err
}

func (d *hdf5Driver) Stat(p string) (ObjectType, error) {
	if typ, ok := d.types[p]; ok {
		return typ, nil
	}
	if !d.file.LinkExists(p) {
		return ObjectNone, nil
	}
	typ := ObjectGroup
	if ds, err := d.file.OpenDataset(p); err == nil {
		d.datasets[p] = ds
		typ = ObjectDataset
	}
	d.types[p] = typ
	return typ, nil
}

func (d *hdf5Driver) Layout(p string) (Layout, error) {
	if l, ok := d.layouts[p]; ok {
		return l, nil
	}
	ds, err := d.dataset(p)
	if err != nil {
		return Layout{}, err
	}
	space := ds.Space()
	defer space.Close()
	dims, maxdims, err := space.SimpleExtentDims()
	if err != nil {
		return Layout{}, err
	}
	dt, err := ds.Datatype()
	if err != nil {
		return Layout{}, err
	}
	defer dt.Close()
	kind, err := kindFromHDF5(dt)
	if err != nil {
		return Layout{}, err
	}
	l := Layout{Kind: kind, Extent: fromUint(dims), Capacity: fromUint(maxdims)}
	d.layouts[p] = l
	return l, nil
}

// kindFromHDF5 maps a stored type back to a kind. Integer signedness is not
// recoverable through the bindings; integers are read back as signed.
func kindFromHDF5(dt *hdf5.Datatype) (Kind, error) {
	switch dt.Class() {
	case hdf5.T_INTEGER:
		switch dt.Size() {
		case 1:
			return Int8, nil
		case 2:
			return Int16, nil
		case 4:
			return Int32, nil
		default:
			return Int64, nil
		}
	case hdf5.T_FLOAT:
		if dt.Size() == 4 {
			return Float32, nil
		}
		return Float64, nil
	case hdf5.T_STRING:
		return String, nil
	}
	return "", fmt.Errorf("%w: HDF5 type class %v", ErrUnsupported, dt.Class())
}

func (d *hdf5Driver) ReadAll(p string) (*Block, error) {
	ds, err := d.dataset(p)
	if err != nil {
		return nil, err
	}
	l, err := d.Layout(p)
	if err != nil {
		return nil, err
	}
	n := numElements(l.Extent)
	switch l.Kind.family() {
	case signed:
		xs := make([]int64, n)
		if err := ds.Read(&xs); err != nil {
			return nil, err
		}
		return &Block{Kind: l.Kind, Shape: l.Extent, Ints: xs}, nil
	case unsigned:
		xs := make([]uint64, n)
		if err := ds.Read(&xs); err != nil {
			return nil, err
		}
		return &Block{Kind: l.Kind, Shape: l.Extent, Uints: xs}, nil
	case floating:
		xs := make([]float64, n)
		if err := ds.Read(&xs); err != nil {
			return nil, err
		}
		return &Block{Kind: l.Kind, Shape: l.Extent, Floats: xs}, nil
	case text:
		xs, err := readCStrings(int(n), ds.Read)
		if err != nil {
			return nil, err
		}
		return &Block{Kind: l.Kind, Shape: l.Extent, Strs: xs}, nil
	}
	return nil, fmt.Errorf("%w: reading %s datasets from HDF5 files", ErrUnsupported, l.Kind)
}

func (d *hdf5Driver) Attributes(p string) ([]Attribute, error) {
	return slices.Clone(d.attrs[p]), nil
}

func (d *hdf5Driver) Children(p string) ([]string, error) {
	if c, ok := d.children[p]; ok {
		return slices.Clone(c), nil
	}
	hidden := ""
	if p == "/" {
		hidden = path.Base(attributeCatalog)
	}
	g, err := d.file.OpenGroup(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	defer g.Close()
	num, err := g.NumObjects()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, num)
	for i := uint(0); i < num; i++ {
		name, err := g.ObjectNameByIndex(i)
		if err != nil {
			return nil, err
		}
		if name == hidden {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

func (d *hdf5Driver) Flush() error {
	return d.file.Flush(hdf5.F_SCOPE_GLOBAL)
}

func (d *hdf5Driver) Close() error {
	if d.writable {
		if err := d.writeCatalog(); err != nil {
			return fmt.Errorf("writing attribute catalog: %w", err)
		}
	}
	for p, ds := range d.datasets {
		if err := ds.Close(); err != nil {
			return fmt.Errorf("closing dataset %s: %w", p, err)
		}
	}
	d.datasets = nil
	return d.file.Close()
}
