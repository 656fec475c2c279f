package hdf

import (
	"fmt"
	"path"
	"slices"
)

// Dataset is a handle on an N-dimensional dataset. The storage object is
// created on the first write; until then capacity, chunk sizes and
// compression may be configured and attributes are buffered.
type Dataset struct {
	file *File
	path string

	kind        Kind
	capacity    []uint64
	chunks      []uint64
	compression int

	space   *Dataspace
	offset  []uint64
	created bool
	closed  bool
	attrs   []Attribute
}

func (d *Dataset) Path() string          { return d.path }
func (d *Dataset) Name() string          { return path.Base(d.path) }
func (d *Dataset) Kind() Kind            { return d.kind }
func (d *Dataset) IsCreated() bool       { return d.created }
func (d *Dataset) Capacity() []uint64    { return slices.Clone(d.capacity) }
func (d *Dataset) Chunks() []uint64      { return slices.Clone(d.chunks) }
func (d *Dataset) Offset() []uint64      { return slices.Clone(d.offset) }
func (d *Dataset) Dataspace() *Dataspace { return d.space }

// Rank returns the dataset rank, or 0 while it is unknown.
func (d *Dataset) Rank() int { return len(d.capacity) }

// Extent returns the current size of the dataset.
func (d *Dataset) Extent() []uint64 {
	if d.space == nil {
		return nil
	}
	return d.space.Size()
}

// SetCapacity sets the maximum size per axis; Unlimited marks growable
// axes. It also fixes the rank.
func (d *Dataset) SetCapacity(capacity []uint64) error {
	if d.created {
		return fmt.Errorf("%w: Cannot set capacity after dataset has been created", ErrCreated)
	}
	if len(capacity) == 0 {
		return fmt.Errorf("%w: capacity needs at least one axis", ErrRank)
	}
	if d.chunks != nil && len(d.chunks) != len(capacity) {
		return fmt.Errorf("%w: Chunksizes size has to be equal to dataset rank", ErrRank)
	}
	d.capacity = slices.Clone(capacity)
	return nil
}

// SetChunksize sets the chunk shape used when the dataset is created.
func (d *Dataset) SetChunksize(chunks []uint64) error {
	if d.created {
		return fmt.Errorf("%w: Cannot set chunksize after dataset has been created", ErrCreated)
	}
	if d.capacity != nil && len(chunks) != len(d.capacity) {
		return fmt.Errorf("%w: Chunksizes size has to be equal to dataset rank", ErrRank)
	}
	for i, c := range chunks {
		if c == 0 {
			return fmt.Errorf("%w: chunk size on axis %d must be positive", ErrRank, i)
		}
	}
	d.chunks = slices.Clone(chunks)
	return nil
}

// SetCompression sets the deflate level (0 to 9) used on creation.
func (d *Dataset) SetCompression(level int) error {
	if d.created {
		return fmt.Errorf("%w: Cannot set compression level after dataset has been created", ErrCreated)
	}
	if level < 0 || level > 9 {
		return fmt.Errorf("%w: compression level %d is not in [0, 9]", ErrType, level)
	}
	d.compression = level
	return nil
}

// AddAttribute attaches an attribute. Before creation it is buffered and
// written, in insertion order, when the dataset is created.
func (d *Dataset) AddAttribute(name string, v any) error {
	if d.closed {
		return fmt.Errorf("%w: dataset %s", ErrClosed, d.path)
	}
	val, err := ValueOf(v)
	if err != nil {
		return fmt.Errorf("attribute %q of %s: %w", name, d.path, err)
	}
	a := Attribute{Name: name, Value: val}
	if !d.created {
		d.attrs = setAttribute(d.attrs, a)
		return nil
	}
	return d.file.drv.WriteAttribute(d.path, a)
}

// Attributes returns the stored attributes, or the buffer before creation.
func (d *Dataset) Attributes() ([]Attribute, error) {
	if !d.created {
		return slices.Clone(d.attrs), nil
	}
	return d.file.drv.Attributes(d.path)
}

// Close flushes buffered attributes and invalidates the handle. Attributes
// of a dataset that was never written are discarded.
func (d *Dataset) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.file.forget(d)
	if !d.created && len(d.attrs) > 0 {
		d.file.log.Debug("discarding attributes of unwritten dataset", "path", d.path, "num_attributes", len(d.attrs))
	}
	d.attrs = nil
	return nil
}

// load fills the handle from an existing storage object.
func (d *Dataset) load() error {
	l, err := d.file.drv.Layout(d.path)
	if err != nil {
		return err
	}
	d.kind, d.capacity, d.chunks, d.compression = l.Kind, l.Capacity, l.Chunks, l.Compression
	d.space, err = NewDataspace(l.Extent, l.Capacity)
	if err != nil {
		return err
	}
	d.offset = make([]uint64, len(l.Extent))
	d.offset[0] = l.Extent[0]
	d.created = true
	return nil
}

// create materializes the dataset for a first block of the given shape.
func (d *Dataset) create(kind Kind, shape []uint64) error {
	if d.capacity == nil {
		rank := max(len(shape), 1)
		d.capacity = make([]uint64, rank)
		for i := range d.capacity {
			d.capacity[i] = Unlimited
		}
	}
	if d.chunks != nil && len(d.chunks) != len(d.capacity) {
		return fmt.Errorf("%w: Chunksizes size has to be equal to dataset rank", ErrRank)
	}
	rank := len(d.capacity)
	extent := make([]uint64, rank)
	for i := 1; i < rank; i++ {
		if d.capacity[i] != Unlimited {
			extent[i] = d.capacity[i]
		}
	}
	var err error
	d.space, err = NewDataspace(extent, d.capacity)
	if err != nil {
		return err
	}
	if d.chunks == nil {
		d.chunks = guessChunks(kind, d.capacity, normalizeShape(shape, rank))
	}
	d.kind = kind
	d.offset = make([]uint64, rank)

	l := Layout{Kind: kind, Extent: extent, Capacity: d.capacity, Chunks: d.chunks, Compression: d.compression}
	if err := d.file.ensureParents(d.path); err != nil {
		return err
	}
	if err := d.file.drv.CreateDataset(d.path, l); err != nil {
		return fmt.Errorf("creating dataset %s: %w", d.path, err)
	}
	d.created = true
	d.file.log.Debug("dataset created", "path", d.path, "kind", kind,
		"capacity", dimsString(d.capacity), "chunks", d.chunks, "compression", d.compression)
	for _, a := range d.attrs {
		if err := d.file.drv.WriteAttribute(d.path, a); err != nil {
			return fmt.Errorf("flushing attribute %q of %s: %w", a.Name, d.path, err)
		}
	}
	d.attrs = nil
	return nil
}

// normalizeShape prepends unit axes so that shape has the given rank.
func normalizeShape(shape []uint64, rank int) []uint64 {
	if len(shape) >= rank {
		return slices.Clone(shape)
	}
	out := make([]uint64, rank-len(shape), rank)
	for i := range out {
		out[i] = 1
	}
	return append(out, shape...)
}

// guessChunks keeps trailing axes whole and sizes the leading axis so that
// a chunk holds about chunkTarget bytes.
func guessChunks(kind Kind, capacity, first []uint64) []uint64 {
	rank := len(capacity)
	chunks := make([]uint64, rank)
	row := uint64(kind.Size())
	for i := 1; i < rank; i++ {
		c := max(first[i], 1)
		if capacity[i] != Unlimited {
			c = max(capacity[i], 1)
		}
		chunks[i] = c
		row *= c
	}
	lead := max(uint64(chunkTarget)/row, 1)
	if capacity[0] != Unlimited {
		lead = min(lead, max(capacity[0], 1))
	}
	chunks[0] = lead
	return chunks
}

// write stores b. Without an explicit offset the block is appended along
// the leading axis; a block of lower rank than the dataset extends the
// leading axis by one and fills the trailing axes.
func (d *Dataset) write(b *Block, at []uint64) error {
	if d.closed {
		return fmt.Errorf("%w: dataset %s", ErrClosed, d.path)
	}
	if d.file.closed {
		return fmt.Errorf("%w: file %s", ErrClosed, d.file.path)
	}
	if !d.created {
		if err := d.create(b.Kind, b.Shape); err != nil {
			return err
		}
	} else if b.Kind.family() != d.kind.family() {
		return fmt.Errorf("%w: cannot write %s data into %s dataset %s", ErrType, b.Kind, d.kind, d.path)
	}

	rank := d.Rank()
	if len(b.Shape) > rank {
		return fmt.Errorf("%w: cannot write rank %d data into rank %d dataset %s", ErrRank, len(b.Shape), rank, d.path)
	}
	shape := normalizeShape(b.Shape, rank)
	extent := d.space.Size()

	var offset []uint64
	if at != nil {
		if len(at) != rank {
			return fmt.Errorf("%w: offset %v does not match rank %d", ErrRank, at, rank)
		}
		offset = slices.Clone(at)
	} else {
		offset = make([]uint64, rank)
		offset[0] = extent[0]
	}

	newExtent := slices.Clone(extent)
	for i := range newExtent {
		newExtent[i] = max(newExtent[i], offset[i]+shape[i])
	}
	if !slices.Equal(newExtent, extent) {
		if err := d.space.Resize(newExtent); err != nil {
			return fmt.Errorf("writing to %s: %w", d.path, err)
		}
		if err := d.file.drv.Resize(d.path, newExtent); err != nil {
			return err
		}
	}
	block := &Block{Kind: b.Kind, Shape: shape, Ints: b.Ints, Uints: b.Uints, Floats: b.Floats, Strs: b.Strs}
	if err := d.file.drv.WriteBlock(d.path, offset, block); err != nil {
		return fmt.Errorf("writing to %s: %w", d.path, err)
	}
	for i := range d.offset {
		d.offset[i] = 0
	}
	d.offset[0] = offset[0] + shape[0]
	return nil
}

// Write appends a sequence of values.
func Write[T Element](d *Dataset, xs []T) error {
	b, err := blockOf(xs, []uint64{uint64(len(xs))})
	if err != nil {
		return err
	}
	return d.write(b, nil)
}

// WriteND appends a row-major block of the given shape.
func WriteND[T Element](d *Dataset, xs []T, shape []uint64) error {
	b, err := blockOf(xs, shape)
	if err != nil {
		return err
	}
	return d.write(b, nil)
}

// WriteAt writes a row-major block at an explicit offset, growing the
// extent where needed.
func WriteAt[T Element](d *Dataset, xs []T, shape, offset []uint64) error {
	b, err := blockOf(xs, shape)
	if err != nil {
		return err
	}
	return d.write(b, offset)
}

// WriteScalar appends a single value.
func WriteScalar[T Element](d *Dataset, x T) error {
	b, err := blockOf([]T{x}, nil)
	if err != nil {
		return err
	}
	return d.write(b, nil)
}

// WriteFunc appends one value per element of src, projected through f.
func WriteFunc[E any, T Element](d *Dataset, src []E, f func(E) T) error {
	xs := make([]T, len(src))
	for i, e := range src {
		xs[i] = f(e)
	}
	return Write(d, xs)
}

// WriteBlock appends an already assembled block.
func WriteBlock(d *Dataset, b *Block) error {
	if !b.Kind.valid() || uint64(b.Len()) != numElements(b.Shape) {
		return fmt.Errorf("%w: malformed block of kind %q and shape %v", ErrType, b.Kind, b.Shape)
	}
	return d.write(b, nil)
}

// Read returns the whole dataset converted to T together with its shape.
func Read[T Element](d *Dataset) ([]T, []uint64, error) {
	if !d.created {
		return nil, nil, fmt.Errorf("%w: dataset %s has not been written", ErrNotFound, d.path)
	}
	b, err := d.file.drv.ReadAll(d.path)
	if err != nil {
		return nil, nil, err
	}
	xs, err := Slice[T](b)
	if err != nil {
		return nil, nil, err
	}
	return xs, b.Shape, nil
}

// ReadFloat64 reads a numeric dataset as float64 values.
func ReadFloat64(d *Dataset) ([]float64, []uint64, error) {
	return Read[float64](d)
}

func dimsString(dims []uint64) []string {
	out := make([]string, len(dims))
	for i, d := range dims {
		out[i] = dimString(d)
	}
	return out
}
