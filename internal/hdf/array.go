package hdf

import (
	"fmt"
	"reflect"
	"slices"
)

// Kind is the element type of a dataset.
type Kind string

const (
	Int8    Kind = "int8"
	Int16   Kind = "int16"
	Int32   Kind = "int32"
	Int64   Kind = "int64"
	Uint8   Kind = "uint8"
	Uint16  Kind = "uint16"
	Uint32  Kind = "uint32"
	Uint64  Kind = "uint64"
	Float32 Kind = "float32"
	Float64 Kind = "float64"
	String  Kind = "string"
)

type family int

const (
	signed family = iota
	unsigned
	floating
	text
)

func (k Kind) family() family {
	switch k {
	case Int8, Int16, Int32, Int64:
		return signed
	case Uint8, Uint16, Uint32, Uint64:
		return unsigned
	case Float32, Float64:
		return floating
	default:
		return text
	}
}

// Size returns the element size in bytes; strings count as 16.
func (k Kind) Size() int {
	switch k {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 16
	}
}

func (k Kind) valid() bool {
	switch k {
	case Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64, Float32, Float64, String:
		return true
	}
	return false
}

// Element constrains the Go types that can be written to datasets. Plain
// int and uint are stored as 64 bit values.
type Element interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint |
		~float32 | ~float64 | ~string
}

// KindOf returns the storage kind of T.
func KindOf[T Element]() Kind {
	return kindOfReflect(reflect.TypeFor[T]().Kind())
}

func kindOfReflect(k reflect.Kind) Kind {
	switch k {
	case reflect.Int8:
		return Int8
	case reflect.Int16:
		return Int16
	case reflect.Int32:
		return Int32
	case reflect.Int64, reflect.Int:
		return Int64
	case reflect.Uint8:
		return Uint8
	case reflect.Uint16:
		return Uint16
	case reflect.Uint32:
		return Uint32
	case reflect.Uint64, reflect.Uint:
		return Uint64
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	default:
		return String
	}
}

// SmallestUint returns the smallest unsigned kind that can hold max.
func SmallestUint(max uint64) Kind {
	switch {
	case max <= 1<<8-1:
		return Uint8
	case max <= 1<<16-1:
		return Uint16
	case max <= 1<<32-1:
		return Uint32
	default:
		return Uint64
	}
}

// Block is a dense N-dimensional array in row-major order (last axis
// fastest). Values are widened to 64 bits per family; Kind records the
// declared element type.
type Block struct {
	Kind   Kind
	Shape  []uint64
	Ints   []int64
	Uints  []uint64
	Floats []float64
	Strs   []string
}

func numElements(shape []uint64) uint64 {
	n := uint64(1)
	for _, s := range shape {
		n *= s
	}
	return n
}

// newBlock allocates a block filled with the kind's fill value.
func newBlock(kind Kind, shape []uint64) *Block {
	b := &Block{Kind: kind, Shape: slices.Clone(shape)}
	n := numElements(shape)
	switch kind.family() {
	case signed:
		b.Ints = make([]int64, n)
	case unsigned:
		b.Uints = make([]uint64, n)
	case floating:
		b.Floats = make([]float64, n)
	default:
		b.Strs = make([]string, n)
	}
	return b
}

// blockOf widens xs into a block of the given shape.
func blockOf[T Element](xs []T, shape []uint64) (*Block, error) {
	if numElements(shape) != uint64(len(xs)) {
		return nil, fmt.Errorf("%w: %d values do not fill shape %v", ErrRank, len(xs), shape)
	}
	kind := KindOf[T]()
	b := &Block{Kind: kind, Shape: slices.Clone(shape)}
	rv := reflect.ValueOf(xs)
	switch kind.family() {
	case signed:
		b.Ints = make([]int64, len(xs))
		for i := range xs {
			b.Ints[i] = rv.Index(i).Int()
		}
	case unsigned:
		b.Uints = make([]uint64, len(xs))
		for i := range xs {
			b.Uints[i] = rv.Index(i).Uint()
		}
	case floating:
		b.Floats = make([]float64, len(xs))
		for i := range xs {
			b.Floats[i] = rv.Index(i).Float()
		}
	default:
		b.Strs = make([]string, len(xs))
		for i := range xs {
			b.Strs[i] = rv.Index(i).String()
		}
	}
	return b, nil
}

// Len returns the number of elements.
func (b *Block) Len() int {
	switch b.Kind.family() {
	case signed:
		return len(b.Ints)
	case unsigned:
		return len(b.Uints)
	case floating:
		return len(b.Floats)
	default:
		return len(b.Strs)
	}
}

// Float64At returns element i as float64. Strings yield 0.
func (b *Block) Float64At(i int) float64 {
	switch b.Kind.family() {
	case signed:
		return float64(b.Ints[i])
	case unsigned:
		return float64(b.Uints[i])
	case floating:
		return b.Floats[i]
	}
	return 0
}

// Slice converts the block into a []T.
func Slice[T Element](b *Block) ([]T, error) {
	want := KindOf[T]()
	if (want == String) != (b.Kind == String) {
		return nil, fmt.Errorf("%w: cannot read %s data as %s", ErrType, b.Kind, want)
	}
	out := make([]T, b.Len())
	rv := reflect.ValueOf(out)
	for i := range out {
		el := rv.Index(i)
		switch want.family() {
		case signed:
			switch b.Kind.family() {
			case signed:
				el.SetInt(b.Ints[i])
			case unsigned:
				el.SetInt(int64(b.Uints[i]))
			default:
				el.SetInt(int64(b.Floats[i]))
			}
		case unsigned:
			switch b.Kind.family() {
			case signed:
				el.SetUint(uint64(b.Ints[i]))
			case unsigned:
				el.SetUint(b.Uints[i])
			default:
				el.SetUint(uint64(b.Floats[i]))
			}
		case floating:
			el.SetFloat(b.Float64At(i))
		default:
			el.SetString(b.Strs[i])
		}
	}
	return out, nil
}

// resize returns a block of the new shape holding the overlapping part of
// b. Growing only the leading axis keeps the row-major data as a prefix.
func (b *Block) resize(shape []uint64) *Block {
	if len(shape) == len(b.Shape) && slices.Equal(shape[1:], b.Shape[1:]) {
		n := int(numElements(shape))
		out := &Block{Kind: b.Kind, Shape: slices.Clone(shape)}
		switch b.Kind.family() {
		case signed:
			out.Ints = resizeSlice(b.Ints, n)
		case unsigned:
			out.Uints = resizeSlice(b.Uints, n)
		case floating:
			out.Floats = resizeSlice(b.Floats, n)
		default:
			out.Strs = resizeSlice(b.Strs, n)
		}
		return out
	}
	out := newBlock(b.Kind, shape)
	common := make([]uint64, len(shape))
	for i := range common {
		common[i] = min(shape[i], b.Shape[i])
	}
	// a view of b restricted to the common box
	view := b.sub(common)
	_ = out.paste(view, make([]uint64, len(shape)))
	return out
}

func resizeSlice[T any](xs []T, n int) []T {
	if n <= len(xs) {
		return xs[:n]
	}
	return append(xs, make([]T, n-len(xs))...)
}

// sub copies the box [0, shape) out of b.
func (b *Block) sub(shape []uint64) *Block {
	out := newBlock(b.Kind, shape)
	forEachIndex(shape, func(dst int, midx []uint64) {
		copyElement(out, dst, b, int(flatIndex(b.Shape, midx)))
	})
	return out
}

// paste copies src into b with its origin at offset.
func (b *Block) paste(src *Block, offset []uint64) error {
	if len(offset) != len(b.Shape) || len(src.Shape) != len(b.Shape) {
		return fmt.Errorf("%w: cannot paste rank %d block at offset %v into rank %d block",
			ErrRank, len(src.Shape), offset, len(b.Shape))
	}
	for i := range offset {
		if offset[i]+src.Shape[i] > b.Shape[i] {
			return fmt.Errorf("%w: block of shape %v at offset %v exceeds extent %v",
				ErrCapacity, src.Shape, offset, b.Shape)
		}
	}
	if src.Kind.family() != b.Kind.family() {
		return fmt.Errorf("%w: cannot write %s data into %s storage", ErrType, src.Kind, b.Kind)
	}
	pos := make([]uint64, len(offset))
	forEachIndex(src.Shape, func(s int, midx []uint64) {
		for i := range midx {
			pos[i] = midx[i] + offset[i]
		}
		copyElement(b, int(flatIndex(b.Shape, pos)), src, s)
	})
	return nil
}

func copyElement(dst *Block, i int, src *Block, j int) {
	switch dst.Kind.family() {
	case signed:
		dst.Ints[i] = src.Ints[j]
	case unsigned:
		dst.Uints[i] = src.Uints[j]
	case floating:
		dst.Floats[i] = src.Floats[j]
	default:
		dst.Strs[i] = src.Strs[j]
	}
}

func flatIndex(shape, midx []uint64) uint64 {
	idx := uint64(0)
	for i := range shape {
		idx = idx*shape[i] + midx[i]
	}
	return idx
}

// forEachIndex calls fn for every multi index of shape in row-major order.
func forEachIndex(shape []uint64, fn func(flat int, midx []uint64)) {
	n := numElements(shape)
	if n == 0 {
		return
	}
	midx := make([]uint64, len(shape))
	for flat := 0; uint64(flat) < n; flat++ {
		fn(flat, midx)
		for i := len(shape) - 1; i >= 0; i-- {
			midx[i]++
			if midx[i] < shape[i] {
				break
			}
			midx[i] = 0
		}
	}
}
