// Package hdf is an append-oriented writer for hierarchical, chunked
// N-dimensional datasets. Files hold groups, groups hold groups and
// datasets, and every object can carry attributes.
//
// Datasets are created lazily on their first write, so capacity, chunk
// sizes, compression and attributes can be configured up front. Storage is
// delegated to a Driver: HDF5 (build tag hdf5), SQLite or memory.
package hdf

import (
	"errors"
	"math"
	"path"
	"strings"
)

// Unlimited marks an axis without a maximum size.
const Unlimited uint64 = math.MaxUint64

// chunkTarget is the approximate chunk size in bytes chosen when no chunk
// sizes are configured.
const chunkTarget = 64 * 1024

var (
	// ErrCapacity is returned when a write or resize exceeds a capacity.
	ErrCapacity = errors.New("capacity exceeded")
	// ErrRank is returned for shapes that do not match a dataset's rank.
	ErrRank = errors.New("incompatible rank")
	// ErrType is returned when data or attribute types do not match.
	ErrType = errors.New("incompatible type")
	// ErrCreated is returned when layout settings change after creation.
	ErrCreated = errors.New("dataset already created")
	// ErrClosed is returned for operations on closed files or datasets.
	ErrClosed = errors.New("object is closed")
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrUnsupported is returned for features a driver cannot provide.
	ErrUnsupported = errors.New("unsupported")
)

// ObjectType distinguishes the nodes of the object tree.
type ObjectType int

const (
	ObjectNone ObjectType = iota
	ObjectGroup
	ObjectDataset
)

// Layout describes a dataset's storage.
type Layout struct {
	Kind        Kind
	Extent      []uint64
	Capacity    []uint64
	Chunks      []uint64
	Compression int
}

// Driver persists the object tree. Paths are absolute and slash separated;
// the root group "/" always exists.
type Driver interface {
	CreateGroup(path string) error
	CreateDataset(path string, l Layout) error
	Resize(path string, extent []uint64) error
	WriteBlock(path string, offset []uint64, b *Block) error
	WriteAttribute(path string, a Attribute) error

	Stat(path string) (ObjectType, error)
	Layout(path string) (Layout, error)
	ReadAll(path string) (*Block, error)
	Attributes(path string) ([]Attribute, error)
	Children(path string) ([]string, error)

	Flush() error
	Close() error
}

func joinPath(parent, name string) string {
	return path.Join("/", parent, name)
}

func splitPath(p string) []string {
	var out []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Lookup returns the value of the named attribute.
func Lookup(attrs []Attribute, name string) (Value, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// setAttribute replaces an attribute of the same name in place or appends.
func setAttribute(attrs []Attribute, a Attribute) []Attribute {
	for i := range attrs {
		if attrs[i].Name == a.Name {
			attrs[i] = a
			return attrs
		}
	}
	return append(attrs, a)
}
