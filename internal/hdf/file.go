package hdf

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gridsim/internal/logging"
)

// Format selects the storage driver of a file.
type Format string

const (
	FormatAuto   Format = "auto"
	FormatHDF5   Format = "hdf5"
	FormatSQLite Format = "sqlite"
	FormatMemory Format = "memory"
)

var (
	sqliteMagic = []byte("SQLite format 3\x00")
	hdf5Magic   = []byte("\x89HDF\r\n\x1a\n")
)

// FormatFromString parses a format name; the empty string means auto.
func FormatFromString(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatHDF5, FormatSQLite, FormatMemory:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown output format %q (use auto, hdf5, sqlite or memory)", ErrUnsupported, s)
}

// File is the root of an object tree backed by a Driver. A File is owned by
// a single model tree and is not safe for concurrent use.
type File struct {
	path   string
	format Format
	drv    Driver
	log    *slog.Logger

	open   map[*Dataset]struct{}
	closed bool
}

// Create creates a new file at path, replacing an existing one. Missing
// directories are created.
func Create(path string, format Format, log *slog.Logger) (*File, error) {
	if log == nil {
		log = logging.Discard()
	}
	if format == FormatMemory {
		return NewMemory(log), nil
	}
	if format == "" || format == FormatAuto {
		format = FormatHDF5
		if !hdf5Available {
			format = FormatSQLite
			if ext := filepath.Ext(path); ext != ".sqlite" {
				log.Warn("HDF5 support not compiled in, writing SQLite container instead",
					"requested", path, "build_tag", "hdf5")
				path = strings.TrimSuffix(path, ext) + ".sqlite"
			}
		}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
	}

	var drv Driver
	var err error
	switch format {
	case FormatHDF5:
		drv, err = newHDF5Driver(path, true)
	case FormatSQLite:
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("removing stale output %s: %w", path+suffix, err)
			}
		}
		drv, err = newSQLiteDriver(path)
	default:
		return nil, fmt.Errorf("%w: output format %q", ErrUnsupported, format)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s file %s: %w", format, path, err)
	}
	log.Debug("output file created", "path", path, "format", format)
	return newFile(path, format, drv, log), nil
}

// Open opens an existing file. The driver is chosen by extension, falling
// back to the file's magic bytes.
func Open(path string) (*File, error) {
	format, err := sniff(path)
	if err != nil {
		return nil, err
	}
	var drv Driver
	switch format {
	case FormatHDF5:
		drv, err = newHDF5Driver(path, false)
	default:
		drv, err = openSQLiteDriver(path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return newFile(path, format, drv, logging.Discard()), nil
}

func sniff(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sqlite", ".db":
		return FormatSQLite, nil
	case ".h5", ".hdf5", ".hdf":
		return FormatHDF5, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	head := make([]byte, 16)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, sqliteMagic):
		return FormatSQLite, nil
	case bytes.HasPrefix(head, hdf5Magic):
		return FormatHDF5, nil
	}
	return "", fmt.Errorf("%w: %s is neither an HDF5 nor a SQLite file", ErrUnsupported, path)
}

// NewMemory returns a file held entirely in memory.
func NewMemory(log *slog.Logger) *File {
	if log == nil {
		log = logging.Discard()
	}
	return newFile(":memory:", FormatMemory, newMemoryDriver(), log)
}

func newFile(path string, format Format, drv Driver, log *slog.Logger) *File {
	return &File{path: path, format: format, drv: drv, log: log, open: make(map[*Dataset]struct{})}
}

func (f *File) Path() string   { return f.path }
func (f *File) Format() Format { return f.format }

// Root returns the root group.
func (f *File) Root() *Group { return &Group{file: f, path: "/"} }

// OpenGroup opens a group relative to the root.
func (f *File) OpenGroup(name string) (*Group, error) { return f.Root().OpenGroup(name) }

// OpenDataset opens a dataset relative to the root.
func (f *File) OpenDataset(name string) (*Dataset, error) { return f.Root().OpenDataset(name) }

// Flush persists pending writes.
func (f *File) Flush() error {
	if err := f.check(); err != nil {
		return err
	}
	return f.drv.Flush()
}

// Close closes all open datasets and the underlying storage.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	for d := range f.open {
		_ = d.Close()
	}
	f.closed = true
	if err := f.drv.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", f.path, err)
	}
	f.log.Debug("output file closed", "path", f.path)
	return nil
}

func (f *File) check() error {
	if f.closed {
		return fmt.Errorf("%w: file %s", ErrClosed, f.path)
	}
	return nil
}

func (f *File) track(d *Dataset)  { f.open[d] = struct{}{} }
func (f *File) forget(d *Dataset) { delete(f.open, d) }

// ensureGroup creates p and its missing ancestors as groups.
func (f *File) ensureGroup(p string) error {
	cur := "/"
	for _, part := range splitPath(p) {
		cur = joinPath(cur, part)
		typ, err := f.drv.Stat(cur)
		if err != nil {
			return err
		}
		switch typ {
		case ObjectNone:
			if err := f.drv.CreateGroup(cur); err != nil {
				return fmt.Errorf("creating group %s: %w", cur, err)
			}
		case ObjectDataset:
			return fmt.Errorf("%w: %s is a dataset, not a group", ErrType, cur)
		}
	}
	return nil
}

// ensureParents creates the groups above the object at p.
func (f *File) ensureParents(p string) error {
	parts := splitPath(p)
	if len(parts) <= 1 {
		return nil
	}
	return f.ensureGroup("/" + strings.Join(parts[:len(parts)-1], "/"))
}
