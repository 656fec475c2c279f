package datamanager

import (
	"fmt"
	"log/slog"
	"strings"

	"gridsim/internal/hdf"
)

// Source is the model whose data is written.
type Source interface {
	Name() string
	Time() uint64
	Group() *hdf.Group
	Logger() *slog.Logger
}

// Task writes one quantity of a model. The layout fields configure the
// datasets built by the default builders; any hook may be replaced.
type Task struct {
	Name string

	BasegroupPath string
	DatasetPath   string
	Capacity      []uint64
	Chunksize     []uint64
	Compression   int

	// BuildBasegroup opens the group datasets are created in. The default
	// opens BasegroupPath below the source's group.
	BuildBasegroup func(src Source) (*hdf.Group, error)
	// BuildDataset opens a new dataset in the base group. The default
	// opens DatasetPath with "$time" replaced by the current time.
	BuildDataset func(src Source, base *hdf.Group) (*hdf.Dataset, error)
	// WriteBasegroupAttributes runs once after the base group is built.
	WriteBasegroupAttributes func(src Source, base *hdf.Group) error
	// WriteDatasetAttributes runs after every dataset is built.
	WriteDatasetAttributes func(src Source, ds *hdf.Dataset) error
	// WriteData writes the current data into the active dataset.
	WriteData func(src Source, ds *hdf.Dataset) error

	base    *hdf.Group
	dataset *hdf.Dataset
}

// Dataset returns the active dataset, or nil before the first one is built.
func (t *Task) Dataset() *hdf.Dataset { return t.dataset }

// Basegroup returns the base group, or nil before it is built.
func (t *Task) Basegroup() *hdf.Group { return t.base }

// DatasetName is the dataset path for a dataset built at time: DatasetPath,
// or the task name when unset, with "$time" replaced.
func (t *Task) DatasetName(time uint64) string {
	p := t.DatasetPath
	if p == "" {
		p = t.Name
	}
	return strings.ReplaceAll(p, "$time", fmt.Sprint(time))
}

// switchDataset builds a new active dataset, closing the previous one.
func (t *Task) switchDataset(src Source) error {
	if t.base == nil {
		build := t.BuildBasegroup
		if build == nil {
			build = t.defaultBasegroup
		}
		base, err := build(src)
		if err != nil {
			return fmt.Errorf("task '%s': building base group: %w", t.Name, err)
		}
		t.base = base
		if t.WriteBasegroupAttributes != nil {
			if err := t.WriteBasegroupAttributes(src, base); err != nil {
				return fmt.Errorf("task '%s': writing base group attributes: %w", t.Name, err)
			}
		}
	}
	if t.dataset != nil {
		if err := t.dataset.Close(); err != nil {
			return err
		}
		t.dataset = nil
	}
	build := t.BuildDataset
	if build == nil {
		build = t.defaultDataset
	}
	ds, err := build(src, t.base)
	if err != nil {
		return fmt.Errorf("task '%s': building dataset: %w", t.Name, err)
	}
	if t.WriteDatasetAttributes != nil {
		if err := t.WriteDatasetAttributes(src, ds); err != nil {
			return fmt.Errorf("task '%s': writing dataset attributes: %w", t.Name, err)
		}
	}
	t.dataset = ds
	return nil
}

func (t *Task) defaultBasegroup(src Source) (*hdf.Group, error) {
	if t.BasegroupPath == "" {
		return src.Group(), nil
	}
	return src.Group().OpenGroup(t.BasegroupPath)
}

func (t *Task) defaultDataset(src Source, base *hdf.Group) (*hdf.Dataset, error) {
	ds, err := base.OpenDataset(t.DatasetName(src.Time()))
	if err != nil {
		return nil, err
	}
	if ds.IsCreated() {
		return ds, nil
	}
	if t.Capacity != nil {
		if err := ds.SetCapacity(t.Capacity); err != nil {
			return nil, err
		}
	}
	if t.Chunksize != nil {
		if err := ds.SetChunksize(t.Chunksize); err != nil {
			return nil, err
		}
	}
	if t.Compression > 0 {
		if err := ds.SetCompression(t.Compression); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func (t *Task) write(src Source) error {
	if t.dataset == nil {
		if err := t.switchDataset(src); err != nil {
			return err
		}
	}
	if t.WriteData == nil {
		return nil
	}
	if err := t.WriteData(src, t.dataset); err != nil {
		return fmt.Errorf("task '%s': writing data at time %d: %w", t.Name, src.Time(), err)
	}
	return nil
}

func (t *Task) close() error {
	if t.dataset == nil {
		return nil
	}
	err := t.dataset.Close()
	t.dataset = nil
	return err
}
