package model

import (
	"fmt"

	"gridsim/internal/datamanager"
	"gridsim/internal/grid"
	"gridsim/internal/hdf"
	"gridsim/internal/manager"
)

// CreateTimeSeries opens a dataset in the model group with one row per
// write. With n > 0 every row holds n values along a trailing axis named
// dimName, whose coordinates are ids 0..n-1; with n == 0 every row is a
// single value. The dataset is closed at the model's epilog.
func (b *Base) CreateTimeSeries(name string, n int, dimName string) (*hdf.Dataset, error) {
	ds, err := b.group.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("creating time series '%s' of model '%s': %w", name, b.path, err)
	}
	if err := b.describeSeries(ds, n, dimName); err != nil {
		return nil, err
	}
	b.datasets = append(b.datasets, ds)
	return ds, nil
}

// CreateGridSeries is CreateTimeSeries over the cells of g. The dataset
// additionally describes the grid so that rows can be reshaped: cell ids
// are in column-major (F) order of grid_shape.
func (b *Base) CreateGridSeries(name string, g grid.Grid) (*hdf.Dataset, error) {
	ds, err := b.CreateTimeSeries(name, g.NumCells(), "ids")
	if err != nil {
		return nil, err
	}
	if err := describeGrid(ds, g); err != nil {
		return nil, err
	}
	return ds, nil
}

func (b *Base) describeSeries(ds *hdf.Dataset, n int, dimName string) error {
	capacity := []uint64{hdf.Unlimited}
	dims := []string{"time"}
	if n > 0 {
		capacity = append(capacity, uint64(n))
		dims = append(dims, dimName)
	}
	if err := ds.SetCapacity(capacity); err != nil {
		return err
	}
	attrs := []hdf.Attribute{
		{Name: "dim_names", Value: hdf.Strings(dims)},
		{Name: "coords_mode__time", Value: hdf.Text("start_and_step")},
		{Name: "coords__time", Value: hdf.Uints{b.writeStart, b.writeEvery}},
	}
	if n > 0 {
		ids := make(hdf.Ints, n)
		for i := range ids {
			ids[i] = int64(i)
		}
		attrs = append(attrs,
			hdf.Attribute{Name: "coords_mode__" + dimName, Value: hdf.Text("values")},
			hdf.Attribute{Name: "coords__" + dimName, Value: ids})
	}
	return addAttributes(ds, attrs)
}

func describeGrid(ds *hdf.Dataset, g grid.Grid) error {
	shape := make(hdf.Ints, len(g.Shape()))
	for i, s := range g.Shape() {
		shape[i] = int64(s)
	}
	return addAttributes(ds, []hdf.Attribute{
		{Name: "content", Value: hdf.Text("grid")},
		{Name: "grid_shape", Value: shape},
		{Name: "grid_structure", Value: hdf.Text(string(g.Structure()))},
		{Name: "index_order", Value: hdf.Text("F")},
		{Name: "num_cells", Value: hdf.Int(g.NumCells())},
		{Name: "space_extent", Value: hdf.Floats(g.Space().Extent)},
		{Name: "space_periodic", Value: hdf.Bool(g.Space().Periodic)},
	})
}

func addAttributes(ds *hdf.Dataset, attrs []hdf.Attribute) error {
	for _, a := range attrs {
		if err := ds.AddAttribute(a.Name, a.Value); err != nil {
			return err
		}
	}
	return nil
}

// SeriesTask returns a data manager task that appends the values returned
// by f as one row per write. n and dimName are as in CreateTimeSeries; with
// n == 0 f must return a single value. The dataset is opened in the task's
// base group and honors the task's chunksize and compression.
func SeriesTask[T hdf.Element](b *Base, name string, n int, dimName string, f func() []T) *datamanager.Task {
	t := &datamanager.Task{Name: name}
	t.BuildDataset = func(src datamanager.Source, base *hdf.Group) (*hdf.Dataset, error) {
		ds, _, err := b.taskDataset(t, src, base, n, dimName)
		return ds, err
	}
	t.WriteData = func(_ datamanager.Source, ds *hdf.Dataset) error {
		return hdf.Write(ds, f())
	}
	return t
}

// GridTask returns a data manager task that appends f of every cell as one
// row per write. The dataset carries the attributes of CreateGridSeries.
func GridTask[S any, T hdf.Element](b *Base, name string, cm *manager.CellManager[S], f func(*manager.Cell[S]) T) *datamanager.Task {
	t := GridBlockTask(b, name, cm, nil)
	t.WriteData = func(_ datamanager.Source, ds *hdf.Dataset) error {
		return hdf.WriteFunc(ds, cm.Cells(), f)
	}
	return t
}

// GridBlockTask is GridTask for models that assemble the row themselves,
// e.g. to choose the element kind at run time. An error from f fails the
// write.
func GridBlockTask[S any](b *Base, name string, cm *manager.CellManager[S], f func() (*hdf.Block, error)) *datamanager.Task {
	g := cm.Grid()
	t := &datamanager.Task{Name: name}
	t.BuildDataset = func(src datamanager.Source, base *hdf.Group) (*hdf.Dataset, error) {
		ds, fresh, err := b.taskDataset(t, src, base, g.NumCells(), "ids")
		if err != nil || !fresh {
			return ds, err
		}
		return ds, describeGrid(ds, g)
	}
	if f != nil {
		t.WriteData = func(_ datamanager.Source, ds *hdf.Dataset) error {
			blk, err := f()
			if err != nil {
				return err
			}
			return hdf.WriteBlock(ds, blk)
		}
	}
	return t
}

// taskDataset opens the dataset of t for the current time. A dataset that
// already exists in the file is reopened for appending as it is; fresh
// reports whether it was described here.
func (b *Base) taskDataset(t *datamanager.Task, src datamanager.Source, base *hdf.Group, n int, dimName string) (ds *hdf.Dataset, fresh bool, err error) {
	ds, err = base.OpenDataset(t.DatasetName(src.Time()))
	if err != nil {
		return nil, false, err
	}
	if ds.IsCreated() {
		return ds, false, nil
	}
	if err := b.describeSeries(ds, n, dimName); err != nil {
		return nil, false, err
	}
	if t.Chunksize != nil {
		if err := ds.SetChunksize(t.Chunksize); err != nil {
			return nil, false, err
		}
	}
	if t.Compression > 0 {
		if err := ds.SetCompression(t.Compression); err != nil {
			return nil, false, err
		}
	}
	return ds, true, nil
}
