//go:build !hdf5

package hdf

import "fmt"

const hdf5Available = false

func newHDF5Driver(path string, create bool) (Driver, error) {
	return nil, fmt.Errorf("%w: writing %s needs a build with -tags hdf5", ErrUnsupported, path)
}
