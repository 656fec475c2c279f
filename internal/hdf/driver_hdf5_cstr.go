//go:build hdf5

package hdf

// #include <stdlib.h>
import "C"

import "unsafe"

// cStrings copies xs into NUL terminated C strings, the memory layout of
// variable-length HDF5 strings. The returned value is passed to the write
// calls of the bindings; release frees the copies.
func cStrings(xs []string) (data any, release func()) {
	ptrs := make([]*C.char, len(xs))
	for i, x := range xs {
		ptrs[i] = C.CString(x)
	}
	return &ptrs, func() {
		for _, p := range ptrs {
			C.free(unsafe.Pointer(p))
		}
	}
}

// readCStrings reads n variable-length strings through read and frees the
// buffers the library allocated for them.
func readCStrings(n int, read func(data any) error) ([]string, error) {
	ptrs := make([]*C.char, n)
	if err := read(&ptrs); err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i, p := range ptrs {
		if p == nil {
			continue
		}
		out[i] = C.GoString(p)
		C.free(unsafe.Pointer(p))
	}
	return out, nil
}
