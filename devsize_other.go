//go:build !linux && !darwin

package main

import (
	"io"
	"os"
)

// blockDeviceGeometry falls back to seeking to the end. The sector size is
// unknown.
func blockDeviceGeometry(f *os.File) (uint64, uint32, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, 0, err
	}
	return uint64(size), 0, nil
}

func dropCache(*os.File) error {
	return nil
}
