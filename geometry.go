package main

import (
	"fmt"
	"os"
)

type geometry struct {
	Size       uint64
	SectorSize uint32 // 0 when unknown
	Device     bool
}

// deviceGeometry returns the byte length and logical sector size of f.
// Regular files report sector size 0.
func deviceGeometry(f *os.File) (geometry, error) {
	fi, err := f.Stat()
	if err != nil {
		return geometry{}, fmt.Errorf("stat %s: %w", f.Name(), err)
	}
	if fi.Mode().IsRegular() {
		return geometry{Size: uint64(fi.Size())}, nil
	}
	size, ss, err := blockDeviceGeometry(f)
	if err != nil {
		return geometry{}, err
	}
	return geometry{Size: size, SectorSize: ss, Device: true}, nil
}

// blockFile is the handle handed to the pass driver. For block devices
// Sync also drops cached pages so that the verify pass reads the medium.
type blockFile struct {
	*os.File
	device bool
}

func (b blockFile) Sync() error {
	if err := b.File.Sync(); err != nil {
		return err
	}
	if !b.device {
		return nil
	}
	return dropCache(b.File)
}
