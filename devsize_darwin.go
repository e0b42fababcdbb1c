//go:build darwin

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	dkiocGetBlockSize  = 0x40046418 // _IOR('d', 24, uint32)
	dkiocGetBlockCount = 0x40086419 // _IOR('d', 25, uint64)
)

func blockDeviceGeometry(f *os.File) (uint64, uint32, error) {
	fd := int(f.Fd())
	bs, err := unix.IoctlGetInt(fd, dkiocGetBlockSize)
	if err != nil {
		return 0, 0, fmt.Errorf("ioctl DKIOCGETBLOCKSIZE on %q: %w", f.Name(), err)
	}
	count, err := unix.IoctlGetInt(fd, dkiocGetBlockCount)
	if err != nil {
		return 0, 0, fmt.Errorf("ioctl DKIOCGETBLOCKCOUNT on %q: %w", f.Name(), err)
	}
	return uint64(bs) * uint64(count), uint32(bs), nil
}

// dropCache is a no-op; raw /dev/rdiskN nodes bypass the buffer cache.
func dropCache(*os.File) error {
	return nil
}
