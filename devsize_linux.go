//go:build linux

package main

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

func blockDeviceGeometry(f *os.File) (uint64, uint32, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	runtime.KeepAlive(f)
	if errno != 0 {
		return 0, 0, fmt.Errorf("ioctl BLKGETSIZE64 on %q: %w", f.Name(), errno)
	}

	ss, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET)
	if err != nil {
		return 0, 0, fmt.Errorf("ioctl BLKSSZGET on %q: %w", f.Name(), err)
	}
	return size, uint32(ss), nil
}

// dropCache asks the kernel to forget cached pages of f.
func dropCache(f *os.File) error {
	if err := unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED); err != nil {
		return fmt.Errorf("fadvise %q: %w", f.Name(), err)
	}
	return nil
}
