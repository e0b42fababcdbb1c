//go:build darwin

package main

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

func listMounts() ([]mountedVol, error) {
	n, err := unix.Getfsstat(nil, unix.MNT_NOWAIT)
	if err != nil || n <= 0 {
		return nil, err
	}
	buf := make([]unix.Statfs_t, n)
	if _, err := unix.Getfsstat(buf, unix.MNT_NOWAIT); err != nil {
		return nil, err
	}
	out := make([]mountedVol, 0, len(buf))
	for _, st := range buf {
		out = append(out, mountedVol{
			MountPoint: filepath.Clean(cString(st.Mntonname[:])),
			Device:     cString(st.Mntfromname[:]),
			FSType:     cString(st.Fstypename[:]),
		})
	}
	return out, nil
}

func cString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
