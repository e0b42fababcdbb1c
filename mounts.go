package main

import (
	"fmt"
	"path/filepath"
	"strings"
)

type mountedVol struct {
	MountPoint string
	Device     string
	FSType     string
}

// mountOf reports the first mounted volume backed by path or one of its
// partitions.
func mountOf(path string, vols []mountedVol) (mountedVol, bool) {
	dev := canonicalDevice(path)
	for _, v := range vols {
		if !strings.HasPrefix(v.Device, "/dev/") {
			continue
		}
		if isSameOrPartition(dev, canonicalDevice(v.Device)) {
			return v, true
		}
	}
	return mountedVol{}, false
}

func canonicalDevice(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		p = r
	}
	p = filepath.Clean(p)
	// /dev/rdiskN is the raw node of /dev/diskN
	if dir, base := filepath.Split(p); strings.HasPrefix(base, "rdisk") {
		p = dir + base[1:]
	}
	return p
}

// isSameOrPartition matches sda/sda1, nvme0n1/nvme0n1p2, mmcblk0/mmcblk0p1
// and disk2/disk2s1.
func isSameOrPartition(whole, dev string) bool {
	if dev == whole {
		return true
	}
	rest, ok := strings.CutPrefix(dev, whole)
	if !ok || rest == "" {
		return false
	}
	// Names ending in a digit need a separator: nvme0n1p1 but not nvme0n10.
	if c := whole[len(whole)-1]; c >= '0' && c <= '9' {
		if rest[0] != 'p' && rest[0] != 's' {
			return false
		}
		rest = rest[1:]
	}
	return isDigits(rest)
}

// checkNotMounted refuses devices with mounted volumes.
func checkNotMounted(path string) error {
	vols, err := listMounts()
	if err != nil {
		return fmt.Errorf("list mounts: %w", err)
	}
	if v, ok := mountOf(path, vols); ok {
		return &ConfigError{Err: fmt.Errorf("%s is mounted at %s (%s); unmount it or pass --force", v.Device, v.MountPoint, v.FSType)}
	}
	return nil
}
