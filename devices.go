package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// deviceInfo is one candidate node under /dev.
type deviceInfo struct {
	Path       string
	Compatible bool
	Reason     string
	Size       uint64
	SectorSize uint32
	MountedAt  string
}

func discoverDevices(dir string) ([]deviceInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var infos []deviceInfo
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(dir, name)
		switch runtime.GOOS {
		case "darwin":
			// rdiskN duplicates diskN
			if !strings.HasPrefix(name, "disk") {
				continue
			}
			if isPartitionDarwin(name) {
				infos = append(infos, deviceInfo{Path: path, Reason: "partition"})
			} else {
				infos = append(infos, deviceInfo{Path: path, Compatible: true})
			}
		case "linux":
			switch {
			case isWholeLinuxDevice(name):
				infos = append(infos, deviceInfo{Path: path, Compatible: true})
			case isPartitionLinux(name):
				infos = append(infos, deviceInfo{Path: path, Reason: "partition"})
			case strings.HasPrefix(name, "loop"):
				infos = append(infos, deviceInfo{Path: path, Reason: "loop device"})
			}
		default:
			return nil, fmt.Errorf("device discovery is not supported on %s", runtime.GOOS)
		}
	}
	return infos, nil
}

func isPartitionDarwin(name string) bool {
	// diskNsM
	rest := strings.TrimPrefix(name, "disk")
	for i := 0; i+1 < len(rest); i++ {
		if rest[i] == 's' && rest[i+1] >= '0' && rest[i+1] <= '9' {
			return true
		}
	}
	return false
}

func isWholeLinuxDevice(name string) bool {
	// sdX, vdX, xvdX
	for _, p := range []string{"sd", "vd", "xvd"} {
		if rest, ok := strings.CutPrefix(name, p); ok && len(rest) == 1 && rest[0] >= 'a' && rest[0] <= 'z' {
			return true
		}
	}
	// nvmeXnY
	if strings.HasPrefix(name, "nvme") && !strings.Contains(name, "p") {
		parts := strings.Split(strings.TrimPrefix(name, "nvme"), "n")
		return len(parts) == 2 && isDigits(parts[0]) && isDigits(parts[1])
	}
	// mmcblkX
	if rest, ok := strings.CutPrefix(name, "mmcblk"); ok {
		return isDigits(rest)
	}
	return false
}

func isPartitionLinux(name string) bool {
	// sdXN, vdXN
	for _, p := range []string{"sd", "vd", "xvd"} {
		if rest, ok := strings.CutPrefix(name, p); ok && len(rest) >= 2 && rest[0] >= 'a' && rest[0] <= 'z' {
			return isDigits(rest[1:])
		}
	}
	// nvmeXnYpZ, mmcblkXpZ
	if strings.HasPrefix(name, "nvme") || strings.HasPrefix(name, "mmcblk") {
		if i := strings.LastIndexByte(name, 'p'); i > 0 {
			return isDigits(name[i+1:])
		}
	}
	return false
}

func isDigits(s string) bool {
	return s != "" && strings.Trim(s, "0123456789") == ""
}

// probeDevices fills in size and mount details. Devices that cannot be
// opened keep a zero size.
func probeDevices(infos []deviceInfo, vols []mountedVol) {
	for i := range infos {
		d := &infos[i]
		if v, ok := mountOf(d.Path, vols); ok {
			d.MountedAt = v.MountPoint
		}
		f, err := os.Open(d.Path)
		if err != nil {
			if d.Compatible {
				d.Compatible = false
				d.Reason = "not accessible"
			}
			continue
		}
		if geo, err := deviceGeometry(f); err == nil {
			d.Size, d.SectorSize = geo.Size, geo.SectorSize
		}
		_ = f.Close()
	}
}

func printDevices(w io.Writer, infos []deviceInfo, all bool) {
	fmt.Fprintf(w, "  %-20s  %-8s  %-6s  %-12s  %s\n", "Device", "Size", "Sector", "Status", "Mounted")
	for _, d := range infos {
		if !d.Compatible && !all {
			continue
		}
		status := "ok"
		if !d.Compatible {
			status = d.Reason
		}
		size := "?"
		if d.Size > 0 {
			size = human(d.Size)
		}
		fmt.Fprintf(w, "  %-20s  %-8s  %-6d  %-12s  %s\n", d.Path, size, d.SectorSize, status, d.MountedAt)
	}
}
