//go:build linux

package compute

import "golang.org/x/sys/unix"

func systemMemory() MemoryInfo {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return defaultMemory
	}

	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	return MemoryInfo{
		Total:     uint64(info.Totalram) * unit,
		Available: (uint64(info.Freeram) + uint64(info.Bufferram)) * unit,
	}
}
