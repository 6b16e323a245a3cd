//go:build !linux

package compute

func systemMemory() MemoryInfo {
	return defaultMemory
}
