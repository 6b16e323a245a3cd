package compute

// defaultMemory is assumed when the platform cannot be probed
var defaultMemory = MemoryInfo{
	Total:     4 << 30,
	Available: 2 << 30,
}

// FixedMemory returns a probe reporting constant values
func FixedMemory(total, available uint64) func() MemoryInfo {
	return func() MemoryInfo {
		return MemoryInfo{Total: total, Available: available}
	}
}
