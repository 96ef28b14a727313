package device

import "github.com/klauspost/cpuid/v2"

// HostInfo describes the host CPU backing the cpu:0 device
type HostInfo struct {
	Brand          string
	PhysicalCores  int
	LogicalCores   int
	VectorWidth    int // usable SIMD width in float32 lanes
	HasAVX2        bool
	HasAVX512      bool
}

// Probe inspects the host CPU once per call
func Probe() HostInfo {
	info := HostInfo{
		Brand:         cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		VectorWidth:   4, // SSE baseline
		HasAVX2:       cpuid.CPU.Supports(cpuid.AVX2),
		HasAVX512:     cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ),
	}
	if info.HasAVX2 {
		info.VectorWidth = 8
	}
	if info.HasAVX512 {
		info.VectorWidth = 16
	}
	return info
}
