package parallel

import "runtime"

import "github.com/klauspost/cpuid/v2"

// Threads reports how many goroutines a CPU bound fan-out should use: the
// number of physical cores when cpuid can detect them, GOMAXPROCS otherwise,
// never more than GOMAXPROCS.
func Threads() int {
	var n = runtime.GOMAXPROCS(0)
	if cores := cpuid.CPU.PhysicalCores; cores > 0 && cores < n {
		n = cores
	}
	if n < 1 {
		n = 1
	}
	return n
}

// CPU describes the host processor for startup logs.
func CPU() (brand string, physical, logical int) {
	return cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores
}
