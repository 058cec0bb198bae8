// Package pool computes the number of workers to spawn, either from an
// explicit override or from memory/CPU estimates and limits.
package pool

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// MemoryFraction is the fraction of total physical memory used as the
// default memory_limit, ported from the original implementation's
// psutil.virtual_memory().total * .9.
const MemoryFraction = 0.9

// Options configures Size.
type Options struct {
	// Override, when non-nil, is used verbatim as the worker count.
	Override *int
	// MemoryEstimate is the assumed per-worker memory footprint, in bytes.
	MemoryEstimate uint64
	// CPUEstimate is the assumed per-worker core count.
	CPUEstimate float64
	// MemoryLimit overrides the default memory budget (MemoryFraction of
	// total RAM) when non-zero.
	MemoryLimit uint64
	// CPULimit overrides the default CPU budget (runtime.NumCPU()) when
	// non-zero.
	CPULimit float64
}

// Size computes n = max(1, min(round(memory_limit/memory_estimate),
// round(cpu_limit/cpu_estimate))), or returns Override directly if set.
func Size(opts Options) (int, error) {
	if opts.Override != nil {
		if *opts.Override < 1 {
			return 1, nil
		}
		return *opts.Override, nil
	}

	memoryLimit := opts.MemoryLimit
	if memoryLimit == 0 {
		total, err := TotalMemory()
		if err != nil {
			return 0, err
		}
		memoryLimit = uint64(float64(total) * MemoryFraction)
	}

	cpuLimit := opts.CPULimit
	if cpuLimit == 0 {
		cpuLimit = float64(runtime.NumCPU())
	}

	memoryEstimate := opts.MemoryEstimate
	if memoryEstimate == 0 {
		memoryEstimate = 1
	}
	cpuEstimate := opts.CPUEstimate
	if cpuEstimate == 0 {
		cpuEstimate = 1
	}

	byMemory := roundDiv(float64(memoryLimit), float64(memoryEstimate))
	byCPU := roundDiv(cpuLimit, cpuEstimate)

	n := byMemory
	if byCPU < n {
		n = byCPU
	}
	if n < 1 {
		n = 1
	}
	return n, nil
}

func roundDiv(numerator, denominator float64) int {
	if denominator == 0 {
		return 1
	}
	v := numerator / denominator
	// round half up for our always-positive inputs: an exact .5 always
	// rounds up (unlike Python 3's round(), which rounds 2.5 to 2).
	return int(v + 0.5)
}

// TotalMemory returns total physical memory in bytes, via
// golang.org/x/sys/unix.Sysinfo -- the Go equivalent of the original
// implementation's os.sysconf(SC_PAGE_SIZE) * SC_PHYS_PAGES fallback path
// (used here unconditionally, since multirunner has no optional psutil
// dependency to prefer instead).
func TotalMemory() (uint64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	return uint64(info.Totalram) * uint64(info.Unit), nil
}
