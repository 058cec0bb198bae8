// Package stats implements the optional per-worker CPU%/RSS sampler. It
// runs on its own goroutine, tolerates per-sample errors (process
// vanished, permission denied) by skipping that sample, and exposes
// per-PID and pool-aggregated averages.
//
// Its procfs-reading style -- open a known path, parse fixed fields,
// tolerate transient ENOENT by skipping the sample -- is grounded on the
// teacher's internal/jobworker/cgroup package, which reads fixed-shape
// files under /sys/fs/cgroup with the same tolerant idiom this package
// applies to /proc instead.
package stats

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sample is one CPU/memory observation for a PID.
type Sample struct {
	// CPUFraction is instantaneous CPU utilization in [0, numCPU], derived
	// from the delta in utime+stime ticks since the previous sample divided
	// by the wall-clock delta.
	CPUFraction float64
	// RSSBytes is resident set size in bytes.
	RSSBytes uint64
}

// Average is the accumulated mean for one PID across all samples taken.
type Average struct {
	CPUFraction float64
	RSSBytes    float64
}

// Collector accumulates Samples per PID and computes averages, mirroring
// the original implementation's StatsCollector.
type Collector struct {
	clockTicks float64

	mu      sync.Mutex
	sum     map[int]Average
	count   map[int]int
	lastCPU map[int]ticks
}

type ticks struct {
	total float64
	at    time.Time
}

// clockTicksPerSecond is the kernel's USER_HZ value. It is effectively a
// fixed constant (100) on every Linux architecture Go supports; there is
// no syscall exposing it, only the libc sysconf(_SC_CLK_TCK) wrapper,
// which golang.org/x/sys/unix does not provide without cgo.
const clockTicksPerSecond = 100

// NewCollector creates a Collector.
func NewCollector() *Collector {
	return &Collector{
		clockTicks: clockTicksPerSecond,
		sum:        make(map[int]Average),
		count:      make(map[int]int),
		lastCPU:    make(map[int]ticks),
	}
}

// Update samples every pid in pids, accumulating into the running sums.
// Errors reading an individual pid (vanished process, EPERM) are dropped;
// Update itself never returns an error (spec.md error kind 4: sample
// errors are logged by the caller, never propagated).
func (c *Collector) Update(pids []int, onError func(pid int, err error)) {
	for _, pid := range pids {
		sample, err := c.sample(pid)
		if err != nil {
			if onError != nil {
				onError(pid, err)
			}
			continue
		}
		if sample == nil {
			// First observation for this pid: no CPU delta available yet.
			continue
		}

		c.mu.Lock()
		avg := c.sum[pid]
		avg.CPUFraction += sample.CPUFraction
		avg.RSSBytes += float64(sample.RSSBytes)
		c.sum[pid] = avg
		c.count[pid]++
		c.mu.Unlock()
	}
}

// sample reads /proc/<pid>/stat and /proc/<pid>/statm for one observation.
// It returns (nil, nil) on a pid's first call, since CPU fraction requires
// a delta between two ticks readings.
func (c *Collector) sample(pid int) (*Sample, error) {
	totalTicks, err := readCPUTicks(pid)
	if err != nil {
		return nil, err
	}
	rss, err := readRSSBytes(pid)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	c.mu.Lock()
	prev, ok := c.lastCPU[pid]
	c.lastCPU[pid] = ticks{total: totalTicks, at: now}
	c.mu.Unlock()

	if !ok {
		return nil, nil
	}

	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return nil, nil
	}

	deltaTicks := totalTicks - prev.total
	cpuFraction := (deltaTicks / c.clockTicks) / elapsed

	return &Sample{CPUFraction: cpuFraction, RSSBytes: rss}, nil
}

// Reset clears all accumulated state, e.g. between runs.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sum = make(map[int]Average)
	c.count = make(map[int]int)
	c.lastCPU = make(map[int]ticks)
}

// PerPID returns the mean CPUFraction/RSSBytes observed for each sampled
// PID.
func (c *Collector) PerPID() map[int]Average {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[int]Average, len(c.sum))
	for pid, sum := range c.sum {
		n := float64(c.count[pid])
		if n == 0 {
			continue
		}
		out[pid] = Average{CPUFraction: sum.CPUFraction / n, RSSBytes: sum.RSSBytes / n}
	}
	return out
}

// Aggregate returns the mean of all per-PID averages, matching the
// original implementation's average_stats(per_pid=False).
func (c *Collector) Aggregate() Average {
	perPID := c.PerPID()
	if len(perPID) == 0 {
		return Average{}
	}

	var sum Average
	for _, avg := range perPID {
		sum.CPUFraction += avg.CPUFraction
		sum.RSSBytes += avg.RSSBytes
	}
	n := float64(len(perPID))
	return Average{CPUFraction: sum.CPUFraction / n, RSSBytes: sum.RSSBytes / n}
}

func readCPUTicks(pid int) (float64, error) {
	path := fmt.Sprintf("/proc/%d/stat", pid)
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	// Fields are space separated; the process name (field 2) is
	// parenthesized and may itself contain spaces, so split on the last ')'.
	text := string(b)
	close := strings.LastIndexByte(text, ')')
	if close < 0 || close+2 >= len(text) {
		return 0, fmt.Errorf("parse %s: malformed", path)
	}
	rest := strings.Fields(text[close+2:])
	// rest[0] is field 3 (state); utime is field 14, stime is field 15,
	// i.e. rest[11] and rest[12].
	const utimeIdx, stimeIdx = 11, 12
	if len(rest) <= stimeIdx {
		return 0, fmt.Errorf("parse %s: too few fields", path)
	}
	utime, err := strconv.ParseFloat(rest[utimeIdx], 64)
	if err != nil {
		return 0, err
	}
	stime, err := strconv.ParseFloat(rest[stimeIdx], 64)
	if err != nil {
		return 0, err
	}
	return utime + stime, nil
}

func readRSSBytes(pid int) (uint64, error) {
	path := fmt.Sprintf("/proc/%d/statm", pid)
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("parse %s: empty", path)
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 2 {
		return 0, fmt.Errorf("parse %s: too few fields", path)
	}
	residentPages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, err
	}
	return residentPages * uint64(os.Getpagesize()), nil
}
