// Package tsc estimates the timestamp counter frequency used to interpret
// Sample.Tsc values against wall-clock time.
package tsc

import "time"

// Clock reads a monotonic counter, standing in for the rdtsc instruction
// the original read directly. Tests supply a fake; the framework's default
// reads wall-clock nanoseconds, and a platform build can supply an
// rdtsc-backed Clock through this same seam.
type Clock func() uint64

// Estimate samples clock twice across the given settle duration and
// derives an approximate Hz. A short settle duration trades precision for
// a fast Initialize; the result is only reported (sample file header,
// app-info file, TscHz response), never used as a precise scheduling input.
func Estimate(clock Clock, settle time.Duration) uint64 {
	if settle <= 0 {
		settle = 10 * time.Millisecond
	}
	start := clock()
	startTime := time.Now()
	time.Sleep(settle)
	end := clock()
	elapsed := time.Since(startTime)
	if elapsed <= 0 || end <= start {
		return 0
	}
	ticks := end - start
	return uint64(float64(ticks) / elapsed.Seconds())
}
