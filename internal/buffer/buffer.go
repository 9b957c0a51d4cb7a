// Package buffer implements the wait-free per-thread sample ring and the
// lock-free registry that links per-thread buffers together for the
// framework poll loop to drain.
package buffer

import (
	"go.uber.org/atomic"

	"github.com/msdhamodharan/xpedite/internal/sample"
)

// DefaultCapacity is used when a caller asks for a zero or negative
// samplesDataCapacity.
const DefaultCapacity = 1 << 16 // bytes

// SampleBuffer is a single-producer/single-consumer ring bound to one
// application thread. The producer is the thread that hit a probe; the
// consumer is the framework's background poll goroutine. On overflow the
// producer drops the sample and counts it -- it never blocks.
type SampleBuffer struct {
	goroutineID int64
	data        []sample.Sample
	capacity    uint64
	writeIdx    atomic.Uint64
	readIdx     atomic.Uint64
	overflow    atomic.Uint64
}

func newSampleBuffer(goroutineID int64, capacityBytes uint64) *SampleBuffer {
	if capacityBytes == 0 {
		capacityBytes = DefaultCapacity
	}
	n := capacityBytes / sample.Size
	if n == 0 {
		n = 1
	}
	return &SampleBuffer{
		goroutineID: goroutineID,
		data:        make([]sample.Sample, n),
		capacity:    n,
	}
}

// GoroutineID identifies the owning producer, for diagnostics only.
func (b *SampleBuffer) GoroutineID() int64 { return b.goroutineID }

// OverflowCount returns how many samples this buffer has dropped because it
// was full at push time.
func (b *SampleBuffer) OverflowCount() uint64 { return b.overflow.Load() }

// Push records s without blocking. It returns false (and increments the
// overflow counter) if the ring is full.
func (b *SampleBuffer) Push(s sample.Sample) bool {
	w := b.writeIdx.Load()
	r := b.readIdx.Load()
	if w-r >= b.capacity {
		b.overflow.Inc()
		return false
	}
	b.data[w%b.capacity] = s
	b.writeIdx.Store(w + 1)
	return true
}

// Drain appends every sample available since the last Drain to dst and
// returns the extended slice. Only the single designated consumer
// (the framework poll goroutine) may call this.
func (b *SampleBuffer) Drain(dst []sample.Sample) []sample.Sample {
	r := b.readIdx.Load()
	w := b.writeIdx.Load()
	for ; r < w; r++ {
		dst = append(dst, b.data[r%b.capacity])
	}
	b.readIdx.Store(r)
	return dst
}
