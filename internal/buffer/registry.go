package buffer

import (
	"sync"

	"go.uber.org/atomic"
)

type node struct {
	buf  *SampleBuffer
	next atomic.Pointer[node]
}

// Registry owns the append-only, lock-free linked list of per-thread
// SampleBuffers. Its head pointer is the only datum shared between
// application goroutines (producers of new nodes) and the framework poll
// goroutine (the sole traverser) -- nodes are published with a single CAS
// and are never freed while the process runs, so ForEachBuffer never takes
// a lock.
//
// This generalizes the teacher's process.ProcessMap (a plain RWMutex map)
// into the spec's lock-free shape: identity bookkeeping for
// InitializeThread's idempotency still uses a mutex (it runs once per
// thread lifetime, never on the sample hot path), but list traversal and
// publication are lock-free.
type Registry struct {
	head     atomic.Pointer[node]
	mu       sync.Mutex
	byOwner  map[int64]*SampleBuffer
	capacity uint64
}

// NewRegistry builds a registry whose buffers are sized from capacityBytes
// (spec §9(c): samplesDataCapacity is a per-thread ring byte capacity).
func NewRegistry(capacityBytes uint64) *Registry {
	return &Registry{
		byOwner:  make(map[int64]*SampleBuffer),
		capacity: capacityBytes,
	}
}

// InitializeThread is idempotent per calling goroutine: the first call
// allocates and publishes a new SampleBuffer, subsequent calls return the
// same buffer. The bool result reports whether allocation occurred.
func (r *Registry) InitializeThread() (*SampleBuffer, bool) {
	gid := goroutineID()

	r.mu.Lock()
	if buf, ok := r.byOwner[gid]; ok {
		r.mu.Unlock()
		return buf, false
	}
	buf := newSampleBuffer(gid, r.capacity)
	r.byOwner[gid] = buf
	r.mu.Unlock()

	r.publish(buf)
	return buf, true
}

func (r *Registry) publish(buf *SampleBuffer) {
	n := &node{buf: buf}
	for {
		head := r.head.Load()
		n.next.Store(head)
		if r.head.CompareAndSwap(head, n) {
			return
		}
	}
}

// ForEachBuffer invokes fn once per registered buffer. Only the framework
// poll goroutine may call this.
func (r *Registry) ForEachBuffer(fn func(*SampleBuffer)) {
	for n := r.head.Load(); n != nil; n = n.next.Load() {
		fn(n.buf)
	}
}

// Count reports how many buffers are currently registered.
func (r *Registry) Count() int {
	n := 0
	r.ForEachBuffer(func(*SampleBuffer) { n++ })
	return n
}
