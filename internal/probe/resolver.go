package probe

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// CallSiteInfo is the stable numeric identifier plus textual coordinates for
// one probe, the shape persisted verbatim into the sample file's call-site
// table (internal/persist).
type CallSiteInfo struct {
	ID   uint32
	File string
	Line uint32
	Name string
}

// DefaultResolverCacheSize bounds the Resolver's LRU front cache.
const DefaultResolverCacheSize = 4096

// Resolver allocates stable numeric call-site ids for probe keys and caches
// the fully-built CallSiteInfo so that repeated protocol traffic against a
// large registry (tens of thousands of probes) does not re-scan it on every
// ActivateProbe/ListProbes round trip.
//
// The teacher's binary.Cache wraps an LRU purely for membership (HasBinary);
// here the LRU fronts a persistent, never-evicted id-allocation map so that
// an eviction can never change a key's assigned id -- only the cost of
// looking it back up again.
type Resolver struct {
	mu    sync.Mutex
	ids   map[Key]uint32
	next  uint32
	cache *lru.Cache
}

// NewResolver builds a resolver whose front cache holds at most size entries.
func NewResolver(size int) (*Resolver, error) {
	if size <= 0 {
		size = DefaultResolverCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		ids:   make(map[Key]uint32),
		cache: cache,
	}, nil
}

// Resolve returns the CallSiteInfo for key, allocating a new id on first
// reference and reusing it for the lifetime of the process thereafter.
func (r *Resolver) Resolve(key Key) CallSiteInfo {
	if v, ok := r.cache.Get(key); ok {
		return v.(CallSiteInfo)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.ids[key]
	if !ok {
		id = r.next
		r.next++
		r.ids[key] = id
	}
	info := CallSiteInfo{ID: id, File: key.File, Line: key.Line, Name: key.Name}
	r.cache.Add(key, info)
	return info
}

// Len reports how many distinct keys have ever been resolved.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// CallSiteTable returns every resolved CallSiteInfo, ordered by id. This is
// the table FileHeader persists: a Sample.CallSiteID is only meaningful
// against the table captured at the moment the sample file's header was
// written, so callers should build a session's header after any
// ActivateProbe calls that might resolve new keys.
func (r *Resolver) CallSiteTable() []CallSiteInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallSiteInfo, len(r.ids))
	for k, id := range r.ids {
		out[id] = CallSiteInfo{ID: id, File: k.File, Line: k.Line, Name: k.Name}
	}
	return out
}
