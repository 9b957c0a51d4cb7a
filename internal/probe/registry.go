package probe

import (
	"sync"

	"github.com/pkg/errors"
)

// Registry is the process-wide enumerable collection of all statically
// registered probes. It is mutated only by Enable/Disable.
//
// The concurrency shape (RWMutex-guarded map, copy-out List) follows the
// teacher's process.ProcessMap: readers (ListProbes, the call-site resolver)
// are far more frequent than writers (ActivateProbe/DeactivateProbe), and the
// full set is small enough that a map scan per lookup is cheap relative to
// lock contention.
type Registry struct {
	mu      sync.RWMutex
	probes  map[Key]*Probe
	command Command
}

// NewRegistry builds a registry over command, the external probe substrate.
// probes is the initial, statically compiled set of call sites; it is never
// added to at runtime, only toggled.
func NewRegistry(command Command, probes []Key) *Registry {
	r := &Registry{
		probes:  make(map[Key]*Probe, len(probes)),
		command: command,
	}
	for _, k := range probes {
		r.probes[k] = &Probe{Key: k}
	}
	return r
}

// Lookup resolves a (file, line[, name]) reference to its registered key.
// When name is empty, any probe at (file, line) matches; if more than one
// name-qualified probe shares that (file, line), an empty name is ambiguous
// and returns an error.
func (r *Registry) Lookup(file string, line uint32, name string) (Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name != "" {
		k := Key{File: file, Line: line, Name: name}
		if _, ok := r.probes[k]; ok {
			return k, nil
		}
		return Key{}, errors.Errorf("no probe registered at %s:%d named %q", file, line, name)
	}

	var found Key
	matches := 0
	for k := range r.probes {
		if k.File == file && k.Line == line {
			found = k
			matches++
		}
	}
	switch matches {
	case 0:
		return Key{}, errors.Errorf("no probe registered at %s:%d", file, line)
	case 1:
		return found, nil
	default:
		return Key{}, errors.Errorf("%s:%d is ambiguous, %d probes registered there, supply --name", file, line, matches)
	}
}

// Enable activates the probe identified by key, idempotently.
func (r *Registry) Enable(key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.probes[key]
	if !ok {
		return errors.Errorf("probe %s is not registered", key)
	}
	if err := r.command.Enable(key.File, key.Line, key.Name); err != nil {
		return errors.Wrapf(err, "enable probe %s", key)
	}
	p.Enabled = true
	return nil
}

// Disable deactivates the probe identified by key, idempotently.
func (r *Registry) Disable(key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.probes[key]
	if !ok {
		return errors.Errorf("probe %s is not registered", key)
	}
	if err := r.command.Disable(key.File, key.Line, key.Name); err != nil {
		return errors.Wrapf(err, "disable probe %s", key)
	}
	p.Enabled = false
	return nil
}

// List returns a snapshot of every registered probe.
func (r *Registry) List() []Probe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Probe, 0, len(r.probes))
	for _, p := range r.probes {
		out = append(out, *p)
	}
	return out
}

// Get returns a snapshot of a single probe's state.
func (r *Registry) Get(key Key) (Probe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.probes[key]
	if !ok {
		return Probe{}, false
	}
	return *p, true
}
