// Package profile implements the undo-tracked session state: which probes
// and which PMU path a single BeginProfile/EndProfile session enabled, so
// that EndProfile can restore the runtime to exactly its pre-session shape
// (spec invariant I5).
package profile

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/msdhamodharan/xpedite/internal/pmu"
	"github.com/msdhamodharan/xpedite/internal/probe"
)

type pmuPath int

const (
	pmuNone pmuPath = iota
	pmuGeneralPurpose
	pmuFixed
	pmuPerfEvents
)

// Info is the caller-supplied request argument to a new session: the
// probes to enable up front and the ring capacity samples should be
// buffered at. PMU/perf-event activation is issued separately through
// ActivateProbe-shaped protocol requests, mirroring the original grammar.
type Info struct {
	Probes              []probe.Key
	SamplesFilePattern  string
	SamplesDataCapacity uint64
	PollIntervalMillis  int
}

// State is the per-session undo record described by spec §4.3. It is not
// safe for concurrent use; the handler that owns a session serializes all
// calls against it.
type State struct {
	registry *probe.Registry
	pmuCap   pmu.Capability
	logger   log.Logger

	activated []probe.Key
	pmuPath   pmuPath
}

// New starts tracking a fresh session over registry and pmuCap. Neither is
// owned exclusively -- both are shared process-wide singletons -- State only
// remembers what it itself turned on.
func New(registry *probe.Registry, pmuCap pmu.Capability, logger log.Logger) *State {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &State{registry: registry, pmuCap: pmuCap, logger: logger}
}

// ActivateProbe enables key and records it for teardown.
func (s *State) ActivateProbe(key probe.Key) error {
	if err := s.registry.Enable(key); err != nil {
		return err
	}
	s.activated = append(s.activated, key)
	return nil
}

// DeactivateProbe disables key and removes it from the teardown set.
func (s *State) DeactivateProbe(key probe.Key) error {
	if err := s.registry.Disable(key); err != nil {
		return err
	}
	for i, k := range s.activated {
		if k == key {
			s.activated = append(s.activated[:i], s.activated[i+1:]...)
			break
		}
	}
	return nil
}

// EnableGpPMU enables n general purpose counters and remembers that this
// session owns the PMU path.
func (s *State) EnableGpPMU(n int) error {
	if err := s.pmuCap.EnableGeneralPurpose(n); err != nil {
		return err
	}
	s.pmuPath = pmuGeneralPurpose
	return nil
}

// EnableFixedPMU enables a fixed counter by index.
func (s *State) EnableFixedPMU(index uint8) error {
	if err := s.pmuCap.EnableFixed(index); err != nil {
		return err
	}
	s.pmuPath = pmuFixed
	return nil
}

// EnablePerfEvents applies an opaque perf events descriptor.
func (s *State) EnablePerfEvents(req pmu.PerfEventRequest) error {
	if err := s.pmuCap.EnablePerfEvents(req); err != nil {
		return err
	}
	s.pmuPath = pmuPerfEvents
	return nil
}

// AdoptActivated folds every already-enabled probe into this session's undo
// set. It exists because ActivateProbe requests routinely precede
// BeginProfile in the same request sequence (matching the original
// grammar's ActivateProbe-then-BeginProfile idiom) and are applied directly
// against the registry before any Profile State exists to track them;
// without this, BeginProfile's failure-rollback (invariant I2) and normal
// EndProfile teardown (invariant I5) would silently skip them.
func (s *State) AdoptActivated(probes []probe.Probe) {
	for _, p := range probes {
		if p.Enabled {
			s.activated = append(s.activated, p.Key)
		}
	}
}

// AdoptPMU folds an already-programmed PMU snapshot into this session so
// Stop disables it too, mirroring AdoptActivated for the PMU path.
func (s *State) AdoptPMU(snapshot pmu.State) {
	switch {
	case snapshot.PerfEvents != nil:
		s.pmuPath = pmuPerfEvents
	case len(snapshot.FixedIndices) > 0:
		s.pmuPath = pmuFixed
	case snapshot.GpCount > 0:
		s.pmuPath = pmuGeneralPurpose
	}
}

// ActivatedProbes returns the probes this session itself turned on, for
// diagnostics and ledger rows.
func (s *State) ActivatedProbes() []probe.Key {
	out := make([]probe.Key, len(s.activated))
	copy(out, s.activated)
	return out
}

// Stop disables every probe this session activated and then disables
// whichever PMU path was taken. Stop is infallible: a failing inverse
// operation is logged and teardown continues, so a single stuck probe or
// driver call can never leave the session half torn down.
func (s *State) Stop() {
	for _, key := range s.activated {
		if err := s.registry.Disable(key); err != nil {
			level.Error(s.logger).Log("msg", "failed to disable probe during teardown", "probe", key.String(), "err", err)
		}
	}
	s.activated = nil

	if s.pmuPath == pmuNone {
		return
	}
	if err := s.pmuCap.Disable(); err != nil {
		level.Error(s.logger).Log("msg", "failed to disable pmu during teardown", "err", err)
	}
	s.pmuPath = pmuNone
}
