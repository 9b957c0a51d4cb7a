// Package pmu defines the capability the core consumes to program CPU
// performance counters, and ships an in-memory reference implementation for
// hosts and tests with no real PMU access.
//
// The PMU driver binding is an explicit external collaborator (spec §1): a
// production build links a real driver behind the Capability interface, the
// same platform-agnostic-interface/real-implementation split the teacher
// draws for its PerfReader (see reader.go vs bpf_linux.go in the teacher
// tree).
package pmu

import "github.com/pkg/errors"

// PerfEventRequest is the opaque descriptor carried by ActivatePerfEvents.
// The core treats it as a byte blob; only the real driver behind Capability
// interprets its contents.
type PerfEventRequest struct {
	Data []byte
}

// State snapshots everything Capability has programmed, so that it can be
// restored bitwise when a session ends (spec invariant I5).
type State struct {
	GpCount      int
	FixedIndices []uint8
	PerfEvents   *PerfEventRequest
}

// Capability is the PMU driver binding the core depends on.
type Capability interface {
	EnableGeneralPurpose(count int) error
	EnableFixed(index uint8) error
	EnablePerfEvents(req PerfEventRequest) error
	Disable() error
	Snapshot() State
	Restore(State) error
}

// Memory is a reference Capability implementation backed by nothing but
// process memory -- suitable for tests, for hosts without real PMU access,
// and as the default in cmd/xpedite-demo.
type Memory struct {
	state State
}

// NewMemory returns a fresh in-memory PMU capability with nothing enabled.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) EnableGeneralPurpose(count int) error {
	if count < 0 {
		return errors.Errorf("invalid general purpose counter count %d", count)
	}
	m.state.GpCount = count
	return nil
}

func (m *Memory) EnableFixed(index uint8) error {
	for _, existing := range m.state.FixedIndices {
		if existing == index {
			return nil
		}
	}
	m.state.FixedIndices = append(m.state.FixedIndices, index)
	return nil
}

func (m *Memory) EnablePerfEvents(req PerfEventRequest) error {
	if len(req.Data) == 0 {
		return errors.New("empty perf events request")
	}
	cp := append([]byte(nil), req.Data...)
	m.state.PerfEvents = &PerfEventRequest{Data: cp}
	return nil
}

func (m *Memory) Disable() error {
	m.state = State{}
	return nil
}

func (m *Memory) Snapshot() State {
	return m.state
}

func (m *Memory) Restore(s State) error {
	m.state = s
	return nil
}
