package profile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/msdhamodharan/xpedite/internal/pmu"
	"github.com/msdhamodharan/xpedite/internal/probe"
)

type fakeCommand struct {
	enabled map[probe.Key]bool
}

func newFakeCommand() *fakeCommand { return &fakeCommand{enabled: map[probe.Key]bool{}} }

func (f *fakeCommand) Enable(file string, line uint32, name string) error {
	f.enabled[probe.Key{File: file, Line: line, Name: name}] = true
	return nil
}

func (f *fakeCommand) Disable(file string, line uint32, name string) error {
	f.enabled[probe.Key{File: file, Line: line, Name: name}] = false
	return nil
}

func TestStateActivateAndStopRestoresProbes(t *testing.T) {
	cmd := newFakeCommand()
	k := probe.Key{File: "a.cpp", Line: 1}
	registry := probe.NewRegistry(cmd, []probe.Key{k})
	pmuCap := pmu.NewMemory()

	s := New(registry, pmuCap, nil)
	require.NoError(t, s.ActivateProbe(k))
	require.True(t, cmd.enabled[k])

	s.Stop()
	require.False(t, cmd.enabled[k])
	require.Empty(t, s.ActivatedProbes())
}

func TestStateStopDisablesPMUPath(t *testing.T) {
	registry := probe.NewRegistry(newFakeCommand(), nil)
	pmuCap := pmu.NewMemory()

	s := New(registry, pmuCap, nil)
	require.NoError(t, s.EnableGpPMU(4))
	require.Equal(t, 4, pmuCap.Snapshot().GpCount)

	s.Stop()
	require.Equal(t, 0, pmuCap.Snapshot().GpCount)
}

func TestStateDeactivateProbeRemovesFromTeardownSet(t *testing.T) {
	cmd := newFakeCommand()
	k := probe.Key{File: "a.cpp", Line: 1}
	registry := probe.NewRegistry(cmd, []probe.Key{k})
	s := New(registry, pmu.NewMemory(), nil)

	require.NoError(t, s.ActivateProbe(k))
	require.NoError(t, s.DeactivateProbe(k))
	require.Empty(t, s.ActivatedProbes())
	require.False(t, cmd.enabled[k])
}
