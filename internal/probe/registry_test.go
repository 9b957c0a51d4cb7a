package probe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeCommand struct {
	enabled  map[Key]bool
	failKeys map[Key]bool
}

func newFakeCommand() *fakeCommand {
	return &fakeCommand{enabled: map[Key]bool{}, failKeys: map[Key]bool{}}
}

func (f *fakeCommand) Enable(file string, line uint32, name string) error {
	k := Key{File: file, Line: line, Name: name}
	if f.failKeys[k] {
		return errFakeRejected
	}
	f.enabled[k] = true
	return nil
}

func (f *fakeCommand) Disable(file string, line uint32, name string) error {
	k := Key{File: file, Line: line, Name: name}
	delete(f.enabled, k)
	return nil
}

var errFakeRejected = &fakeError{"rejected by substrate"}

type fakeError struct{ msg string }

func (e *fakeError) Error() string { return e.msg }

func TestRegistryLookupByFileLineUnambiguous(t *testing.T) {
	cmd := newFakeCommand()
	r := NewRegistry(cmd, []Key{{File: "a.cpp", Line: 10}})

	key, err := r.Lookup("a.cpp", 10, "")
	require.NoError(t, err)
	require.Equal(t, Key{File: "a.cpp", Line: 10}, key)
}

func TestRegistryLookupAmbiguousRequiresName(t *testing.T) {
	cmd := newFakeCommand()
	r := NewRegistry(cmd, []Key{
		{File: "a.cpp", Line: 10, Name: "one"},
		{File: "a.cpp", Line: 10, Name: "two"},
	})

	_, err := r.Lookup("a.cpp", 10, "")
	require.Error(t, err)

	key, err := r.Lookup("a.cpp", 10, "two")
	require.NoError(t, err)
	require.Equal(t, "two", key.Name)
}

func TestRegistryEnableDisableRoundTrip(t *testing.T) {
	cmd := newFakeCommand()
	key := Key{File: "a.cpp", Line: 10}
	r := NewRegistry(cmd, []Key{key})

	require.NoError(t, r.Enable(key))
	p, ok := r.Get(key)
	require.True(t, ok)
	require.True(t, p.Enabled)
	require.True(t, cmd.enabled[key])

	require.NoError(t, r.Disable(key))
	p, ok = r.Get(key)
	require.True(t, ok)
	require.False(t, p.Enabled)
}

func TestRegistryEnableUnknownProbe(t *testing.T) {
	cmd := newFakeCommand()
	r := NewRegistry(cmd, nil)
	err := r.Enable(Key{File: "missing.cpp", Line: 1})
	require.Error(t, err)
}

func TestRegistryEnableRejectedBySubstrate(t *testing.T) {
	cmd := newFakeCommand()
	key := Key{File: "a.cpp", Line: 10}
	cmd.failKeys[key] = true
	r := NewRegistry(cmd, []Key{key})

	err := r.Enable(key)
	require.Error(t, err)
	p, ok := r.Get(key)
	require.True(t, ok)
	require.False(t, p.Enabled)
}

func TestRegistryList(t *testing.T) {
	cmd := newFakeCommand()
	r := NewRegistry(cmd, []Key{{File: "a.cpp", Line: 1}, {File: "b.cpp", Line: 2}})
	require.Len(t, r.List(), 2)
}
