package framework

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/msdhamodharan/xpedite/internal/probe"
	"github.com/msdhamodharan/xpedite/internal/sample"
)

type fakeCommand struct {
	enabled map[probe.Key]bool
}

func (f *fakeCommand) Enable(file string, line uint32, name string) error {
	f.enabled[probe.Key{File: file, Line: line, Name: name}] = true
	return nil
}

func (f *fakeCommand) Disable(file string, line uint32, name string) error {
	f.enabled[probe.Key{File: file, Line: line, Name: name}] = false
	return nil
}

// TestFrameworkLifecycle exercises Initialize -> InitializeThread -> Profile
// -> Close -> Halt end to end. Because Initialize is a process-wide
// singleton (guarded by sync.Once, mirroring the original's
// std::once_flag), this is the one test in the package that drives the
// full lifecycle; other behavior is covered at the handler/session/probe
// layer where state is not global.
func TestFrameworkLifecycle(t *testing.T) {
	dir := t.TempDir()
	appInfoPath := filepath.Join(dir, "xpedite-appinfo.txt")
	key := probe.Key{File: "demo.go", Line: 42, Name: "hotloop"}
	cmd := &fakeCommand{enabled: map[probe.Key]bool{}}

	ok, err := Initialize(appInfoPath, "127.0.0.1", false, Config{
		Probes:  []probe.Key{key},
		Command: cmd,
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, IsRunning())

	require.Eventually(t, func() bool {
		_, err := os.Stat(appInfoPath)
		return err == nil
	}, time.Second, time.Millisecond)

	require.True(t, InitializeThread())
	require.False(t, InitializeThread())

	pattern := filepath.Join(dir, "samples")
	guard := Profile(ProfileInfo{
		Probes:              []probe.Key{key},
		SamplesFilePattern:  pattern,
		SamplesDataCapacity: 65536,
	})
	require.True(t, guard.Alive())
	require.True(t, cmd.enabled[key])

	// Profile routes BeginProfile through fw.local.Execute, the in-process
	// counterpart of the channel a remote client's requests travel through
	// (fw.remote), and the open profile keeps the manager LOCAL; this lets the
	// manager promote out of DORMANT and start draining sample buffers on
	// every tick even though no remote debugger is attached. Confirm a
	// pushed sample actually reaches the file as a persisted segment, not
	// just the FileHeader BeginProfile itself wrote.
	var samplesPath string
	var headerOnlySize int64
	require.Eventually(t, func() bool {
		entries, err := filepath.Glob(pattern + ".*")
		if err != nil || len(entries) != 1 {
			return false
		}
		info, err := os.Stat(entries[0])
		if err != nil {
			return false
		}
		samplesPath = entries[0]
		headerOnlySize = info.Size()
		return headerOnlySize > 0
	}, time.Second, time.Millisecond)

	buf, _ := fw.buffers.InitializeThread()
	buf.Push(sample.Sample{Tsc: 1, CallSiteID: 1, ThreadID: 1})

	require.Eventually(t, func() bool {
		info, err := os.Stat(samplesPath)
		return err == nil && info.Size() > headerOnlySize
	}, time.Second, time.Millisecond)

	guard.Close()
	guard.Close() // idempotent
	require.False(t, cmd.enabled[key])

	require.True(t, Halt())
	require.False(t, IsRunning())
	require.False(t, Halt()) // idempotent
}
