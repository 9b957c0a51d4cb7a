package ledger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBeginEndRoundTrip(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	id, err := l.Begin(Local, "a.cpp:1,b.cpp:2", "/tmp/samples.1")
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	require.NoError(t, l.IncrementSegments(id))
	require.NoError(t, l.End(id, "gp", 1, nil))

	entries, err := l.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, Local, entries[0].Kind)
	require.NotNil(t, entries[0].EndTime)
	require.Nil(t, entries[0].Err)
	require.Equal(t, int64(1), entries[0].Segments)
}

func TestEndRecordsErrorText(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	id, err := l.Begin(Remote, "", "")
	require.NoError(t, err)
	require.NoError(t, l.End(id, "", 0, errors.New("boom")))

	entries, err := l.Entries()
	require.NoError(t, err)
	require.NotNil(t, entries[0].Err)
	require.Equal(t, "boom", *entries[0].Err)
}

func TestEntriesOrderedMostRecentFirst(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	id1, _ := l.Begin(Local, "", "")
	id2, _ := l.Begin(Local, "", "")
	require.NoError(t, l.End(id1, "", 0, nil))
	require.NoError(t, l.End(id2, "", 0, nil))

	entries, err := l.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, id2, entries[0].ID)
}
