package probe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolverStableAcrossEviction(t *testing.T) {
	r, err := NewResolver(2)
	require.NoError(t, err)

	k1 := Key{File: "a.cpp", Line: 1}
	k2 := Key{File: "b.cpp", Line: 2}
	k3 := Key{File: "c.cpp", Line: 3}

	i1 := r.Resolve(k1)
	r.Resolve(k2)
	// Evicts k1 from the LRU front cache (capacity 2), but not from the
	// persistent allocation map.
	r.Resolve(k3)

	i1Again := r.Resolve(k1)
	require.Equal(t, i1.ID, i1Again.ID)
}

func TestResolverDistinctKeysGetDistinctIDs(t *testing.T) {
	r, err := NewResolver(16)
	require.NoError(t, err)

	a := r.Resolve(Key{File: "a.cpp", Line: 1})
	b := r.Resolve(Key{File: "b.cpp", Line: 2})
	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, 2, r.Len())
}

func TestResolverCallSiteTableOrderedByID(t *testing.T) {
	r, err := NewResolver(16)
	require.NoError(t, err)

	a := r.Resolve(Key{File: "a.cpp", Line: 1})
	b := r.Resolve(Key{File: "b.cpp", Line: 2})

	table := r.CallSiteTable()
	require.Len(t, table, 2)
	require.Equal(t, a.File, table[a.ID].File)
	require.Equal(t, b.File, table[b.ID].File)
}
