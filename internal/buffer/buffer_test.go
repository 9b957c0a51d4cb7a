package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/msdhamodharan/xpedite/internal/sample"
)

func TestSampleBufferPushDrain(t *testing.T) {
	b := newSampleBuffer(1, uint64(4*sample.Size))

	for i := 0; i < 4; i++ {
		ok := b.Push(sample.Sample{Tsc: uint64(i)})
		require.True(t, ok)
	}
	require.False(t, b.Push(sample.Sample{Tsc: 99}))
	require.Equal(t, uint64(1), b.OverflowCount())

	got := b.Drain(nil)
	require.Len(t, got, 4)
	for i, s := range got {
		require.Equal(t, uint64(i), s.Tsc)
	}

	require.True(t, b.Push(sample.Sample{Tsc: 42}))
	got = b.Drain(nil)
	require.Len(t, got, 1)
	require.Equal(t, uint64(42), got[0].Tsc)
}

func TestSampleBufferZeroCapacityUsesDefault(t *testing.T) {
	b := newSampleBuffer(2, 0)
	require.Greater(t, b.capacity, uint64(0))
}

func TestRegistryInitializeThreadIdempotent(t *testing.T) {
	r := NewRegistry(uint64(8 * sample.Size))

	buf1, fresh1 := r.InitializeThread()
	require.True(t, fresh1)
	buf2, fresh2 := r.InitializeThread()
	require.False(t, fresh2)
	require.Same(t, buf1, buf2)
	require.Equal(t, 1, r.Count())
}

func TestRegistryForEachBufferVisitsAll(t *testing.T) {
	r := NewRegistry(uint64(8 * sample.Size))
	done := make(chan *SampleBuffer, 3)
	for i := 0; i < 3; i++ {
		go func() {
			buf, _ := r.InitializeThread()
			done <- buf
		}()
	}
	seen := make(map[*SampleBuffer]bool)
	for i := 0; i < 3; i++ {
		seen[<-done] = true
	}

	require.Equal(t, 3, r.Count())
	visited := make(map[*SampleBuffer]bool)
	r.ForEachBuffer(func(b *SampleBuffer) { visited[b] = true })
	require.Equal(t, seen, visited)
}
