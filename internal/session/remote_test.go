package session

import (
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/msdhamodharan/xpedite/internal/protocol"
)

func TestRemotePollAcceptsAndEchoesRequest(t *testing.T) {
	r, err := Listen("127.0.0.1")
	require.NoError(t, err)
	defer r.Close()
	require.Greater(t, r.Port(), 0)

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(r.Port())))
	require.NoError(t, err)
	defer conn.Close()

	writeFrameTo(t, conn, "Ping")

	d := fakeDispatcher{}
	require.Eventually(t, func() bool {
		didWork, _ := r.Poll(d)
		return didWork
	}, time.Second, time.Millisecond)

	resp := readFrameFrom(t, conn)
	require.True(t, resp.OK)
	require.Equal(t, "pong", resp.Text)
}

func TestRemoteDisconnectReturnsToUnconnected(t *testing.T) {
	r, err := Listen("127.0.0.1")
	require.NoError(t, err)
	defer r.Close()

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(r.Port())))
	require.NoError(t, err)

	d := fakeDispatcher{}
	require.Eventually(t, func() bool {
		_, connected := r.Poll(d)
		return connected
	}, time.Second, time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		_, connected := r.Poll(d)
		return !connected
	}, time.Second, time.Millisecond)
}

func TestRemotePollResumesPartialFrameAcrossTicks(t *testing.T) {
	r, err := Listen("127.0.0.1")
	require.NoError(t, err)
	defer r.Close()

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(r.Port())))
	require.NoError(t, err)
	defer conn.Close()

	line := "Ping"
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(line)))

	d := fakeDispatcher{}

	// Write only the length prefix; Poll must not disconnect while waiting
	// for the rest of the frame.
	_, err = conn.Write(lenBuf[:])
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		didWork, connected := r.Poll(d)
		require.False(t, didWork)
		require.True(t, connected)
	}

	// Write the payload one byte at a time; each Poll should keep resuming
	// the same in-flight frame rather than resyncing against the stream.
	// The Poll that reads the last byte may already complete the frame, so
	// its didWork result counts too.
	completed := false
	for i := 0; i < len(line); i++ {
		_, err = conn.Write([]byte{line[i]})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		if didWork, _ := r.Poll(d); didWork {
			completed = true
		}
	}

	require.Eventually(t, func() bool {
		if completed {
			return true
		}
		didWork, _ := r.Poll(d)
		completed = didWork
		return didWork
	}, time.Second, time.Millisecond)

	resp := readFrameFrom(t, conn)
	require.True(t, resp.OK)
	require.Equal(t, "pong", resp.Text)
}

func writeFrameTo(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(line)))
	_, err := conn.Write(lenBuf[:])
	require.NoError(t, err)
	_, err = conn.Write([]byte(line))
	require.NoError(t, err)
}

func readFrameFrom(t *testing.T, conn net.Conn) protocol.Response {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var lenBuf [4]byte
	_, err := conn.Read(lenBuf[:])
	require.NoError(t, err)
	n := binary.LittleEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	_, err = conn.Read(payload)
	require.NoError(t, err)
	resp, err := protocol.DecodeFrame(payload)
	require.NoError(t, err)
	return resp
}

