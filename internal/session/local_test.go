package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/msdhamodharan/xpedite/internal/protocol"
)

type fakeDispatcher struct{}

func (fakeDispatcher) Ping() protocol.Response                            { return protocol.Ok("pong") }
func (fakeDispatcher) TscHz() protocol.Response                           { return protocol.Ok("") }
func (fakeDispatcher) ListProbes() protocol.Response                      { return protocol.Ok("") }
func (fakeDispatcher) ActivateProbe(protocol.Request) protocol.Response   { return protocol.Ok("") }
func (fakeDispatcher) DeactivateProbe(protocol.Request) protocol.Response { return protocol.Ok("") }
func (fakeDispatcher) ActivateProbeSet(protocol.Request) protocol.Response {
	return protocol.Ok("")
}
func (fakeDispatcher) DeactivateProbeSet(protocol.Request) protocol.Response {
	return protocol.Ok("")
}
func (fakeDispatcher) ActivatePmu(protocol.Request) protocol.Response { return protocol.Ok("") }
func (fakeDispatcher) ActivatePerfEvents(protocol.Request) protocol.Response {
	return protocol.Ok("")
}
func (fakeDispatcher) BeginProfile(protocol.Request) protocol.Response { return protocol.Ok("") }
func (fakeDispatcher) EndProfile(protocol.Request) protocol.Response   { return protocol.Ok("") }

func TestLocalPollDrainsOneRequestPerCall(t *testing.T) {
	l := NewLocal(4)
	d := fakeDispatcher{}

	require.False(t, l.Poll(d))

	resultCh := make(chan protocol.Response, 1)
	go func() {
		resp, err := l.Execute("Ping", 0)
		require.NoError(t, err)
		resultCh <- resp
	}()

	require.Eventually(t, func() bool { return l.Pending() }, time.Second, time.Millisecond)
	require.True(t, l.Poll(d))

	select {
	case resp := <-resultCh:
		require.Equal(t, "pong", resp.Text)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Execute to complete")
	}
}

func TestLocalExecuteTimesOutWithoutPoll(t *testing.T) {
	l := NewLocal(4)
	_, err := l.Execute("Ping", 5*time.Millisecond)
	require.Error(t, err)
}
