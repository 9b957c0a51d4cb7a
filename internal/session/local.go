// Package session implements the three collaborators of the control-plane
// state machine (spec §4.5-§4.7): the in-process Local Session queue, the
// TCP Remote Session, and the Manager that arbitrates between them.
package session

import (
	"time"

	"github.com/pkg/errors"

	"github.com/msdhamodharan/xpedite/internal/protocol"
)

type localRequest struct {
	line string
	done chan protocol.Response
}

// Local is an in-process queue of (request, completion) pairs. Execute is
// called from the application goroutine by the library's Profile(...)
// entry point and the SessionGuard close path; Poll is called from the
// framework's background goroutine to drain the queue one request at a
// time.
type Local struct {
	queue chan localRequest
}

// NewLocal builds a Local session with a queue depth of backlog.
func NewLocal(backlog int) *Local {
	if backlog <= 0 {
		backlog = 16
	}
	return &Local{queue: make(chan localRequest, backlog)}
}

// Execute enqueues line and blocks until the background goroutine has
// processed it, or until timeout elapses (timeout of 0 means unbounded,
// matching spec §4.5).
func (l *Local) Execute(line string, timeout time.Duration) (protocol.Response, error) {
	req := localRequest{line: line, done: make(chan protocol.Response, 1)}

	select {
	case l.queue <- req:
	default:
		return protocol.Response{}, errors.New("local session queue is full")
	}

	if timeout <= 0 {
		return <-req.done, nil
	}
	select {
	case resp := <-req.done:
		return resp, nil
	case <-time.After(timeout):
		return protocol.Response{}, errors.New("local session request timed out")
	}
}

// Poll drains at most one pending request against d and reports whether it
// did any work, matching the Session Manager's per-tick contract (§4.7).
func (l *Local) Poll(d protocol.Dispatcher) bool {
	select {
	case req := <-l.queue:
		req.done <- protocol.Dispatch(d, req.line, protocol.OriginLocal)
		return true
	default:
		return false
	}
}

// Pending reports whether the queue currently holds unprocessed work,
// without consuming it.
func (l *Local) Pending() bool {
	return len(l.queue) > 0
}
