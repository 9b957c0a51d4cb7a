package session

import (
	"time"

	"github.com/pkg/errors"

	"github.com/msdhamodharan/xpedite/internal/protocol"
)

// State is one of the three control-plane states (spec §4.7).
type State int

const (
	Dormant State = iota
	LocalActive
	RemoteActive
)

func (s State) String() string {
	switch s {
	case Dormant:
		return "DORMANT"
	case LocalActive:
		return "LOCAL"
	case RemoteActive:
		return "REMOTE"
	default:
		return "UNKNOWN"
	}
}

// DormantPollInterval is used whenever no session is active.
const DormantPollInterval = 500 * time.Millisecond

// DefaultActivePollInterval is the minimum-enforced default once a session
// is active and has not specified its own interval.
const DefaultActivePollInterval = time.Millisecond

// Handler is the subset of internal/handler.Handler the manager drives on
// every tick in which either session is active. Abort is called when a
// RemoteActive connection drops out from under an open profile, so the
// handler can tear down probes/PMU/file/ledger state exactly as a clean
// EndProfile would (spec §7 error class 5, invariant I5).
type Handler interface {
	Poll() error
	PollInterval() time.Duration
	Abort(err error)
}

// Manager is the core state machine (C7): it alternates request handling
// between Local and Remote, enforcing that the same tick never admits work
// from both, then drives the handler's sample drain.
type Manager struct {
	local   *Local
	remote  *Remote
	handler Handler
	state   State
}

// NewManager builds a Manager over its three collaborators, starting
// DORMANT.
func NewManager(local *Local, remote *Remote, handler Handler) *Manager {
	return &Manager{local: local, remote: remote, handler: handler, state: Dormant}
}

// State returns the manager's current state, for diagnostics.
func (m *Manager) State() State { return m.state }

// Poll runs one tick of the transition logic described in spec §4.7:
//  1. If state is DORMANT or LOCAL, let Local poll; LOCAL work promotes to
//     LOCAL, idleness while LOCAL demotes to DORMANT unless the handler
//     reports an open profile (IsProfileActive), which keeps LOCAL.
//  2. Then, if state is DORMANT or REMOTE, let Remote poll; symmetric
//     promotion/demotion with REMOTE.
//  3. If state is not DORMANT, drain samples via handler.Poll().
//
// The gating predicate on steps 1 and 2 (only enter a side if currently
// DORMANT or already on that side) is what keeps LOCAL and REMOTE mutually
// exclusive within one tick.
func (m *Manager) Poll(d protocol.Dispatcher) error {
	if m.state == Dormant || m.state == LocalActive {
		if m.local.Poll(d) {
			m.state = LocalActive
		} else if m.state == LocalActive {
			if a, ok := m.handler.(interface{ IsProfileActive() bool }); !ok || !a.IsProfileActive() {
				m.state = Dormant
			}
		}
	}

	if m.state == Dormant || m.state == RemoteActive {
		didWork, connected := m.remote.Poll(d)
		switch {
		case didWork:
			m.state = RemoteActive
		case m.state == RemoteActive && !connected:
			m.handler.Abort(errors.New("remote session disconnected while profile was active"))
			m.state = Dormant
		}
	}

	if m.state != Dormant {
		return m.handler.Poll()
	}
	return nil
}

// NextInterval reports how long the framework's background goroutine
// should sleep before the next Poll call.
func (m *Manager) NextInterval() time.Duration {
	if m.state == Dormant {
		return DormantPollInterval
	}
	if iv := m.handler.PollInterval(); iv > 0 {
		return iv
	}
	return DefaultActivePollInterval
}
