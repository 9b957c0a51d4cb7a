package framework

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/msdhamodharan/xpedite/internal/probe"
)

// localProfilePollInterval is the fixed poll interval a Profile(...)
// session runs at, matching the original's ProfileActivationRequest which
// always requested MilliSeconds{1}.
const localProfilePollInterval = time.Millisecond

// localExecuteTimeout bounds how long Profile/SessionGuard.Close wait for
// the background goroutine to drain a request off fw.local's queue. It is
// generous relative to DormantPollInterval so a request submitted while the
// manager is still DORMANT (worst case, one full dormant tick away) always
// has time to land.
const localExecuteTimeout = 5 * time.Second

// ProfileInfo is the caller-supplied request to open a session: the probes
// to activate up front, the PMU counters to enable, and the ring capacity
// passed as BeginProfile's samplesDataCapacity. The handler records that
// capacity, but it does not resize buffers: every SampleBuffer is sized from
// buffer.DefaultCapacity, fixed when Initialize builds the buffer registry.
type ProfileInfo struct {
	Probes              []probe.Key
	GpCtrCount          int
	FixedCtrList        []uint8
	SamplesDataCapacity uint64
	SamplesFilePattern  string
}

// SessionGuard is the idiomatic Go substitute for the original's RAII
// SessionGuard: instead of a destructor, callers explicitly Close() it
// (typically via defer). It reports whether the session came up alive and,
// if not, why.
type SessionGuard struct {
	alive  bool
	errors string

	once sync.Once
}

// Alive reports whether the guarded session is currently open.
func (g *SessionGuard) Alive() bool { return g != nil && g.alive }

// Errors returns the accumulated activation error text, if any.
func (g *SessionGuard) Errors() string { return g.errors }

// Close ends the session if it is alive. It is safe to call multiple
// times and swallows EndProfile errors after logging them, so application
// hot-path code is never burdened with profiling errors (spec §7
// propagation policy).
func (g *SessionGuard) Close() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		if !g.alive || fw == nil {
			return
		}
		resp, err := fw.local.Execute("EndProfile", localExecuteTimeout)
		if err != nil {
			level.Error(fw.logger).Log("msg", "error submitting end profile request", "err", err)
		} else if !resp.OK {
			level.Error(fw.logger).Log("msg", "error ending profile session", "err", resp.Text)
		}
		g.alive = false
	})
}

func deadGuard(errText string) *SessionGuard {
	return &SessionGuard{errors: errText}
}

// Profile opens a new session against the running framework: it activates
// every requested probe, enables the requested PMU counters, and starts
// sample collection. Every step is submitted as a request line through
// fw.local.Execute, exactly as a remote client's requests travel through
// fw.remote -- this is what lets Manager promote out of DORMANT and start
// driving handler.Poll() each tick even when no debugger is attached. Any
// failing step returns a SessionGuard reporting the failure. A failing
// BeginProfile is rolled back by the handler, which turns off every probe
// and PMU path enabled at that point; a failing ActivateProbe or ActivatePmu
// step returns without undoing the probes or counters that earlier steps of
// this call already enabled.
func Profile(info ProfileInfo) *SessionGuard {
	if fw == nil || !fw.canRun.Load() {
		return deadGuard("xpedite framework is not running")
	}

	var failures []string
	for _, key := range info.Probes {
		line := fmt.Sprintf("ActivateProbe --file %s --line %d --name %s", key.File, key.Line, key.Name)
		if err := executeOK(line); err != nil {
			failures = append(failures, errors.Wrapf(err, "activate probe %s", key).Error())
		}
	}
	if len(failures) > 0 {
		return deadGuard(strings.Join(failures, "; "))
	}

	if info.GpCtrCount > 0 || len(info.FixedCtrList) > 0 {
		line := fmt.Sprintf("ActivatePmu --gpCtrCount %d", info.GpCtrCount)
		if len(info.FixedCtrList) > 0 {
			toks := make([]string, len(info.FixedCtrList))
			for i, idx := range info.FixedCtrList {
				toks[i] = strconv.Itoa(int(idx))
			}
			line += " --fixedCtrList " + strings.Join(toks, ",")
		}
		if err := executeOK(line); err != nil {
			return deadGuard(errors.Wrap(err, "activate pmu counters").Error())
		}
	}

	pattern := info.SamplesFilePattern
	if pattern == "" {
		pattern = "xpedite-samples-" + strconv.Itoa(fw.tid)
	}
	pollMs := int(localProfilePollInterval / time.Millisecond)
	if pollMs < 1 {
		pollMs = 1
	}
	beginLine := fmt.Sprintf("BeginProfile --samplesFilePattern %s --pollInterval %d --samplesDataCapacity %d", pattern, pollMs, info.SamplesDataCapacity)
	if err := executeOK(beginLine); err != nil {
		return deadGuard(errors.Wrap(err, "begin profile").Error())
	}

	return &SessionGuard{alive: true}
}

// executeOK submits line to fw.local and turns either a transport failure
// (queue full, timeout) or an error Response into a single error, so
// Profile's call sites don't need to unpack protocol.Response themselves.
func executeOK(line string) error {
	resp, err := fw.local.Execute(line, localExecuteTimeout)
	if err != nil {
		return err
	}
	if !resp.OK {
		return errors.New(resp.Text)
	}
	return nil
}

// InitializeThread registers the calling goroutine's SampleBuffer with the
// framework, idempotently. It returns whether this call performed the
// allocation (false on subsequent calls from the same goroutine).
func InitializeThread() bool {
	if fw == nil {
		return false
	}
	_, fresh := fw.buffers.InitializeThread()
	return fresh
}
