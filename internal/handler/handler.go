// Package handler implements the per-process control surface (spec §4.9):
// the live Profile, the open sample file, and the poll loop that drains
// sample buffers into segments. It also implements protocol.Dispatcher,
// turning parsed requests into calls against the rest of the core.
package handler

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/msdhamodharan/xpedite/internal/buffer"
	"github.com/msdhamodharan/xpedite/internal/ledger"
	"github.com/msdhamodharan/xpedite/internal/persist"
	"github.com/msdhamodharan/xpedite/internal/pmu"
	"github.com/msdhamodharan/xpedite/internal/probe"
	"github.com/msdhamodharan/xpedite/internal/profile"
	"github.com/msdhamodharan/xpedite/internal/sample"
	"github.com/msdhamodharan/xpedite/internal/selector"
)

// MinPollInterval is the floor enforced on BeginProfile's requested
// pollInterval (spec §4.7).
const MinPollInterval = time.Millisecond

// Handler owns the mutable control-plane state for one process: the probe
// registry, PMU capability, buffer registry, resolver, optional selector
// and ledger, and -- when a profile is active -- the open sample file and
// its sequence counter.
type Handler struct {
	registry *probe.Registry
	pmuCap   pmu.Capability
	buffers  *buffer.Registry
	resolver *probe.Resolver
	selector *selector.Selector
	ledger   *ledger.Ledger
	logger   log.Logger
	tscHz    uint64
	pmcCount uint32

	mu           sync.Mutex
	activeState  *profile.State
	file         *os.File
	pollInterval time.Duration
	capacity     uint64
	seq          uint32
	ledgerID     int64
}

// Option configures optional collaborators absent from New's required
// arguments.
type Option func(*Handler)

// WithSelector attaches a rule-based probe selector, enabling
// ActivateProbeSet/DeactivateProbeSet.
func WithSelector(s *selector.Selector) Option {
	return func(h *Handler) { h.selector = s }
}

// WithLedger attaches a session ledger for audit rows.
func WithLedger(l *ledger.Ledger) Option {
	return func(h *Handler) { h.ledger = l }
}

// WithLogger overrides the no-op default logger.
func WithLogger(logger log.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// New builds a Handler over its required collaborators.
func New(registry *probe.Registry, pmuCap pmu.Capability, buffers *buffer.Registry, resolver *probe.Resolver, tscHz uint64, pmcCount uint32, opts ...Option) *Handler {
	h := &Handler{
		registry: registry,
		pmuCap:   pmuCap,
		buffers:  buffers,
		resolver: resolver,
		tscHz:    tscHz,
		pmcCount: pmcCount,
		logger:   log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// IsProfileActive reports whether a session is currently open.
func (h *Handler) IsProfileActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.activeState != nil
}

// PollInterval returns the currently configured poll interval, or zero if
// no profile is active.
func (h *Handler) PollInterval() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pollInterval
}

// StartSession expands pattern to a unique timestamped pathname, creates
// the file, writes the FileHeader, and opens a new session (spec §4.9). Any
// probe or PMU state already enabled at this point -- typically by a prior
// ActivateProbeKey/ActivateProbeSet/EnableGpPMU/etc. request issued as part
// of the same BeginProfile request sequence -- is folded into this
// session's Profile.State via AdoptActivated/AdoptPMU, so both a mid-way
// failure here (invariant I2) and a normal StopSession (invariant I5)
// restore exactly what this request sequence turned on. This is the typed
// entry point the BeginProfile protocol request calls through; the
// framework package reaches it by submitting that request.
func (h *Handler) StartSession(pattern string, pollInterval time.Duration, capacity uint64, kind ledger.Kind) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.activeState != nil {
		return errors.New("a profile is already active")
	}
	if pollInterval < MinPollInterval {
		pollInterval = MinPollInterval
	}
	if capacity == 0 {
		capacity = buffer.DefaultCapacity
	}

	state := profile.New(h.registry, h.pmuCap, h.logger)
	state.AdoptActivated(h.registry.List())
	state.AdoptPMU(h.pmuCap.Snapshot())

	path := expandPattern(pattern, time.Now())
	f, err := os.Create(path)
	if err != nil {
		state.Stop()
		return errors.Wrapf(err, "create sample file %s", path)
	}

	callSites := h.resolver.CallSiteTable()
	if err := persist.PersistHeader(f, callSites, h.tscHz, h.pmcCount, time.Now()); err != nil {
		f.Close()
		os.Remove(path)
		state.Stop()
		return errors.Wrap(err, "write file header")
	}

	var ledgerID int64
	if h.ledger != nil {
		activated := state.ActivatedProbes()
		names := make([]string, len(activated))
		for i, k := range activated {
			names[i] = k.String()
		}
		ledgerID, err = h.ledger.Begin(kind, strings.Join(names, ","), path)
		if err != nil {
			level.Warn(h.logger).Log("msg", "failed to record session ledger begin", "err", err)
		}
	}

	h.activeState = state
	h.file = f
	h.pollInterval = pollInterval
	h.capacity = capacity
	h.seq = 0
	h.ledgerID = ledgerID
	return nil
}

// StopSession stops polling, closes the sample file, and runs
// Profile.State.Stop() to restore probes and PMU state (invariant I5).
func (h *Handler) StopSession() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.endProfileLocked(nil)
}

func (h *Handler) endProfileLocked(sessionErr error) error {
	if h.activeState == nil {
		return errors.New("no profile is active")
	}

	h.activeState.Stop()
	h.activeState = nil
	h.pollInterval = 0

	var closeErr error
	if h.file != nil {
		closeErr = h.file.Close()
		h.file = nil
	}

	if h.ledger != nil && h.ledgerID != 0 {
		if err := h.ledger.End(h.ledgerID, "", int64(h.seq), sessionErr); err != nil {
			level.Warn(h.logger).Log("msg", "failed to record session ledger end", "err", err)
		}
	}
	h.ledgerID = 0

	if closeErr != nil {
		return errors.Wrap(closeErr, "close sample file")
	}
	return sessionErr
}

// ActivateProbeKey resolves key and enables it against the active session,
// or against the registry directly if no session is open (matching the
// original's allowance for pre-session probe activation).
func (h *Handler) ActivateProbeKey(key probe.Key) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeState != nil {
		return h.activeState.ActivateProbe(key)
	}
	return h.registry.Enable(key)
}

// DeactivateProbeKey mirrors ActivateProbeKey.
func (h *Handler) DeactivateProbeKey(key probe.Key) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeState != nil {
		return h.activeState.DeactivateProbe(key)
	}
	return h.registry.Disable(key)
}

// EnableGpPMU delegates to the active session, or directly to the PMU
// capability if no session is open.
func (h *Handler) EnableGpPMU(n int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeState != nil {
		return h.activeState.EnableGpPMU(n)
	}
	return h.pmuCap.EnableGeneralPurpose(n)
}

// EnableFixedPMU mirrors EnableGpPMU for a single fixed counter index.
func (h *Handler) EnableFixedPMU(index uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeState != nil {
		return h.activeState.EnableFixedPMU(index)
	}
	return h.pmuCap.EnableFixed(index)
}

// EnablePerfEvents mirrors EnableGpPMU for the opaque perf events path.
func (h *Handler) EnablePerfEvents(req pmu.PerfEventRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeState != nil {
		return h.activeState.EnablePerfEvents(req)
	}
	return h.pmuCap.EnablePerfEvents(req)
}

// Poll drains every registered sample buffer and, if any samples were
// collected, persists one segment (spec §4.9). Empty ticks emit no
// segment. It is a no-op when no profile is active.
func (h *Handler) Poll() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeState == nil || h.file == nil {
		return nil
	}

	var staged []sample.Sample
	h.buffers.ForEachBuffer(func(b *buffer.SampleBuffer) {
		staged = b.Drain(staged)
	})
	if len(staged) == 0 {
		return nil
	}

	if err := persist.PersistSegment(h.file, staged, h.seq, time.Now()); err != nil {
		level.Error(h.logger).Log("msg", "failed to persist segment", "seq", h.seq, "err", err)
		h.seq++
		return err
	}
	h.seq++
	if h.ledger != nil && h.ledgerID != 0 {
		if err := h.ledger.IncrementSegments(h.ledgerID); err != nil {
			level.Warn(h.logger).Log("msg", "failed to record segment in session ledger", "err", err)
		}
	}
	return nil
}

// Abort forcibly ends an active session due to a transport-layer failure
// (spec §7, error classes 5), recording sessionErr in the ledger.
func (h *Handler) Abort(sessionErr error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeState == nil {
		return
	}
	if err := h.endProfileLocked(sessionErr); err != nil {
		level.Error(h.logger).Log("msg", "error aborting profile", "err", err)
	}
}

func expandPattern(pattern string, now time.Time) string {
	stamp := strconv.FormatInt(now.UnixNano(), 10)
	if strings.Contains(pattern, "*") {
		return strings.Replace(pattern, "*", stamp, 1)
	}
	return fmt.Sprintf("%s.%s", pattern, stamp)
}
