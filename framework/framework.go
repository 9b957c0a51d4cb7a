// Package framework is the library's entry point: Initialize spins up a
// single background goroutine that owns the control-plane state machine,
// Profile opens a session against it, and Halt tears it all down.
//
// This mirrors the original's global framework/initFlag/frameworkThread
// triple (lib/xpedite/framework/Framework.C): a package-level singleton
// guarded by sync.Once, not a type applications are expected to
// instantiate themselves.
package framework

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/msdhamodharan/xpedite/internal/appinfo"
	"github.com/msdhamodharan/xpedite/internal/buffer"
	"github.com/msdhamodharan/xpedite/internal/handler"
	"github.com/msdhamodharan/xpedite/internal/ledger"
	"github.com/msdhamodharan/xpedite/internal/pmu"
	"github.com/msdhamodharan/xpedite/internal/probe"
	"github.com/msdhamodharan/xpedite/internal/selector"
	"github.com/msdhamodharan/xpedite/internal/session"
	"github.com/msdhamodharan/xpedite/internal/tsc"
	"go.uber.org/atomic"
)

const (
	initTimeout             = 5 * time.Second
	awaitProfileInitTimeout = 120 * time.Second
)

// Config supplies the external collaborators Initialize has no other way
// to obtain: the probe substrate, an optional PMU driver, and optional
// selector/ledger directories. Probes is the full statically compiled set
// of call sites known to the process.
type Config struct {
	Probes       []probe.Key
	Command      probe.Command
	PMU          pmu.Capability
	Clock        tsc.Clock
	SelectorDir  string
	LedgerDir    string
	Logger       log.Logger
	ResolverSize int
	PMCCount     uint32
}

// instance holds everything the background goroutine needs. Exactly one
// lives for the process lifetime, built by Initialize and torn down by
// Halt.
type instance struct {
	logger  log.Logger
	buffers *buffer.Registry
	local   *session.Local
	remote  *session.Remote
	handler *handler.Handler
	manager *session.Manager
	ledger  *ledger.Ledger
	sel     *selector.Selector

	canRun      atomic.Bool
	tid         int
	stopped     chan struct{}
	appInfoPath string
}

var (
	initOnce sync.Once
	fw       *instance
	fwErr    error
)

// Initialize runs once per process (enforced by sync.Once, matching the
// original's std::once_flag). It spawns the background goroutine, then
// waits up to initTimeout (or awaitProfileInitTimeout if awaitProfileBegin
// is set) for initialization to complete, returning whether it succeeded.
func Initialize(appInfoPath string, listenerIP string, awaitProfileBegin bool, cfg Config) (bool, error) {
	initOnce.Do(func() {
		_, fwErr = doInitialize(appInfoPath, listenerIP, awaitProfileBegin, cfg)
	})
	if fwErr != nil {
		return false, fwErr
	}
	return fw != nil, nil
}

func doInitialize(appInfoPath, listenerIP string, awaitProfileBegin bool, cfg Config) (bool, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	registry := probe.NewRegistry(cfg.Command, cfg.Probes)

	pmuCap := cfg.PMU
	if pmuCap == nil {
		pmuCap = pmu.NewMemory()
	}

	resolver, err := probe.NewResolver(cfg.ResolverSize)
	if err != nil {
		return false, errors.Wrap(err, "create call-site resolver")
	}

	buffers := buffer.NewRegistry(buffer.DefaultCapacity)

	remote, err := session.Listen(listenerIP)
	if err != nil {
		return false, errors.Wrap(err, "start remote session listener")
	}

	var ledg *ledger.Ledger
	if cfg.LedgerDir != "" {
		ledg, err = ledger.Open(cfg.LedgerDir)
		if err != nil {
			remote.Close()
			return false, errors.Wrap(err, "open session ledger")
		}
	}

	var sel *selector.Selector
	if cfg.SelectorDir != "" {
		sel, err = selector.Open(cfg.SelectorDir, logger)
		if err != nil {
			remote.Close()
			if ledg != nil {
				ledg.Close()
			}
			return false, errors.Wrap(err, "open rule-based probe selector")
		}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = defaultClock
	}
	tscHz := tsc.Estimate(clock, 10*time.Millisecond)

	var hopts []handler.Option
	hopts = append(hopts, handler.WithLogger(logger))
	if sel != nil {
		hopts = append(hopts, handler.WithSelector(sel))
	}
	if ledg != nil {
		hopts = append(hopts, handler.WithLedger(ledg))
	}
	h := handler.New(registry, pmuCap, buffers, resolver, tscHz, cfg.PMCCount, hopts...)

	local := session.NewLocal(16)
	manager := session.NewManager(local, remote, h)

	fw = &instance{
		logger:      logger,
		buffers:     buffers,
		local:       local,
		remote:      remote,
		handler:     h,
		manager:     manager,
		ledger:      ledg,
		sel:         sel,
		stopped:     make(chan struct{}),
		appInfoPath: appInfoPath,
	}
	fw.canRun.Store(true)

	initDone := make(chan struct{})
	var initOnceClose sync.Once
	signalInit := func() {
		initOnceClose.Do(func() { close(initDone) })
	}

	go fw.run(registry, remote.Port(), tscHz, awaitProfileBegin, signalInit)

	timeout := initTimeout
	if awaitProfileBegin {
		timeout = awaitProfileInitTimeout
	}
	select {
	case <-initDone:
		return true, nil
	case <-time.After(timeout):
		return false, errors.New("xpedite framework initialization timed out")
	}
}

func (fw *instance) run(registry *probe.Registry, port int, tscHz uint64, awaitProfileBegin bool, signalInit func()) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	fw.tid = unix.Gettid()

	info := appinfo.Info{
		PID:    os.Getpid(),
		Port:   port,
		Binary: executablePath(),
		TscHz:  tscHz,
		Probes: registry.List(),
	}
	if err := appinfo.WriteFile(fw.appInfoPath, info); err != nil {
		level.Error(fw.logger).Log("msg", "failed to write app-info file", "path", fw.appInfoPath, "err", err)
	}

	if !awaitProfileBegin {
		signalInit()
	}

	defer close(fw.stopped)
	for fw.canRun.Load() {
		if err := fw.manager.Poll(fw.handler); err != nil {
			level.Error(fw.logger).Log("msg", "session manager poll failed", "err", err)
		}
		if awaitProfileBegin && fw.handler.IsProfileActive() {
			signalInit()
		}
		time.Sleep(fw.manager.NextInterval())
	}

	level.Info(fw.logger).Log("msg", "xpedite framework shutting down")
	fw.remote.Close()
	if fw.handler.IsProfileActive() {
		if err := fw.handler.Poll(); err != nil {
			level.Error(fw.logger).Log("msg", "error draining last segment during shutdown", "err", err)
		}
		if err := fw.handler.StopSession(); err != nil {
			level.Error(fw.logger).Log("msg", "error stopping active session during shutdown", "err", err)
		}
	}
	if fw.sel != nil {
		fw.sel.Close()
	}
	if fw.ledger != nil {
		fw.ledger.Close()
	}
}

// IsRunning reports whether the background goroutine is still active.
func IsRunning() bool {
	if fw == nil {
		return false
	}
	return fw.canRun.Load()
}

// Halt atomically clears the run flag and waits for the background
// goroutine to exit. It is idempotent and returns whether the flag was
// previously set.
func Halt() bool {
	if fw == nil {
		return false
	}
	was := fw.canRun.CompareAndSwap(true, false)
	if was {
		<-fw.stopped
	}
	return was
}

// PinThread pins the background goroutine's backing OS thread to core via
// sched_setaffinity. It fails if the framework is not running.
func PinThread(core int) error {
	if fw == nil || !fw.canRun.Load() {
		return errors.New("xpedite framework is not running")
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(fw.tid, &set)
}

func executablePath() string {
	p, err := os.Executable()
	if err != nil {
		return ""
	}
	return p
}

// defaultClock stands in for the rdtsc instruction the original read
// directly: nanosecond wall-clock time advances at a real, measurable rate,
// so Estimate's before/after delta yields a plausible tscHz even without a
// platform-specific counter wired in through Config.Clock.
func defaultClock() uint64 {
	return uint64(time.Now().UnixNano())
}
