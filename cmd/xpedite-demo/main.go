// Command xpedite-demo exercises the framework library end to end against
// a handful of synthetic probes, for smoke-testing and documentation --
// the Go analogue of the original's test/targets/PicApp.C demo target.
package main

import (
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/msdhamodharan/xpedite/framework"
	"github.com/msdhamodharan/xpedite/internal/probe"
)

// cli mirrors the flag surface the reference profiling agents in this
// corpus expose: a data directory, a listener address, and an optional
// rule directory, all overridable from the command line.
type cli struct {
	AppInfoFile  string `default:"xpedite-appinfo.txt" help:"Path to write the app-info file the profiler client discovers."`
	ListenerIP   string `default:"0.0.0.0" help:"IP address the remote control listener binds."`
	DataDir      string `default:"." help:"Directory for the session ledger database."`
	SelectorDir  string `default:"" help:"Optional directory of Sigma-shaped probe selector rules."`
	ProbeConfig  string `default:"" help:"Optional YAML file listing additional static probes."`
	TxnRateMs    int    `default:"10" help:"Milliseconds between simulated transactions."`
	AwaitProfile bool   `help:"Block Initialize until the first profile activates."`
}

// txnProbe emulates one XPEDITE_TXN_SCOPE call site: PicApp.C's
// transaction loop hits a single named probe per iteration.
var txnProbe = probe.Key{File: "xpedite-demo/main.go", Line: 0, Name: "transaction"}

func main() {
	var c cli
	kong.Parse(&c)

	logger := log.NewLogfmtLogger(os.Stdout)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	cmd := &loggingProbeCommand{logger: logger, enabled: map[probe.Key]bool{}}

	fcfg, err := loadConfig(c.ProbeConfig)
	if err != nil {
		level.Error(logger).Log("msg", "failed to load probe config", "err", err)
		os.Exit(1)
	}
	probes := append([]probe.Key{txnProbe}, fcfg.keys()...)

	ok, err := framework.Initialize(c.AppInfoFile, c.ListenerIP, c.AwaitProfile, framework.Config{
		Probes:      probes,
		Command:     cmd,
		LedgerDir:   c.DataDir,
		SelectorDir: c.SelectorDir,
		Logger:      logger,
	})
	if err != nil || !ok {
		level.Error(logger).Log("msg", "failed to initialize xpedite framework", "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "xpedite framework initialized", "appInfoFile", c.AppInfoFile)

	if !framework.InitializeThread() {
		level.Warn(logger).Log("msg", "InitializeThread reported an existing buffer on the main goroutine")
	}

	stop := make(chan struct{})
	go runTransactionLoop(logger, time.Duration(c.TxnRateMs)*time.Millisecond, stop)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	close(stop)
	level.Info(logger).Log("msg", "shutting down")
	framework.Halt()
}

// runTransactionLoop simulates PicApp.C's `while(true) { XPEDITE_TXN_SCOPE(...) }`
// by running simulateTransaction on a fixed cadence. It records no samples
// for txnProbe: the compiled probe macro that would do so is an external
// collaborator this repository does not implement.
func runTransactionLoop(logger log.Logger, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			simulateTransaction()
		}
	}
}

func simulateTransaction() {
	// A stand-in workload; real call sites would be woven through
	// application logic by the probe substrate, not simulated here.
	time.Sleep(time.Duration(rand.Intn(200)) * time.Microsecond)
}

// loggingProbeCommand is the demo's probe substrate: it has no real
// call-site machinery to flip, so it just logs and records state, letting
// the demo exercise ActivateProbe/DeactivateProbe end to end.
type loggingProbeCommand struct {
	logger  log.Logger
	enabled map[probe.Key]bool
}

func (c *loggingProbeCommand) Enable(file string, line uint32, name string) error {
	key := probe.Key{File: file, Line: line, Name: name}
	c.enabled[key] = true
	level.Debug(c.logger).Log("msg", "probe enabled", "probe", key.String())
	return nil
}

func (c *loggingProbeCommand) Disable(file string, line uint32, name string) error {
	key := probe.Key{File: file, Line: line, Name: name}
	c.enabled[key] = false
	level.Debug(c.logger).Log("msg", "probe disabled", "probe", key.String())
	return nil
}
