// Package appinfo writes the plain-text app-info file a profiler client
// reads to discover a running process's control port and probe table.
package appinfo

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/msdhamodharan/xpedite/internal/probe"
)

// Info is everything the app-info file reports about one running process.
type Info struct {
	PID    int
	Port   int
	Binary string
	TscHz  uint64
	Probes []probe.Probe
}

// Write renders info in the fixed line-oriented format and writes it to w.
func Write(w io.Writer, info Info) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "pid: %d\n", info.PID)
	fmt.Fprintf(bw, "port: %d\n", info.Port)
	fmt.Fprintf(bw, "binary: %s\n", info.Binary)
	fmt.Fprintf(bw, "tscHz: %d\n", info.TscHz)
	for _, p := range info.Probes {
		fmt.Fprintf(bw, "%s,%d,%s,%t\n", p.Key.File, p.Key.Line, p.Key.Name, p.Enabled)
	}
	return bw.Flush()
}

// WriteFile creates (or truncates) path and writes info to it.
func WriteFile(path string, info Info) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create app-info file %s", path)
	}
	defer f.Close()
	if err := Write(f, info); err != nil {
		return errors.Wrapf(err, "write app-info file %s", path)
	}
	return nil
}
