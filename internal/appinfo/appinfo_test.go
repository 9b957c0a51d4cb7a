package appinfo

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/msdhamodharan/xpedite/internal/probe"
)

func TestWriteProducesExpectedLines(t *testing.T) {
	var buf bytes.Buffer
	info := Info{
		PID:    123,
		Port:   9001,
		Binary: "/usr/bin/app",
		TscHz:  2400000000,
		Probes: []probe.Probe{
			{Key: probe.Key{File: "a.cpp", Line: 10, Name: "foo"}, Enabled: true},
		},
	}
	require.NoError(t, Write(&buf, info))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Equal(t, "pid: 123", lines[0])
	require.Equal(t, "port: 9001", lines[1])
	require.Equal(t, "binary: /usr/bin/app", lines[2])
	require.Equal(t, "tscHz: 2400000000", lines[3])
	require.Equal(t, "a.cpp,10,foo,true", lines[4])
}
