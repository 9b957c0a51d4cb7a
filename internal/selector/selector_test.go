package selector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/msdhamodharan/xpedite/internal/probe"
)

const hotPathRule = `
title: hot-path-probes
id: hot-path-probes
logsource:
  category: probe
detection:
  selection:
    file: hot.cpp
  condition: selection
`

func writeRule(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestSelectorMatchesLoadedRule(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "hot.yaml", hotPathRule)

	s, err := Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	probes := []probe.Probe{
		{Key: probe.Key{File: "hot.cpp", Line: 1}},
		{Key: probe.Key{File: "cold.cpp", Line: 2}},
	}
	matched, err := s.Match("hot-path-probes", probes)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	require.Equal(t, "hot.cpp", matched[0].File)
}

func TestSelectorUnknownRuleErrors(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Match("does-not-exist", nil)
	require.Error(t, err)
}

func TestSelectorReloadPicksUpNewRule(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	require.Empty(t, s.Names())

	writeRule(t, dir, "hot.yaml", hotPathRule)
	require.NoError(t, s.Reload())
	require.NotEmpty(t, s.Names())
}
