package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/msdhamodharan/xpedite/internal/probe"
)

// fileConfig is the optional on-disk companion to the kong flags: a list of
// statically known probes too numerous or too environment-specific to pass
// on the command line.
type fileConfig struct {
	Probes []probeConfig `yaml:"probes,omitempty"`
}

type probeConfig struct {
	File string `yaml:"file"`
	Line uint32 `yaml:"line"`
	Name string `yaml:"name,omitempty"`
}

// loadConfig reads and parses an optional YAML probe manifest. A missing
// path is not an error; it just means no extra probes are registered.
func loadConfig(path string) (fileConfig, error) {
	if path == "" {
		return fileConfig{}, nil
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fileConfig{}, nil
	}
	if err != nil {
		return fileConfig{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func (c fileConfig) keys() []probe.Key {
	keys := make([]probe.Key, 0, len(c.Probes))
	for _, p := range c.Probes {
		keys = append(keys, probe.Key{File: p.File, Line: p.Line, Name: p.Name})
	}
	return keys
}
