// Package selector implements the rule-based probe selector (spec §4.11):
// a hot-reloaded directory of Sigma-shaped YAML rules, each compiled into
// an evaluator and matched against synthetic per-probe events to produce
// the probe key set for ActivateProbeSet/DeactivateProbeSet.
//
// The load/watch/reload shape is adapted directly from the teacher's
// sigma.Detector (sigma/sigma.go): fsnotify on the rule directory, a
// buffered reload-signal channel, and a full evaluator-table rebuild on
// every reload rather than an incremental patch.
package selector

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/bradleyjkemp/sigma-go"
	"github.com/bradleyjkemp/sigma-go/evaluator"
	"github.com/fsnotify/fsnotify"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/msdhamodharan/xpedite/internal/probe"
)

// ruleTable is swapped atomically on every (re)load, so readers (Match)
// never observe a partially rebuilt set of evaluators.
type ruleTable map[string]*evaluator.RuleEvaluator

// Selector watches a directory of rule files and evaluates them against
// probe metadata.
type Selector struct {
	dir     string
	logger  log.Logger
	table   atomic.Pointer[ruleTable]
	watcher *fsnotify.Watcher

	closeOnce sync.Once
	done      chan struct{}
}

// Open loads every *.yaml/*.yml rule in dir and starts watching it for
// writes/creates/removes/renames.
func Open(dir string, logger log.Logger) (*Selector, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create selector rule directory %s", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create selector rule watcher")
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "watch selector rule directory %s", dir)
	}

	s := &Selector{
		dir:     dir,
		logger:  logger,
		watcher: watcher,
		done:    make(chan struct{}),
	}

	if err := s.Reload(); err != nil {
		watcher.Close()
		return nil, err
	}

	go s.watchLoop()
	return s, nil
}

// Reload rebuilds the rule table from disk and swaps it in atomically.
func (s *Selector) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return errors.Wrapf(err, "read selector rule directory %s", s.dir)
	}

	table := make(ruleTable)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			level.Warn(s.logger).Log("msg", "failed to read selector rule", "path", path, "err", err)
			continue
		}
		rule, err := sigma.ParseRule(content)
		if err != nil {
			level.Warn(s.logger).Log("msg", "failed to parse selector rule", "path", path, "err", err)
			continue
		}
		table[rule.ID] = evaluator.ForRule(rule)
		if rule.Title != "" {
			table[rule.Title] = table[rule.ID]
		}
	}

	s.table.Store(&table)
	level.Info(s.logger).Log("msg", "loaded selector rules", "count", len(table), "dir", s.dir)
	return nil
}

func (s *Selector) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			ext := filepath.Ext(event.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.Reload(); err != nil {
				level.Error(s.logger).Log("msg", "failed to reload selector rules", "err", err)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			level.Error(s.logger).Log("msg", "selector rule watcher error", "err", err)
		case <-s.done:
			return
		}
	}
}

// Match evaluates rule against every probe in probes and returns the keys
// whose synthetic event matches.
func (s *Selector) Match(rule string, probes []probe.Probe) ([]probe.Key, error) {
	table := s.table.Load()
	if table == nil {
		return nil, errors.New("selector rule table not loaded")
	}
	ev, ok := (*table)[rule]
	if !ok {
		return nil, errors.Errorf("no selector rule named %q", rule)
	}

	ctx := context.Background()
	var matched []probe.Key
	for _, p := range probes {
		event := map[string]interface{}{
			"file":    p.Key.File,
			"line":    p.Key.Line,
			"name":    p.Key.Name,
			"enabled": p.Enabled,
		}
		result, err := ev.Matches(ctx, event)
		if err != nil {
			level.Warn(s.logger).Log("msg", "selector rule evaluation failed", "rule", rule, "probe", p.Key.String(), "err", err)
			continue
		}
		if result.Match {
			matched = append(matched, p.Key)
		}
	}
	return matched, nil
}

// Names returns the loaded rule identifiers, for ListProbes-adjacent
// diagnostics.
func (s *Selector) Names() []string {
	table := s.table.Load()
	if table == nil {
		return nil
	}
	out := make([]string, 0, len(*table))
	seen := make(map[*evaluator.RuleEvaluator]bool)
	for name, ev := range *table {
		if seen[ev] {
			continue
		}
		seen[ev] = true
		out = append(out, name)
	}
	return out
}

// Close stops the directory watcher.
func (s *Selector) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
	})
	return err
}
