// Package loader reads strategy profile files and watches them for changes.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"marlin/internal/logger"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ProfileDefinition describes one configured strategy instance.
type ProfileDefinition struct {
	ID          string         `yaml:"id"`
	Kind        string         `yaml:"kind"` // "momentum" | "mean_reversion"
	Enabled     *bool          `yaml:"enabled"`
	Symbols     []string       `yaml:"symbols"` // empty = session symbols
	CooldownSec int            `yaml:"cooldown_sec"`
	Params      map[string]any `yaml:"params"`
}

// IsEnabled defaults to true when the flag is omitted.
func (d ProfileDefinition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

func (d ProfileDefinition) Cooldown() time.Duration {
	return time.Duration(d.CooldownSec) * time.Second
}

type profileFile struct {
	Strategies []ProfileDefinition `yaml:"strategies"`
}

// Load parses and validates the strategy profile file. Registration order is
// file order and must stay stable for deterministic signal ordering.
func Load(path string) ([]ProfileDefinition, error) {
	abs, err := filepath.Abs(strings.TrimSpace(path))
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading strategy profiles failed (%s): %w", abs, err)
	}
	var file profileFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing strategy profiles failed: %w", err)
	}
	if len(file.Strategies) == 0 {
		return nil, fmt.Errorf("strategy profile file defines no strategies")
	}
	seen := make(map[string]bool, len(file.Strategies))
	for i := range file.Strategies {
		def := &file.Strategies[i]
		def.ID = strings.TrimSpace(def.ID)
		if def.ID == "" {
			return nil, fmt.Errorf("strategy #%d is missing an id", i+1)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate strategy id: %s", def.ID)
		}
		seen[def.ID] = true
		switch strings.ToLower(strings.TrimSpace(def.Kind)) {
		case "momentum", "mean_reversion":
			def.Kind = strings.ToLower(strings.TrimSpace(def.Kind))
		default:
			return nil, fmt.Errorf("strategy %s has unknown kind %q", def.ID, def.Kind)
		}
		if def.CooldownSec < 0 {
			return nil, fmt.Errorf("strategy %s has negative cooldown", def.ID)
		}
		for j, sym := range def.Symbols {
			def.Symbols[j] = strings.ToUpper(strings.TrimSpace(sym))
		}
	}
	return file.Strategies, nil
}

// Watcher re-loads the profile file when it changes on disk and hands the
// fresh definitions to the callback. Editor write patterns (rename+create)
// are debounced.
type Watcher struct {
	path     string
	onChange func([]ProfileDefinition)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

func NewWatcher(path string, onChange func([]ProfileDefinition)) *Watcher {
	return &Watcher{path: path, onChange: onChange}
}

func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(w.path)
	if err != nil {
		fw.Close()
		return err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return err
	}

	w.mu.Lock()
	w.watcher = fw
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	go w.run(fw, abs, stopCh)
	return nil
}

func (w *Watcher) run(fw *fsnotify.Watcher, abs string, stopCh chan struct{}) {
	var debounce *time.Timer
	for {
		select {
		case evt, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != abs {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				defs, err := Load(abs)
				if err != nil {
					logger.Warnf("strategy profile reload failed, keeping previous set: %v", err)
					return
				}
				logger.Infof("strategy profiles reloaded: %d definitions", len(defs))
				w.onChange(defs)
			})
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logger.Warnf("profile watcher error: %v", err)
		case <-stopCh:
			return
		}
	}
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopCh != nil {
		close(w.stopCh)
		w.stopCh = nil
	}
	if w.watcher != nil {
		w.watcher.Close()
		w.watcher = nil
	}
}
