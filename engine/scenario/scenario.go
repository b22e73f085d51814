// Package scenario holds the scenario configuration manager: YAML-backed
// model parameters with checksummed loads, pluggable validation, and an
// fsnotify-based hot-reload watcher so parameters can change between
// trajectories without restarting the embedding process.
package scenario

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Scenario is one set of model parameters.
type Scenario struct {
	Version   string             `yaml:"version"`
	UpdatedAt time.Time          `yaml:"updated_at"`
	Seed      uint64             `yaml:"seed"`
	Params    map[string]float64 `yaml:"params"`

	Checksum string `yaml:"-"`
}

// Param returns a named parameter or a fallback.
func (s *Scenario) Param(name string, fallback float64) float64 {
	if s == nil {
		return fallback
	}
	if v, ok := s.Params[name]; ok {
		return v
	}
	return fallback
}

// Validator checks a loaded scenario before it becomes current.
type Validator interface {
	Validate(s *Scenario) error
}

type defaultValidator struct{}

func (defaultValidator) Validate(s *Scenario) error {
	for name, v := range s.Params {
		if v < 0 {
			return fmt.Errorf("scenario param %q is negative", name)
		}
	}
	return nil
}

// Manager loads and serves the current scenario.
type Manager struct {
	path       string
	mu         sync.RWMutex
	current    *Scenario
	validators []Validator
}

func NewManager(path string) *Manager {
	m := &Manager{path: path, current: &Scenario{Params: map[string]float64{}}}
	m.AddValidator(defaultValidator{})
	return m
}

func (m *Manager) AddValidator(v Validator) {
	m.mu.Lock()
	m.validators = append(m.validators, v)
	m.mu.Unlock()
}

// Load reads the scenario file. A missing file yields an empty scenario
// rather than an error so embedders can run with built-in defaults.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		m.current = &Scenario{UpdatedAt: time.Now(), Params: map[string]float64{}}
		return nil
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read scenario file: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse scenario file: %w", err)
	}
	if s.Params == nil {
		s.Params = map[string]float64{}
	}
	sum := sha256.Sum256(data)
	s.Checksum = hex.EncodeToString(sum[:])
	for _, v := range m.validators {
		if err := v.Validate(&s); err != nil {
			return fmt.Errorf("scenario validation: %w", err)
		}
	}
	m.current = &s
	return nil
}

// Current returns the active scenario.
func (m *Manager) Current() *Scenario {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Save writes the scenario back to disk.
func (m *Manager) Save(s *Scenario) error {
	s.UpdatedAt = time.Now()
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal scenario: %w", err)
	}
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create scenario dir: %w", err)
		}
	}
	return os.WriteFile(m.path, data, 0o644)
}

// Watcher hot-reloads the scenario file on change.
type Watcher struct {
	manager *Manager
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	running bool
	done    chan struct{}
}

func NewWatcher(m *Manager) *Watcher {
	return &Watcher{manager: m}
}

// Start begins watching; onChange runs after each successful reload. Reload
// failures keep the previous scenario current.
func (w *Watcher) Start(onChange func(*Scenario)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(w.manager.path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.watcher = fw
	w.running = true
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		for {
			select {
			case evt, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != filepath.Clean(w.manager.path) {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				prev := w.manager.Current().Checksum
				if err := w.manager.Load(); err != nil {
					continue
				}
				cur := w.manager.Current()
				if cur.Checksum != prev && onChange != nil {
					onChange(cur)
				}
			case _, ok := <-fw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// Stop ends watching.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	_ = w.watcher.Close()
	<-w.done
	w.running = false
}
