package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"unsafe"

	"gopkg.in/yaml.v3"
)

// Manager owns the configuration lifecycle: defaults, file overlay,
// environment overrides, atomic snapshot publication. Readers call Get and
// never block a reload in progress.
type Manager struct {
	configPtr unsafe.Pointer
	path      string
	watchers  []func(*Config)
	watcherMu sync.RWMutex
}

// NewManager creates a Manager reading from the given path; empty means
// DefaultPath. The manager starts with defaults published so Get is always
// safe.
func NewManager(path string) *Manager {
	if path == "" {
		path = DefaultPath
	}
	m := &Manager{path: path}
	atomic.StorePointer(&m.configPtr, unsafe.Pointer(DefaultConfig()))
	return m
}

// Get returns the current configuration snapshot. The returned value is
// shared and must not be mutated.
func (m *Manager) Get() *Config {
	return (*Config)(atomic.LoadPointer(&m.configPtr))
}

// Load builds a fresh configuration from defaults, the file, and the
// environment, validates it, and publishes it atomically.
func (m *Manager) Load() error {
	cfg := DefaultConfig()

	if err := m.loadYAMLFile(m.path, cfg); err != nil {
		return fmt.Errorf("config file %s: %w", m.path, err)
	}
	m.applyEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	atomic.StorePointer(&m.configPtr, unsafe.Pointer(cfg))
	m.notifyWatchers(cfg)
	return nil
}

// OnChange registers a callback invoked after each successful Load.
func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	defer m.watcherMu.RUnlock()
	for _, fn := range m.watchers {
		fn(cfg)
	}
}

func (m *Manager) loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvironment overrides selected fields from LOUPE_* variables.
func (m *Manager) applyEnvironment(cfg *Config) {
	if v := os.Getenv("LOUPE_STORE_DIR"); v != "" {
		cfg.Store.Dir = v
	}
	if v := os.Getenv("LOUPE_CORPUS_DB"); v != "" {
		cfg.Store.CorpusDB = v
	}
	if v := os.Getenv("LOUPE_LEDGER_DB"); v != "" {
		cfg.Store.LedgerDB = v
	}
	if v := os.Getenv("LOUPE_EMBED_PROVIDER"); v != "" {
		cfg.Embed.Provider = v
	}
	if v := os.Getenv("LOUPE_EMBED_MODEL"); v != "" {
		cfg.Embed.Model = v
	}
	if v := os.Getenv("LOUPE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.Workers = n
		}
	}
	if v := os.Getenv("LOUPE_SEMANTIC_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retrieval.SemanticThreshold = f
		}
	}
	if v := os.Getenv("LOUPE_WATCH_ROOT"); v != "" {
		cfg.Watch.Root = v
		cfg.Watch.Enabled = true
	}
}
