package config

import (
	"sync"
	"sync/atomic"

	"github.com/spf13/pflag"
)

// Manager holds the current configuration and replaces it on Reload.
// Readers always see a complete snapshot; a failed reload keeps the previous one.
type Manager struct {
	path  string
	flags *pflag.FlagSet

	mu      sync.Mutex // serialises Reload
	current atomic.Pointer[Config]
}

// NewManager loads the initial configuration.
func NewManager(path string, flags *pflag.FlagSet) (*Manager, error) {
	cfg, err := Load(path, flags)
	if err != nil {
		return nil, err
	}
	cfg.Revision = 1
	m := &Manager{path: path, flags: flags}
	m.current.Store(cfg)
	return m, nil
}

// Current returns the active configuration. Callers must not modify it.
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// Reload re-reads every source and swaps the active configuration.
func (m *Manager) Reload() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := Load(m.path, m.flags)
	if err != nil {
		return m.current.Load(), err
	}
	cfg.Revision = m.current.Load().Revision + 1
	m.current.Store(cfg)
	return cfg, nil
}
