package config

import (
	"fmt"
	"sync"
)

// ConfigManager provides thread-safe access to live configuration.
type ConfigManager interface {
	Get() *Config
	Set(cfg *Config)
	Reload(path string) error
}

// RWMutexManager provides thread-safe read-heavy config access using RWMutex.
// It keeps its own copy of every config it is given.
type RWMutexManager struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewRWMutexManager constructs a manager with an initial config.
func NewRWMutexManager(initial *Config) *RWMutexManager {
	return &RWMutexManager{cfg: initial.Clone()}
}

// Get returns the current config pointer under a shared lock.
func (m *RWMutexManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Set replaces the current config under an exclusive lock.
func (m *RWMutexManager) Set(cfg *Config) {
	next := cfg.Clone()
	m.mu.Lock()
	m.cfg = next
	m.mu.Unlock()
}

// Reload loads config from path and atomically swaps it into place.
func (m *RWMutexManager) Reload(path string) error {
	if path == "" {
		return fmt.Errorf("config reload path is required")
	}

	loaded, err := Load(path)
	if err != nil {
		return err
	}

	m.Set(loaded)
	return nil
}

var _ ConfigManager = (*RWMutexManager)(nil)
