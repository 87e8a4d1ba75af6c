package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// LoadFile reads and validates a rule configuration from a JSON file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Store holds the active rule configuration and supports atomic reload.
// Readers always see a complete, validated config; a failed reload keeps
// the previous version active.
type Store struct {
	mu     sync.RWMutex
	path   string
	active *Config
}

// NewStore loads the config at path and returns a Store serving it.
func NewStore(path string) (*Store, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, active: cfg}, nil
}

// NewStaticStore wraps an already-validated config, for tests and embedded use.
func NewStaticStore(cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{active: cfg}, nil
}

// Active returns the currently active configuration.
func (s *Store) Active() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Reload re-reads the rules file and swaps it in if it validates.
func (s *Store) Reload() (*Config, error) {
	if s.path == "" {
		return nil, fmt.Errorf("store is not file-backed")
	}
	cfg, err := LoadFile(s.path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.active = cfg
	s.mu.Unlock()
	return cfg, nil
}
