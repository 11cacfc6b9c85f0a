// Package configstore holds the active nicqosd configuration and persists
// the changes made at runtime.
package configstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/psaab/nicqos/pkg/config"
)

// Store manages the active configuration tree and its compiled form.
type Store struct {
	mu       sync.RWMutex
	active   *config.ConfigTree
	compiled *config.Config
	filePath string
}

// New creates a store backed by filePath. Until Load succeeds the store
// holds the default configuration.
func New(filePath string) *Store {
	return &Store{
		active:   &config.ConfigTree{},
		compiled: config.Default(),
		filePath: filePath,
	}
}

// Load reads the configuration from disk. A missing file keeps the defaults.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using defaults", "path", s.filePath)
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return s.loadLocked(string(data))
}

// LoadString replaces the configuration with text without touching disk.
func (s *Store) LoadString(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(text)
}

func (s *Store) loadLocked(text string) error {
	tree, errs := config.NewParser(text).Parse()
	if len(errs) > 0 {
		return fmt.Errorf("parse config: %w", errs[0])
	}
	compiled, err := config.CompileConfig(tree)
	if err != nil {
		return fmt.Errorf("compile config: %w", err)
	}
	s.active = tree
	s.compiled = compiled
	return nil
}

// Save persists the active configuration, replacing the file atomically.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.filePath == "" {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), ".nicqos-*.conf")
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(s.active.Format()); err != nil {
		tmp.Close()
		return fmt.Errorf("save config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.filePath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// ActiveConfig returns the compiled active configuration.
func (s *Store) ActiveConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compiled
}

// SetActiveProfile records name as the profile to apply at startup and
// persists the change. The name must resolve in the current configuration.
func (s *Store) SetActiveProfile(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.compiled.ResolveProfile(name); err != nil {
		return err
	}
	tree := s.active.Clone()
	if err := tree.SetLeaf([]string{"gaming"}, "active-profile", name); err != nil {
		return err
	}
	compiled, err := config.CompileConfig(tree)
	if err != nil {
		return fmt.Errorf("compile config: %w", err)
	}
	s.active = tree
	s.compiled = compiled

	// The running state already changed; a failed write is not fatal.
	if err := s.saveLocked(); err != nil {
		slog.Warn("failed to persist active profile", "profile", name, "err", err)
	}
	return nil
}

// ShowActive returns the active configuration as hierarchical text.
func (s *Store) ShowActive() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.Format()
}

// ShowActiveSet returns the active configuration as flat set commands.
func (s *Store) ShowActiveSet() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.FormatSet()
}

// ExportJSON exports the compiled config as JSON (for debugging).
func (s *Store) ExportJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.MarshalIndent(s.compiled, "", "  ")
}
