// SPDX-License-Identifier: MPL-2.0

// Package state is the small key-value store envscout keeps between runs,
// most importantly the active environment selection.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
)

// FileName is the store file inside the state directory.
const FileName = "state.json"

// ErrEmptyKey is returned when a key is empty.
var ErrEmptyKey = errors.New("state key must not be empty")

// Store is a JSON object file of string values. A missing or corrupt file
// reads as empty; writes replace the file atomically.
type Store struct {
	path   string
	logger *log.Logger

	mu     sync.Mutex
	values map[string]string
	loaded bool
}

// New creates a Store at path. A nil logger discards messages.
func New(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Store{path: path, logger: logger}
}

// Path returns the store file location.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key and writes the file.
func (s *Store) Set(key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	prev, had := s.values[key]
	s.values[key] = value
	if err := s.writeLocked(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	prev, had := s.values[key]
	if !had {
		return nil
	}
	delete(s.values, key)
	if err := s.writeLocked(); err != nil {
		s.values[key] = prev
		return err
	}
	return nil
}

// Reload drops the in-memory copy so the next read sees changes written by
// other processes.
func (s *Store) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.values = nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	return len(s.values)
}

func (s *Store) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.values = make(map[string]string)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("state unreadable", "path", s.path, "err", err)
		}
		return
	}
	if err := json.Unmarshal(data, &s.values); err != nil || s.values == nil {
		s.logger.Warn("state corrupt, starting empty", "path", s.path, "err", err)
		s.values = make(map[string]string)
	}
}

func (s *Store) writeLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
