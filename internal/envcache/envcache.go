// SPDX-License-Identifier: MPL-2.0

// Package envcache persists the last complete set of discovered environment
// paths. The cache is an optimization only: every read failure is a miss and
// every write failure is logged and dropped.
package envcache

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// FileName is the cache file name inside the cache directory.
const FileName = "environments.json"

// Cache reads and writes the JSON array of environment paths.
type Cache struct {
	path   string
	logger *log.Logger
}

// New creates a Cache stored at path. A nil logger discards messages.
func New(path string, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Cache{path: path, logger: logger}
}

// Path returns the cache file location.
func (c *Cache) Path() string {
	return c.path
}

// Load returns the persisted paths. A missing, unreadable, malformed or
// non-array file is reported as a miss.
func (c *Cache) Load() ([]string, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("cache unreadable", "path", c.path, "err", err)
		}
		return nil, false
	}
	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		c.logger.Debug("cache corrupt, ignoring", "path", c.path, "err", err)
		return nil, false
	}
	if paths == nil {
		// "null" decodes without error but is not an array.
		return nil, false
	}
	return paths, true
}

// Save writes paths, creating parent directories as needed. The write goes
// through a temporary file so readers never see a partial array.
func (c *Cache) Save(paths []string) {
	if paths == nil {
		paths = []string{}
	}
	if err := c.write(paths); err != nil {
		c.logger.Debug("cache write failed", "path", c.path, "err", err)
	}
}

// Clear removes the cache file.
func (c *Cache) Clear() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (c *Cache) write(paths []string) error {
	data, err := json.Marshal(paths)
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".environments-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
