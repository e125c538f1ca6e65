// SPDX-License-Identifier: MPL-2.0

// Package scan walks tool-specific environment stores looking for a target
// executable. Every scanner is best-effort: unreadable or vanished
// directories contribute nothing and never surface as errors.
package scan

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/envscout/envscout/internal/probe"
	"github.com/envscout/envscout/pkg/platform"
)

const (
	// MarkerVenv marks a PEP 405 virtual environment.
	MarkerVenv = "pyvenv.cfg"
	// MarkerConda marks a conda environment (a directory, not a file).
	MarkerConda = "conda-meta"
)

// Target describes where the executable lives inside an environment and which
// marker entries prove a directory is an environment.
type Target struct {
	// Executable is the file name including any platform suffix.
	Executable string
	// BinDirs are the env-relative directories searched in order. An empty
	// string means the environment root itself.
	BinDirs []string
	// Markers are env-relative names whose presence marks a real environment.
	Markers []string
}

// DefaultTarget returns the per-OS layout for exe (a base name without suffix).
func DefaultTarget(exe string) Target {
	t := Target{
		Executable: probe.ExecutableName(exe),
		Markers:    []string{MarkerVenv, MarkerConda},
	}
	if runtime.GOOS == platform.Windows {
		// venvs use Scripts\, conda and python.org installs put it at the root.
		t.BinDirs = []string{"Scripts", ""}
	} else {
		t.BinDirs = []string{"bin"}
	}
	return t
}

// Binary returns the path of the executable inside envDir, if present.
func (t Target) Binary(envDir string) (string, bool) {
	for _, bin := range t.BinDirs {
		candidate := filepath.Join(envDir, bin, t.Executable)
		if probe.IsFile(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// HasMarker reports whether dir contains any of the target's markers.
func (t Target) HasMarker(dir string) bool {
	for _, m := range t.Markers {
		if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
			return true
		}
	}
	return false
}

// EnvDir maps a binary path back to its environment directory by stripping
// the bin directory it was found in.
func (t Target) EnvDir(binary string) string {
	dir := filepath.Dir(binary)
	for _, bin := range t.BinDirs {
		if bin != "" && filepath.Base(dir) == bin {
			return filepath.Dir(dir)
		}
	}
	return dir
}

// readSubdirs lists the directories directly below root. Any read error
// yields an empty result.
func readSubdirs(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	dirs := make([]string, 0, len(entries))
	for _, e := range entries {
		path := filepath.Join(root, e.Name())
		if e.IsDir() {
			dirs = append(dirs, path)
			continue
		}
		// Stores often symlink environments (pyenv aliases, pipx shims).
		if e.Type()&os.ModeSymlink != 0 && probe.IsDir(path) {
			dirs = append(dirs, path)
		}
	}
	return dirs
}
