// SPDX-License-Identifier: MPL-2.0

// Package probe answers the cheapest discovery question: which directories
// contain a file with a given name. It backs the PATH locator and the
// validate capability used by the selection flow.
package probe

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/envscout/envscout/pkg/platform"

	"golang.org/x/sync/errgroup"
)

// maxParallelStats bounds the number of concurrent stat calls per probe.
const maxParallelStats = 16

// ExecutableName returns base with the platform executable suffix.
func ExecutableName(base string) string {
	if runtime.GOOS == platform.Windows && !strings.EqualFold(filepath.Ext(base), ".exe") {
		return base + ".exe"
	}
	return base
}

// SearchPath returns the directories listed in PATH, dropping empty entries.
func SearchPath() []string {
	parts := filepath.SplitList(os.Getenv("PATH"))
	dirs := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		dirs = append(dirs, p)
	}
	return dirs
}

// Dedupe cleans every directory and drops repeats, keeping first-seen order.
func Dedupe(dirs []string) []string {
	seen := make(map[string]struct{}, len(dirs))
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		clean := filepath.Clean(d)
		if runtime.GOOS == platform.Windows {
			// Windows paths are case-insensitive.
			key := strings.ToLower(clean)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, clean)
			continue
		}
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out
}

// ProbeDirs returns the subset of dirs that contain a regular file named
// filename. Directories are deduplicated before probing and checked
// concurrently; the result keeps input order. An inaccessible directory is
// simply a miss.
func ProbeDirs(ctx context.Context, dirs []string, filename string) []string {
	unique := Dedupe(dirs)
	hits := make([]bool, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelStats)
	for i, dir := range unique {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil //nolint:nilerr // cancellation is a miss, not a failure
			}
			hits[i] = IsFile(filepath.Join(dir, filename))
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines never return errors

	out := make([]string, 0, len(unique))
	for i, dir := range unique {
		if hits[i] {
			out = append(out, dir)
		}
	}
	return out
}

// IsFile reports whether path exists and is not a directory.
func IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Validate reports whether path names an executable that exists. Absolute
// paths are checked directly, bare names are resolved against PATH, and
// relative paths with separators are resolved against the working directory.
// It only checks existence and never runs the binary.
func Validate(path string) bool {
	path = strings.TrimSpace(path)
	if path == "" {
		return false
	}
	if filepath.IsAbs(path) {
		return IsFile(path)
	}
	if !strings.ContainsAny(path, `/\`) {
		name := path
		if filepath.Ext(name) == "" {
			name = ExecutableName(name)
		}
		return len(ProbeDirs(context.Background(), SearchPath(), name)) > 0
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return IsFile(abs)
}
