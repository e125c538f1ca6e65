// SPDX-License-Identifier: MPL-2.0

package scan

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/envscout/envscout/pkg/platform"
)

// defaultFastSearchTimeout caps a single index query.
const defaultFastSearchTimeout = 2 * time.Second

// maxFastSearchResults stops parsing output from a runaway index query.
const maxFastSearchResults = 200

type (
	// Runner executes an external command and returns its stdout.
	Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

	// FastSearcher queries an OS-native file index (Spotlight, plocate,
	// Everything) for marker files below a root. It is an accelerator only:
	// when no backend is installed or the query fails, it finds nothing.
	FastSearcher struct {
		run      Runner
		lookPath func(string) (string, error)
		goos     string
		timeout  time.Duration
	}

	// FastSearchOption configures a FastSearcher.
	FastSearchOption func(*FastSearcher)
)

// WithRunner replaces the command runner.
func WithRunner(r Runner) FastSearchOption {
	return func(s *FastSearcher) { s.run = r }
}

// WithLookPath replaces exec.LookPath for backend detection.
func WithLookPath(fn func(string) (string, error)) FastSearchOption {
	return func(s *FastSearcher) { s.lookPath = fn }
}

// WithGOOS forces the backend family, mainly for tests.
func WithGOOS(goos string) FastSearchOption {
	return func(s *FastSearcher) { s.goos = goos }
}

// WithTimeout overrides the per-query timeout.
func WithTimeout(d time.Duration) FastSearchOption {
	return func(s *FastSearcher) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewFastSearcher creates a FastSearcher for the current platform.
func NewFastSearcher(opts ...FastSearchOption) *FastSearcher {
	s := &FastSearcher{
		run:      runCommand,
		lookPath: exec.LookPath,
		goos:     runtime.GOOS,
		timeout:  defaultFastSearchTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether a backend exists on this machine.
func (s *FastSearcher) Available() bool {
	_, _, ok := s.backend("", "")
	return ok
}

// Search returns executables of environments whose marker file was found
// under root by the file index.
func (s *FastSearcher) Search(ctx context.Context, root string, target Target) []string {
	var found []string
	seen := make(map[string]struct{})
	for _, marker := range target.Markers {
		name, args, ok := s.backend(root, marker)
		if !ok {
			return nil
		}
		qctx, cancel := context.WithTimeout(ctx, s.timeout)
		out, err := s.run(qctx, name, args...)
		cancel()
		if err != nil {
			continue
		}
		for _, hit := range parseLines(out) {
			if filepath.Base(hit) != marker || !within(root, hit) {
				continue
			}
			bin, ok := target.Binary(filepath.Dir(hit))
			if !ok {
				continue
			}
			if _, dup := seen[bin]; dup {
				continue
			}
			seen[bin] = struct{}{}
			found = append(found, bin)
		}
	}
	return found
}

// backend picks the index command for the platform.
func (s *FastSearcher) backend(root, marker string) (string, []string, bool) {
	switch s.goos {
	case platform.Darwin:
		if _, err := s.lookPath("mdfind"); err != nil {
			return "", nil, false
		}
		return "mdfind", []string{"-onlyin", root, "-name", marker}, true
	case platform.Windows:
		if _, err := s.lookPath("es.exe"); err != nil {
			return "", nil, false
		}
		return "es.exe", []string{"-n", "200", "-path", root, marker}, true
	default:
		for _, name := range []string{"plocate", "locate"} {
			if _, err := s.lookPath(name); err == nil {
				pattern := filepath.Join(root, "*", marker)
				return name, []string{"--existing", "--limit", "200", pattern}, true
			}
		}
		return "", nil, false
	}
}

func parseLines(out []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() && len(lines) < maxFastSearchResults {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// within reports whether path lies below root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// runCommand runs the index query on the host, escaping a Flatpak sandbox
// whose view of the filesystem would hide the indexed paths.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	name, args = platform.HostCommand(name, args...)
	return exec.CommandContext(ctx, name, args...).Output()
}
