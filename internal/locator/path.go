// SPDX-License-Identifier: MPL-2.0

package locator

import (
	"context"
	"path/filepath"

	"github.com/envscout/envscout/internal/probe"
)

// PathLocator finds the executable in every PATH directory.
type PathLocator struct {
	// Executable is the file name including any platform suffix.
	Executable string
	// Dirs overrides the PATH directories (tests).
	Dirs []string
}

// Kind implements Locator.
func (l *PathLocator) Kind() Kind { return KindPath }

// Locate implements Locator.
func (l *PathLocator) Locate(ctx context.Context) []string {
	dirs := l.Dirs
	if dirs == nil {
		dirs = probe.SearchPath()
	}
	hits := probe.ProbeDirs(ctx, dirs, l.Executable)
	out := make([]string, 0, len(hits))
	for _, dir := range hits {
		out = append(out, filepath.Join(dir, l.Executable))
	}
	return normalize(out)
}
