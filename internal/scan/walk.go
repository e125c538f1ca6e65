// SPDX-License-Identifier: MPL-2.0

package scan

import (
	"context"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	// DefaultMaxDepth is how far below the root a walk descends.
	DefaultMaxDepth = 3
	// DefaultBudget caps the number of directories one walk may read.
	DefaultBudget = 500
)

// noiseDirs are skipped outright: dependency caches, build output and VCS
// metadata never contain environments worth finding.
var noiseDirs = []string{
	".git",
	".hg",
	".svn",
	"node_modules",
	"__pycache__",
	".mypy_cache",
	".pytest_cache",
	".ruff_cache",
	".tox",
	".nox",
	".idea",
	".vscode",
	"site-packages",
	"build",
	"dist",
	"target",
	"*.egg-info",
}

type (
	// WalkOptions bounds a recursive walk.
	WalkOptions struct {
		// MaxDepth is the deepest level below the root that is read. Zero or
		// negative falls back to DefaultMaxDepth.
		MaxDepth int
		// Budget is the number of directory reads shared by the whole walk.
		// Zero or negative falls back to DefaultBudget.
		Budget int
		// Skip are extra doublestar patterns matched against directory names.
		Skip []string
	}

	walker struct {
		target   Target
		maxDepth int
		budget   int
		skip     []string
		found    []string
	}
)

// NoiseDirs returns a copy of the directory name patterns every walk skips.
func NoiseDirs() []string {
	out := make([]string, len(noiseDirs))
	copy(out, noiseDirs)
	return out
}

// Walk recursively searches root for environments holding the target
// executable. Recursion stops at a confirmed environment, at MaxDepth, or
// once the shared directory budget is spent.
func Walk(ctx context.Context, root string, target Target, opts WalkOptions) []string {
	w := &walker{
		target:   target,
		maxDepth: opts.MaxDepth,
		budget:   opts.Budget,
		skip:     append(NoiseDirs(), opts.Skip...),
	}
	if w.maxDepth <= 0 {
		w.maxDepth = DefaultMaxDepth
	}
	if w.budget <= 0 {
		w.budget = DefaultBudget
	}
	w.visit(ctx, root, 0)
	return w.found
}

func (w *walker) visit(ctx context.Context, dir string, depth int) {
	if ctx.Err() != nil || w.budget <= 0 {
		return
	}
	w.budget--

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || w.skipped(e.Name()) {
			continue
		}
		child := filepath.Join(dir, e.Name())
		if w.target.HasMarker(child) {
			if bin, ok := w.target.Binary(child); ok {
				w.found = append(w.found, bin)
				// Never look inside a found environment.
				continue
			}
		}
		if depth+1 >= w.maxDepth {
			continue
		}
		w.visit(ctx, child, depth+1)
		if w.budget <= 0 {
			return
		}
	}
}

func (w *walker) skipped(name string) bool {
	for _, pat := range w.skip {
		if ok, err := doublestar.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}
