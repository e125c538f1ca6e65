// SPDX-License-Identifier: MPL-2.0

package locator

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/envscout/envscout/internal/scan"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/sync/errgroup"
)

// poetryConfigFile is the per-project Poetry settings file.
const poetryConfigFile = "poetry.toml"

type (
	// WorkspaceLocator finds environments inside workspace roots. Conventional
	// names are checked first; only when none of them hits does it fall back to
	// the file index and a bounded walk, run side by side.
	WorkspaceLocator struct {
		Target   scan.Target
		Roots    []string
		EnvNames []string
		Walk     scan.WalkOptions
		// Fast is the optional file-index searcher; nil disables it.
		Fast   *scan.FastSearcher
		Logger *log.Logger
	}

	poetryConfig struct {
		Virtualenvs struct {
			Path string `toml:"path"`
		} `toml:"virtualenvs"`
	}
)

// Kind implements Locator.
func (l *WorkspaceLocator) Kind() Kind { return KindWorkspace }

// Locate implements Locator.
func (l *WorkspaceLocator) Locate(ctx context.Context) []string {
	logger := orDiscard(l.Logger)
	scans := make([]subScan, 0, len(l.Roots))
	for _, root := range l.Roots {
		scans = append(scans, subScan{
			name: root,
			run:  func(ctx context.Context) []string { return l.locateRoot(ctx, root, logger) },
		})
	}
	return runAll(ctx, logger, KindWorkspace, scans)
}

func (l *WorkspaceLocator) locateRoot(ctx context.Context, root string, logger *log.Logger) []string {
	if hits := l.conventional(ctx, root); len(hits) > 0 {
		return hits
	}
	logger.Debug("no conventional environment, searching workspace", "root", root)

	var fast, walked []string
	var g errgroup.Group
	if l.Fast != nil && l.Fast.Available() {
		g.Go(func() error {
			fast = l.Fast.Search(ctx, root, l.Target)
			return nil
		})
	}
	g.Go(func() error {
		walked = scan.Walk(ctx, root, l.Target, l.Walk)
		return nil
	})
	_ = g.Wait() //nolint:errcheck // searches never return errors
	return append(fast, walked...)
}

// conventional checks the well-known directory names and the store named by
// poetry.toml.
func (l *WorkspaceLocator) conventional(ctx context.Context, root string) []string {
	var hits []string
	for _, name := range l.EnvNames {
		if bin, ok := l.Target.Binary(filepath.Join(root, name)); ok {
			hits = append(hits, bin)
		}
	}
	if store := PoetryStore(root); store != "" {
		hits = append(hits, scan.ShallowStore(ctx, store, l.Target)...)
	}
	return hits
}

// PoetryStore returns the virtualenvs.path configured in root/poetry.toml,
// resolved against root. Paths with Poetry placeholders are ignored.
func PoetryStore(root string) string {
	data, err := os.ReadFile(filepath.Join(root, poetryConfigFile))
	if err != nil {
		return ""
	}
	var cfg poetryConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return ""
	}
	p := strings.TrimSpace(cfg.Virtualenvs.Path)
	if p == "" || strings.Contains(p, "{") {
		return ""
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	return filepath.Clean(p)
}
