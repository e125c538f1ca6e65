// SPDX-License-Identifier: MPL-2.0

// Package locator implements the four independent discovery strategies:
// the PATH, package-manager registries, workspace-local environments and
// per-user home stores. A locator never fails: a sub-scan that errors or
// panics contributes nothing and the others still report.
package locator

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/envscout/envscout/internal/probe"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const (
	// KindPath probes every PATH directory.
	KindPath Kind = "path"
	// KindRegistry reads package-manager registries and install roots.
	KindRegistry Kind = "registry"
	// KindWorkspace looks inside workspace roots.
	KindWorkspace Kind = "workspace"
	// KindHome scans per-user version-manager and tool stores.
	KindHome Kind = "home"
)

type (
	// Kind names a discovery strategy. At most one task per kind runs at a time.
	Kind string

	// Locator discovers executables. Results are absolute and deduplicated.
	Locator interface {
		Kind() Kind
		Locate(ctx context.Context) []string
	}

	// subScan is one independent piece of a locator.
	subScan struct {
		name string
		run  func(ctx context.Context) []string
	}
)

// Kinds returns every locator kind in launch order.
func Kinds() []Kind {
	return []Kind{KindPath, KindRegistry, KindWorkspace, KindHome}
}

// String returns the kind name.
func (k Kind) String() string { return string(k) }

func orDiscard(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.New(io.Discard)
	}
	return logger
}

// runAll runs the sub-scans concurrently and unions whatever succeeded,
// keeping sub-scan order. A panicking sub-scan is logged and skipped.
func runAll(ctx context.Context, logger *log.Logger, kind Kind, scans []subScan) []string {
	logger = orDiscard(logger)
	results := make([][]string, len(scans))
	var g errgroup.Group
	for i, s := range scans {
		g.Go(func() error {
			results[i] = guard(ctx, logger, kind, s)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // sub-scans never return errors

	var all []string
	for _, r := range results {
		all = append(all, r...)
	}
	return normalize(all)
}

func guard(ctx context.Context, logger *log.Logger, kind Kind, s subScan) (found []string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("sub-scan failed", "locator", kind, "scan", s.name, "err", fmt.Sprint(r))
			found = nil
		}
	}()
	return s.run(ctx)
}

// normalize makes every path absolute and drops duplicates, keeping order.
func normalize(paths []string) []string {
	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if a, err := filepath.Abs(p); err == nil {
			p = a
		}
		abs = append(abs, p)
	}
	return probe.Dedupe(abs)
}
