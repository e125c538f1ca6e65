// SPDX-License-Identifier: MPL-2.0

package locator

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/envscout/envscout/internal/probe"
	"github.com/envscout/envscout/internal/scan"

	"github.com/charmbracelet/log"
)

// DefaultMaxRegistryEnvs bounds the candidates examined per run so that a
// stale or bloated registry cannot dominate discovery time.
const DefaultMaxRegistryEnvs = 30

// RegistryLocator reads the conda environments.txt manifest and scans
// well-known install roots, each of which is an environment itself and holds
// named environments under envs/.
type RegistryLocator struct {
	Target scan.Target
	// Manifest is the registry file; one environment path per line.
	Manifest string
	// Roots are install roots in precedence order.
	Roots []string
	// Max caps the candidate environments; zero means DefaultMaxRegistryEnvs.
	Max    int
	Logger *log.Logger
}

// NewRegistryLocator builds the locator for env. A non-empty manifest
// overrides the default location; extraRoots precede the well-known ones.
func NewRegistryLocator(env Env, target scan.Target, manifest string, extraRoots []string, maxEnvs int, logger *log.Logger) *RegistryLocator {
	if manifest == "" {
		manifest = RegistryManifest(env)
	}
	return &RegistryLocator{
		Target:   target,
		Manifest: manifest,
		Roots:    append(append([]string(nil), extraRoots...), RegistryRoots(env)...),
		Max:      maxEnvs,
		Logger:   orDiscard(logger),
	}
}

// RegistryManifest returns the default conda registry file location.
func RegistryManifest(env Env) string {
	if env.Home == "" {
		return ""
	}
	return filepath.Join(env.Home, ".conda", "environments.txt")
}

// RegistryRoots returns the well-known package-manager install roots for env.
func RegistryRoots(env Env) []string {
	var roots []string
	for _, key := range []string{"CONDA_ROOT", "MAMBA_ROOT_PREFIX"} {
		if v := env.get(key); v != "" {
			roots = append(roots, v)
		}
	}
	if env.Home != "" {
		for _, name := range []string{"miniconda3", "anaconda3", "miniforge3", "mambaforge", "micromamba"} {
			roots = append(roots, filepath.Join(env.Home, name))
		}
	}
	if env.windows() {
		if v := env.get("ProgramData"); v != "" {
			roots = append(roots, filepath.Join(v, "miniconda3"), filepath.Join(v, "anaconda3"))
		}
		return roots
	}
	return append(roots, "/opt/conda", "/opt/miniconda3", "/opt/anaconda3", "/opt/homebrew/Caskroom/miniforge/base")
}

// Kind implements Locator.
func (l *RegistryLocator) Kind() Kind { return KindRegistry }

// Locate implements Locator.
func (l *RegistryLocator) Locate(ctx context.Context) []string {
	logger := orDiscard(l.Logger)
	candidates := l.Candidates()

	found := runAll(ctx, logger, KindRegistry, []subScan{{
		name: "candidates",
		run: func(ctx context.Context) []string {
			var out []string
			for _, dir := range candidates {
				if ctx.Err() != nil {
					break
				}
				if bin, ok := l.Target.Binary(dir); ok {
					out = append(out, bin)
				}
			}
			return out
		},
	}})
	logger.Debug("registry scanned", "candidates", len(candidates), "found", len(found))
	return found
}

// Candidates lists environment directories from the manifest, the existing
// install roots and each root's envs/ directory, deduplicated and capped.
func (l *RegistryLocator) Candidates() []string {
	limit := l.Max
	if limit <= 0 {
		limit = DefaultMaxRegistryEnvs
	}

	var dirs []string
	dirs = append(dirs, readManifest(l.Manifest)...)
	for _, root := range l.Roots {
		// Absent install roots must not take slots from real environments.
		if !probe.IsDir(root) {
			continue
		}
		dirs = append(dirs, root)
		entries, err := os.ReadDir(filepath.Join(root, "envs"))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, filepath.Join(root, "envs", e.Name()))
			}
		}
	}
	dirs = normalize(dirs)
	if len(dirs) > limit {
		dirs = dirs[:limit]
	}
	return dirs
}

// readManifest returns the non-blank, non-comment lines of path.
func readManifest(path string) []string {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var dirs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		dirs = append(dirs, line)
	}
	return dirs
}
