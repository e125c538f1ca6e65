// SPDX-License-Identifier: MPL-2.0

package locator

import (
	"context"
	"path/filepath"

	"github.com/envscout/envscout/internal/scan"
	"github.com/envscout/envscout/pkg/platform"

	"github.com/charmbracelet/log"
)

const (
	// StoreFlat holds one marked environment per subdirectory.
	StoreFlat StoreLayout = iota
	// StoreVersioned holds one language install per subdirectory, with
	// optional named environments below each install.
	StoreVersioned
	// StoreSingle is itself one environment or install prefix.
	StoreSingle
)

type (
	// StoreLayout tells the scanner how environments are arranged in a store.
	StoreLayout int

	// Store is one directory scanned by the home locator.
	Store struct {
		Name   string
		Dir    string
		Layout StoreLayout
		// Nested is the per-install subdirectory holding named
		// environments (pyenv "envs"); versioned stores only.
		Nested string
	}

	// HomeLocator scans every store concurrently.
	HomeLocator struct {
		Target scan.Target
		Stores []Store
		Logger *log.Logger
	}
)

// Depth is how many directory levels below Dir an environment binary can
// appear, used to size watches over the store.
func (s Store) Depth() int {
	switch s.Layout {
	case StoreSingle:
		return 2
	case StoreVersioned:
		if s.Nested != "" {
			return 5
		}
		return 3
	default:
		return 3
	}
}

// HomeStores returns the per-OS store set for env followed by extra flat stores.
func HomeStores(env Env, extra []string) []Store {
	var stores []Store
	add := func(name, dir string, layout StoreLayout, nested string) {
		if dir != "" {
			stores = append(stores, Store{Name: name, Dir: dir, Layout: layout, Nested: nested})
		}
	}
	join := func(base string, elem ...string) string {
		if base == "" {
			return ""
		}
		return filepath.Join(append([]string{base}, elem...)...)
	}

	if env.windows() {
		add("pyenv-win", join(env.or("PYENV", ".pyenv", "pyenv-win"), "versions"), StoreVersioned, "")
		add("python.org", join(env.localAppData(), "Programs", "Python"), StoreVersioned, "")
		add("uv-python", join(env.appData(), "uv", "python"), StoreVersioned, "")
		add("virtualenvwrapper", env.or("WORKON_HOME", "Envs"), StoreFlat, "")
		add("pipenv", join(env.Home, ".virtualenvs"), StoreFlat, "")
		add("poetry", join(env.localAppData(), "pypoetry", "Cache", "virtualenvs"), StoreFlat, "")
		add("pipx", join(env.or("PIPX_HOME", "pipx"), "venvs"), StoreFlat, "")
		add("uv-tools", join(env.appData(), "uv", "tools"), StoreFlat, "")
	} else {
		add("pyenv", join(env.or("PYENV_ROOT", ".pyenv"), "versions"), StoreVersioned, "envs")
		add("asdf", join(env.or("ASDF_DATA_DIR", ".asdf"), "installs", "python"), StoreVersioned, "")
		add("mise", join(env.or("MISE_DATA_DIR", ".local", "share", "mise"), "installs", "python"), StoreVersioned, "")
		add("uv-python", join(env.dataHome(), "uv", "python"), StoreVersioned, "")
		add("virtualenvwrapper", env.or("WORKON_HOME", ".virtualenvs"), StoreFlat, "")
		add("pipenv", join(env.dataHome(), "virtualenvs"), StoreFlat, "")
		add("poetry", join(env.cacheHome(), "pypoetry", "virtualenvs"), StoreFlat, "")
		add("pipx", join(env.or("PIPX_HOME", ".local", "pipx"), "venvs"), StoreFlat, "")
		add("uv-tools", join(env.dataHome(), "uv", "tools"), StoreFlat, "")
		add("user-local", join(env.Home, ".local"), StoreSingle, "")
		if env.GOOS == platform.Darwin {
			add("python.org", "/Library/Frameworks/Python.framework/Versions", StoreVersioned, "")
		}
	}
	for _, dir := range extra {
		add("extra", dir, StoreFlat, "")
	}
	return dedupeStores(stores)
}

func dedupeStores(stores []Store) []Store {
	seen := make(map[string]struct{}, len(stores))
	out := stores[:0]
	for _, s := range stores {
		key := filepath.Clean(s.Dir)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Kind implements Locator.
func (l *HomeLocator) Kind() Kind { return KindHome }

// Locate implements Locator.
func (l *HomeLocator) Locate(ctx context.Context) []string {
	scans := make([]subScan, 0, len(l.Stores))
	for _, s := range l.Stores {
		scans = append(scans, subScan{
			name: s.Name,
			run:  func(ctx context.Context) []string { return l.scanStore(ctx, s) },
		})
	}
	return runAll(ctx, orDiscard(l.Logger), KindHome, scans)
}

func (l *HomeLocator) scanStore(ctx context.Context, s Store) []string {
	switch s.Layout {
	case StoreVersioned:
		return scan.VersionedStore(ctx, s.Dir, l.Target, s.Nested)
	case StoreSingle:
		if bin, ok := l.Target.Binary(s.Dir); ok {
			return []string{bin}
		}
		return nil
	default:
		return scan.ShallowStore(ctx, s.Dir, l.Target)
	}
}
