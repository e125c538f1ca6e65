// SPDX-License-Identifier: MPL-2.0

package locator

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/envscout/envscout/pkg/platform"
)

// Env is the slice of the host environment the locators depend on.
type Env struct {
	Home   string
	GOOS   string
	Getenv func(string) string
}

// HostEnv reads the running process's environment.
func HostEnv() Env {
	home, _ := os.UserHomeDir() //nolint:errcheck // an empty home yields no stores
	return Env{Home: home, GOOS: runtime.GOOS, Getenv: os.Getenv}
}

func (e Env) get(key string) string {
	if e.Getenv == nil {
		return ""
	}
	return e.Getenv(key)
}

// or returns $key, or the fallback joined under the home directory.
func (e Env) or(key string, fallback ...string) string {
	if v := e.get(key); v != "" {
		return v
	}
	if e.Home == "" {
		return ""
	}
	return filepath.Join(append([]string{e.Home}, fallback...)...)
}

func (e Env) windows() bool { return e.GOOS == platform.Windows }

// dataHome is $XDG_DATA_HOME (~/.local/share). uv, pipx and mise follow it
// on macOS as well.
func (e Env) dataHome() string { return e.or("XDG_DATA_HOME", ".local", "share") }

func (e Env) cacheHome() string {
	if e.GOOS == platform.Darwin {
		return e.or("", "Library", "Caches")
	}
	return e.or("XDG_CACHE_HOME", ".cache")
}

func (e Env) localAppData() string { return e.or("LOCALAPPDATA", "AppData", "Local") }

func (e Env) appData() string { return e.or("APPDATA", "AppData", "Roaming") }
