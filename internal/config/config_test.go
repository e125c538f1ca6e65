// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/envscout/envscout/internal/issue"
	"github.com/envscout/envscout/internal/testutil"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	testutil.MustWriteFile(t, path, content)
	return path
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	t.Parallel()

	cfg, path, err := NewProvider().LoadWithPath(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if path != "" {
		t.Errorf("resolved path = %q, want empty", path)
	}
	def := DefaultConfig()
	if cfg.Toolchain.Executable != def.Toolchain.Executable {
		t.Errorf("Executable = %q, want %q", cfg.Toolchain.Executable, def.Toolchain.Executable)
	}
	if !slices.Equal(cfg.Discovery.EnvNames, DefaultEnvNames) {
		t.Errorf("EnvNames = %v", cfg.Discovery.EnvNames)
	}
	if got := cfg.Watch.SettleDelay.Or(0); got != time.Second {
		t.Errorf("SettleDelay = %v, want 1s", got)
	}
	if cfg.Discovery.MaxRegistryEnvs != DefaultMaxRegistryEnvs {
		t.Errorf("MaxRegistryEnvs = %d", cfg.Discovery.MaxRegistryEnvs)
	}
}

func TestLoad_CUEFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, `
toolchain: {
	executable: "python3"
	distribution: "ruff"
}
discovery: {
	env_names: [".venv", ".direnv"]
	walk_max_depth: 5
	fast_search: false
}
watch: debounce: "250ms"
ui: color_scheme: "dark"
`)
	cfg, path, err := NewProvider().LoadWithPath(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if path == "" {
		t.Error("resolved path is empty")
	}
	if cfg.Toolchain.Executable != "python3" || cfg.Toolchain.Distribution != "ruff" {
		t.Errorf("Toolchain = %+v", cfg.Toolchain)
	}
	if !slices.Equal(cfg.Discovery.EnvNames, []string{".venv", ".direnv"}) {
		t.Errorf("EnvNames = %v", cfg.Discovery.EnvNames)
	}
	if cfg.Discovery.WalkMaxDepth != 5 || cfg.Discovery.FastSearch {
		t.Errorf("Discovery = %+v", cfg.Discovery)
	}
	// Unset fields keep their defaults.
	if cfg.Discovery.WalkBudget != DefaultWalkBudget {
		t.Errorf("WalkBudget = %d, want default", cfg.Discovery.WalkBudget)
	}
	if got := cfg.Watch.Debounce.Or(0); got != 250*time.Millisecond {
		t.Errorf("Debounce = %v", got)
	}
	if cfg.UI.ColorScheme != ColorSchemeDark {
		t.Errorf("ColorScheme = %q", cfg.UI.ColorScheme)
	}
}

func TestLoad_SchemaViolation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"unknown field", `toolchain: nope: 1`},
		{"bad color scheme", `ui: color_scheme: "purple"`},
		{"bad duration", `watch: debounce: "soon"`},
		{"path in executable", `toolchain: executable: "/usr/bin/python"`},
		{"syntax error", `toolchain: {`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			_, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: dir})
			if err == nil {
				t.Fatal("Load() succeeded, want schema error")
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) {
				t.Fatalf("error %T is not actionable", err)
			}
			if ae.Operation != "load configuration" {
				t.Errorf("Operation = %q", ae.Operation)
			}
		})
	}
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	t.Parallel()

	_, err := NewProvider().Load(context.Background(), LoadOptions{
		ConfigFilePath: filepath.Join(t.TempDir(), "missing.cue"),
	})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v", err)
	}
}

func TestLoad_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewProvider().Load(ctx, LoadOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Load() error = %v, want context.Canceled", err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Cleanup(testutil.MustSetenv(t, "ENVSCOUT_TOOLCHAIN_EXECUTABLE", "pypy"))
	t.Cleanup(testutil.MustSetenv(t, "ENVSCOUT_LOG_LEVEL", "debug"))

	cfg, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Toolchain.Executable != "pypy" {
		t.Errorf("Executable = %q, want pypy", cfg.Toolchain.Executable)
	}
	if cfg.Log.Level != LogLevelDebug {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoad_EnvOverrideInvalid(t *testing.T) {
	t.Cleanup(testutil.MustSetenv(t, "ENVSCOUT_WATCH_SETTLE_DELAY", "-1s"))

	_, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("Load() error = %v, want ErrInvalidDuration", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), AppName)
	SetConfigDirOverride(dir)
	t.Cleanup(Reset)

	cfg := DefaultConfig()
	cfg.Toolchain.Distribution = "black"
	cfg.Discovery.Workspaces = []string{"/src/a", "/src/b"}
	cfg.Server.Command = `pylsp --log-file "$ENVSCOUT_ENV/lsp.log"`
	cfg.UI.Verbose = true
	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := NewProvider().Load(context.Background(), LoadOptions{})
	if err != nil {
		t.Fatalf("Load() error: %v\n%s", err, GenerateCUE(cfg))
	}
	if loaded.Toolchain.Distribution != "black" {
		t.Errorf("Distribution = %q", loaded.Toolchain.Distribution)
	}
	if !slices.Equal(loaded.Discovery.Workspaces, cfg.Discovery.Workspaces) {
		t.Errorf("Workspaces = %v", loaded.Discovery.Workspaces)
	}
	if loaded.Server.Command != cfg.Server.Command {
		t.Errorf("Server.Command = %q", loaded.Server.Command)
	}
	if !loaded.UI.Verbose {
		t.Error("UI.Verbose not persisted")
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), AppName)
	SetConfigDirOverride(dir)
	t.Cleanup(Reset)

	path, created, err := CreateDefaultConfig()
	if err != nil || !created {
		t.Fatalf("CreateDefaultConfig() = %q, %v, %v", path, created, err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file missing: %v", err)
	}
	if _, created, err = CreateDefaultConfig(); err != nil || created {
		t.Errorf("second CreateDefaultConfig() created=%v err=%v", created, err)
	}
}

func TestPlatformDirs_XDG(t *testing.T) {
	if testing.Short() || os.PathSeparator != '/' {
		t.Skip("XDG layout only applies to unix")
	}
	if _, err := os.Stat("/System/Library"); err == nil {
		t.Skip("macOS uses Library paths")
	}
	home := t.TempDir()
	t.Cleanup(testutil.SetHomeDir(t, home))
	t.Cleanup(testutil.MustSetenv(t, "XDG_CACHE_HOME", ""))
	t.Cleanup(testutil.MustSetenv(t, "XDG_STATE_HOME", filepath.Join(home, "state")))

	cache, err := CacheDir()
	if err != nil || cache != filepath.Join(home, ".cache", AppName) {
		t.Errorf("CacheDir() = %q, %v", cache, err)
	}
	state, err := StateDir()
	if err != nil || state != filepath.Join(home, "state", AppName) {
		t.Errorf("StateDir() = %q, %v", state, err)
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      Duration
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"750ms", 750 * time.Millisecond, false},
		{"1m30s", 90 * time.Second, false},
		{"fast", 0, true},
		{"-5s", 0, true},
	}
	for _, tt := range tests {
		got, err := tt.in.Parse("field")
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("Parse(%q) = %v, %v", tt.in, got, err)
		}
	}
	if got := Duration("bogus").Or(3 * time.Second); got != 3*time.Second {
		t.Errorf("Or() = %v, want fallback", got)
	}
}

func TestConfigIsValid(t *testing.T) {
	t.Parallel()

	if ok, errs := DefaultConfig().IsValid(); !ok {
		t.Fatalf("DefaultConfig().IsValid() = %v", errs)
	}

	bad := DefaultConfig()
	bad.UI.ColorScheme = "neon"
	bad.Log.Level = "trace"
	ok, errs := bad.IsValid()
	if ok || len(errs) != 1 {
		t.Fatalf("IsValid() = %v, %v", ok, errs)
	}
	var ice *InvalidConfigError
	if !errors.As(errs[0], &ice) || len(ice.FieldErrors) != 2 {
		t.Fatalf("errs[0] = %v", errs[0])
	}
	if !errors.Is(ice.FieldErrors[0], ErrInvalidColorScheme) || !errors.Is(ice.FieldErrors[1], ErrInvalidLogLevel) {
		t.Errorf("field errors = %v", ice.FieldErrors)
	}
}
