// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/envscout/envscout/internal/config"
	"github.com/envscout/envscout/internal/envmgr"
	"github.com/envscout/envscout/internal/issue"
	"github.com/envscout/envscout/internal/scan"
	"github.com/envscout/envscout/internal/testutil"
)

// testExecutable never exists on a real PATH, so only fixtures are found.
const testExecutable = "envscout-fixture-python"

type stubConfigProvider struct {
	cfg  *config.Config
	path string
	err  error
}

func (p stubConfigProvider) LoadWithPath(context.Context, config.LoadOptions) (*config.Config, string, error) {
	if p.err != nil {
		return nil, "", p.err
	}
	cfg := *p.cfg
	return &cfg, p.path, nil
}

// cliEnv isolates one CLI test: a fresh home, cache and state directory.
type cliEnv struct {
	cfg       *config.Config
	workspace string
	home      string
}

// newCLIEnv is not parallel-safe: it sets HOME and the state directory override.
func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	root := t.TempDir()
	home := filepath.Join(root, "home")
	testutil.MustMkdirAll(t, home, 0o755)
	t.Setenv("HOME", home)
	for _, key := range []string{"XDG_DATA_HOME", "XDG_CACHE_HOME", "CONDA_PREFIX", "WORKON_HOME", "PYENV_ROOT"} {
		t.Setenv(key, "")
	}
	config.SetStateDirOverride(filepath.Join(root, "state"))
	t.Cleanup(config.Reset)

	cfg := config.DefaultConfig()
	cfg.Toolchain.Executable = testExecutable
	cfg.Discovery.FastSearch = false
	cfg.Discovery.CacheDir = filepath.Join(root, "cache")
	cfg.Discovery.RegistryFile = filepath.Join(root, "environments.txt")
	cfg.Log.Level = config.LogLevelError

	ws := filepath.Join(root, "ws")
	testutil.MustMkdirAll(t, ws, 0o755)
	return &cliEnv{cfg: cfg, workspace: ws, home: home}
}

// venv creates a fixture environment in the workspace and returns its binary.
func (e *cliEnv) venv(t *testing.T, name string) string {
	t.Helper()
	bin := testutil.MustEnv(t, filepath.Join(e.workspace, name), scan.DefaultTarget(testExecutable).BinDirs[0], scan.DefaultTarget(testExecutable).Executable, scan.MarkerVenv)
	if err := os.Chmod(bin, 0o755); err != nil {
		t.Fatal(err)
	}
	return bin
}

// run executes the CLI against the fixture workspace and returns stdout,
// stderr and the error.
func (e *cliEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return e.exec(t, append(args, "-w", e.workspace)...)
}

func (e *cliEnv) exec(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := NewApp(Dependencies{
		Config: stubConfigProvider{cfg: e.cfg},
		Stdout: &stdout,
		Stderr: &stderr,
	})
	root := NewRootCommand(app)
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.ExecuteContext(t.Context())
	return stdout.String(), stderr.String(), err
}

func exitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if err != nil {
		return -1
	}
	return 0
}

func TestDiscoverJSON(t *testing.T) {
	env := newCLIEnv(t)
	bin := env.venv(t, ".venv")

	stdout, stderr, err := env.run(t, "discover", "--json")
	if err != nil {
		t.Fatalf("discover --json: %v\n%s", err, stderr)
	}

	var doc discoverJSON
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if len(doc.Environments) != 1 || doc.Environments[0].Path != bin {
		t.Fatalf("environments = %+v, want [%s]", doc.Environments, bin)
	}
	if doc.Recommended != "" && doc.Recommended != bin {
		t.Errorf("recommended = %q", doc.Recommended)
	}
}

func TestDiscoverNothingFound(t *testing.T) {
	env := newCLIEnv(t)

	_, stderr, err := env.run(t, "discover")
	if exitCode(err) != 1 {
		t.Fatalf("discover exit = %d (%v), want 1", exitCode(err), err)
	}
	if !strings.Contains(stderr, "no "+testExecutable+" environment found") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestSelectThenActive(t *testing.T) {
	env := newCLIEnv(t)
	bin := env.venv(t, "project-env")

	stdout, stderr, err := env.run(t, "select", bin)
	if err != nil {
		t.Fatalf("select: %v\n%s", err, stderr)
	}
	if strings.TrimSpace(stdout) != bin {
		t.Errorf("select stdout = %q, want %q", stdout, bin)
	}

	stdout, stderr, err = env.run(t, "active")
	if err != nil {
		t.Fatalf("active: %v\n%s", err, stderr)
	}
	if strings.TrimSpace(stdout) != bin {
		t.Errorf("active = %q, want %q", stdout, bin)
	}
}

func TestSelectInvalidPath(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := env.run(t, "select", filepath.Join(env.workspace, "missing", "python"))
	if exitCode(err) != 1 {
		t.Fatalf("select exit = %d (%v), want 1", exitCode(err), err)
	}
	if !errors.Is(err, envmgr.ErrInvalidEnvironment) {
		t.Errorf("select error = %v, want ErrInvalidEnvironment", err)
	}
}

func TestActiveFallsBackToDiscovery(t *testing.T) {
	env := newCLIEnv(t)
	bin := env.venv(t, ".venv")

	stdout, stderr, err := env.run(t, "active")
	if err != nil {
		t.Fatalf("active: %v\n%s", err, stderr)
	}
	if strings.TrimSpace(stdout) != bin {
		t.Errorf("active = %q, want %q", stdout, bin)
	}
}

func TestWorkspaceDefaultsToWorkingDirectory(t *testing.T) {
	env := newCLIEnv(t)
	bin := env.venv(t, ".venv")
	t.Cleanup(testutil.MustChdir(t, env.workspace))

	stdout, stderr, err := env.exec(t, "active")
	if err != nil {
		t.Fatalf("active: %v\n%s", err, stderr)
	}
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(stdout))
	want, _ := filepath.EvalSymlinks(bin)
	if got != want {
		t.Errorf("active = %q, want %q", got, want)
	}
}

func TestCacheShowAndClear(t *testing.T) {
	env := newCLIEnv(t)
	bin := env.venv(t, ".venv")

	if _, stderr, err := env.run(t, "discover"); err != nil {
		t.Fatalf("discover: %v\n%s", err, stderr)
	}

	stdout, _, err := env.run(t, "cache", "show")
	if err != nil {
		t.Fatalf("cache show: %v", err)
	}
	if strings.TrimSpace(stdout) != bin {
		t.Errorf("cache show = %q, want %q", stdout, bin)
	}

	if _, _, err := env.run(t, "cache", "clear"); err != nil {
		t.Fatalf("cache clear: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.cfg.Discovery.CacheDir, "environments.json")); !os.IsNotExist(err) {
		t.Errorf("cache file still present after clear: %v", err)
	}
	stdout, _, err = env.run(t, "cache", "show")
	if err != nil || stdout != "" {
		t.Errorf("cache show after clear = %q, %v", stdout, err)
	}
}

func TestCacheClearFailure(t *testing.T) {
	env := newCLIEnv(t)
	// A non-empty directory at the cache file path cannot be removed.
	testutil.MustMkdirAll(t, filepath.Join(env.cfg.Discovery.CacheDir, "environments.json", "keep"), 0o755)

	_, stderr, err := env.run(t, "cache", "clear")
	if exitCode(err) != 1 {
		t.Fatalf("cache clear exit = %d (%v), want 1", exitCode(err), err)
	}
	var ae *issue.ActionableError
	if !errors.As(err, &ae) || ae.Operation != "clear the discovery cache" {
		t.Errorf("error = %v, want an actionable error for the clear operation", err)
	}
	if !strings.Contains(stderr, "failed to clear the discovery cache") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestConfigCommands(t *testing.T) {
	env := newCLIEnv(t)

	stdout, _, err := env.run(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(stdout, testExecutable) {
		t.Errorf("config show does not include the executable:\n%s", stdout)
	}

	custom := filepath.Join(env.home, "custom.cue")
	stdout, _, err = env.run(t, "config", "path", "--config", custom)
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if strings.TrimSpace(stdout) != custom {
		t.Errorf("config path = %q, want %q", stdout, custom)
	}
}

func TestConfigLoadFailure(t *testing.T) {
	var stderr bytes.Buffer
	app := NewApp(Dependencies{
		Config: stubConfigProvider{err: errors.New("bad config")},
		Stdout: &bytes.Buffer{},
		Stderr: &stderr,
	})
	root := NewRootCommand(app)
	root.SetArgs([]string{"active"})
	err := root.ExecuteContext(t.Context())
	if exitCode(err) != 1 {
		t.Fatalf("exit = %d (%v), want 1", exitCode(err), err)
	}
	if !strings.Contains(stderr.String(), "bad config") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestServeRequiresCommand(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := env.run(t, "serve")
	if !errors.Is(err, errNoServerCommand) {
		t.Fatalf("serve error = %v, want errNoServerCommand", err)
	}
}

func TestPrintChanges(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	app := NewApp(Dependencies{Stdout: &stdout, Stderr: &bytes.Buffer{}})
	shown := map[string]struct{}{"/a/python": {}, "/b/python": {}}

	printChanges(app, shown, envmgr.Snapshot{Paths: []string{"/c/python"}})
	if stdout.Len() != 0 {
		t.Errorf("unsettled snapshot printed %q", stdout.String())
	}

	printChanges(app, shown, envmgr.Snapshot{Paths: []string{"/a/python", "/c/python"}, Settled: true})
	out := stdout.String()
	if !strings.Contains(out, "/c/python") || !strings.Contains(out, "/b/python") {
		t.Errorf("changes = %q, want +/c and -/b", out)
	}
	if strings.Contains(out, "/a/python") {
		t.Errorf("unchanged path printed: %q", out)
	}
	if _, ok := shown["/b/python"]; ok || len(shown) != 2 {
		t.Errorf("shown = %v after update", shown)
	}

	stdout.Reset()
	shown = map[string]struct{}{"/z/python": {}, "/m/python": {}, "/d/python": {}}
	printChanges(app, shown, envmgr.Snapshot{Settled: true})
	out = stdout.String()
	d, m, z := strings.Index(out, "/d/python"), strings.Index(out, "/m/python"), strings.Index(out, "/z/python")
	if d < 0 || d > m || m > z {
		t.Errorf("removals not in path order: %q", out)
	}
	if len(shown) != 0 {
		t.Errorf("shown = %v, want empty", shown)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level   config.LogLevel
		verbose bool
		want    string
	}{
		{"", false, "warn"},
		{config.LogLevelError, false, "error"},
		{config.LogLevelInfo, true, "debug"},
	}
	for _, tt := range tests {
		got := newLogger(&bytes.Buffer{}, tt.level, tt.verbose).GetLevel().String()
		if got != tt.want {
			t.Errorf("newLogger(%q, %v) level = %s, want %s", tt.level, tt.verbose, got, tt.want)
		}
	}
}
