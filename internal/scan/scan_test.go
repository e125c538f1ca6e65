// SPDX-License-Identifier: MPL-2.0

package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/envscout/envscout/pkg/platform"
)

// testTarget uses a fixed unix-style layout so trees look the same on every OS.
func testTarget() Target {
	return Target{
		Executable: "python",
		BinDirs:    []string{"bin"},
		Markers:    []string{MarkerVenv, MarkerConda},
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, nil, 0o755); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// makeEnv creates a venv-shaped environment and returns its binary path.
func makeEnv(t *testing.T, dir string) string {
	t.Helper()
	touch(t, filepath.Join(dir, MarkerVenv))
	bin := filepath.Join(dir, "bin", "python")
	touch(t, bin)
	return bin
}

func sorted(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}

func TestShallowStore(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	a := makeEnv(t, filepath.Join(root, "a"))
	b := makeEnv(t, filepath.Join(root, "b"))
	// Binary without marker: not an environment.
	touch(t, filepath.Join(root, "nomarker", "bin", "python"))
	// Marker without binary.
	touch(t, filepath.Join(root, "nobinary", MarkerVenv))
	// Nested two levels down is out of reach for a shallow scan.
	makeEnv(t, filepath.Join(root, "group", "deep"))

	got := sorted(ShallowStore(context.Background(), root, testTarget()))
	want := sorted([]string{a, b})
	if !slices.Equal(got, want) {
		t.Errorf("ShallowStore() = %v, want %v", got, want)
	}
}

func TestShallowStore_MissingRoot(t *testing.T) {
	t.Parallel()

	got := ShallowStore(context.Background(), filepath.Join(t.TempDir(), "missing"), testTarget())
	if len(got) != 0 {
		t.Errorf("expected no results, got %v", got)
	}
}

func TestVersionedStore(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	v311 := filepath.Join(root, "3.11.4", "bin", "python")
	touch(t, v311)
	v312 := filepath.Join(root, "3.12.1", "bin", "python")
	touch(t, v312)
	nested := makeEnv(t, filepath.Join(root, "3.12.1", "envs", "proj"))
	touch(t, filepath.Join(root, "3.12.1", "envs", "broken", "bin", "python"))

	withNested := sorted(VersionedStore(context.Background(), root, testTarget(), "envs"))
	if want := sorted([]string{v311, v312, nested}); !slices.Equal(withNested, want) {
		t.Errorf("VersionedStore(nested) = %v, want %v", withNested, want)
	}

	flat := sorted(VersionedStore(context.Background(), root, testTarget(), ""))
	if want := sorted([]string{v311, v312}); !slices.Equal(flat, want) {
		t.Errorf("VersionedStore() = %v, want %v", flat, want)
	}
}

func TestWalk_StopsAtEnvironment(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outer := makeEnv(t, filepath.Join(root, "project", ".venv"))
	// Something that looks like an env inside the found env must not be reported.
	makeEnv(t, filepath.Join(root, "project", ".venv", "lib", "inner"))

	got := Walk(context.Background(), root, testTarget(), WalkOptions{MaxDepth: 5})
	if !slices.Equal(got, []string{outer}) {
		t.Errorf("Walk() = %v, want [%s]", got, outer)
	}
}

func TestWalk_SkipsNoise(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	makeEnv(t, filepath.Join(root, "node_modules", "pkg", "env"))
	makeEnv(t, filepath.Join(root, ".git", "env"))
	makeEnv(t, filepath.Join(root, "thing.egg-info", "env"))
	kept := makeEnv(t, filepath.Join(root, "src", "env"))

	got := Walk(context.Background(), root, testTarget(), WalkOptions{})
	if !slices.Equal(got, []string{kept}) {
		t.Errorf("Walk() = %v, want [%s]", got, kept)
	}
}

func TestWalk_DepthLimit(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	shallow := makeEnv(t, filepath.Join(root, "a", "env"))
	makeEnv(t, filepath.Join(root, "a", "b", "c", "d", "env"))

	got := Walk(context.Background(), root, testTarget(), WalkOptions{MaxDepth: 2})
	if !slices.Equal(got, []string{shallow}) {
		t.Errorf("Walk() = %v, want [%s]", got, shallow)
	}
}

func TestWalk_Budget(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		makeEnv(t, filepath.Join(root, name, "sub", "env"))
	}

	// One read for the root plus two subdirectories: at most two envs found.
	got := Walk(context.Background(), root, testTarget(), WalkOptions{MaxDepth: 4, Budget: 3})
	if len(got) > 2 {
		t.Errorf("Walk() with budget 3 found %d envs, want at most 2: %v", len(got), got)
	}
}

func TestTargetEnvDir(t *testing.T) {
	t.Parallel()

	target := Target{Executable: "python.exe", BinDirs: []string{"Scripts", ""}}
	if got := target.EnvDir(filepath.Join("C", "env", "Scripts", "python.exe")); got != filepath.Join("C", "env") {
		t.Errorf("EnvDir(Scripts) = %q", got)
	}
	if got := target.EnvDir(filepath.Join("C", "conda", "python.exe")); got != filepath.Join("C", "conda") {
		t.Errorf("EnvDir(root) = %q", got)
	}
}

func TestFastSearcher_Search(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bin := makeEnv(t, filepath.Join(root, "proj", ".venv"))
	outside := filepath.Join(filepath.Dir(root), "elsewhere", MarkerVenv)

	var gotName string
	var gotArgs []string
	s := NewFastSearcher(
		WithGOOS(platform.Linux),
		WithLookPath(func(name string) (string, error) {
			if name == "plocate" {
				return "/usr/bin/plocate", nil
			}
			return "", errors.New("not found")
		}),
		WithRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
			gotName, gotArgs = name, args
			lines := []string{
				filepath.Join(root, "proj", ".venv", MarkerVenv),
				filepath.Join(root, "proj", "stale", MarkerVenv),
				outside,
			}
			return []byte(strings.Join(lines, "\n")), nil
		}),
	)

	got := s.Search(context.Background(), root, Target{
		Executable: "python",
		BinDirs:    []string{"bin"},
		Markers:    []string{MarkerVenv},
	})
	if !slices.Equal(got, []string{bin}) {
		t.Errorf("Search() = %v, want [%s]", got, bin)
	}
	if gotName != "plocate" || !slices.Contains(gotArgs, "--existing") {
		t.Errorf("unexpected backend invocation %s %v", gotName, gotArgs)
	}
}

func TestFastSearcher_NoBackend(t *testing.T) {
	t.Parallel()

	called := false
	s := NewFastSearcher(
		WithGOOS(platform.Darwin),
		WithLookPath(func(string) (string, error) { return "", errors.New("missing") }),
		WithRunner(func(context.Context, string, ...string) ([]byte, error) {
			called = true
			return nil, nil
		}),
	)
	if s.Available() {
		t.Error("Available() = true without backend")
	}
	if got := s.Search(context.Background(), t.TempDir(), testTarget()); len(got) != 0 {
		t.Errorf("Search() = %v, want empty", got)
	}
	if called {
		t.Error("runner must not be invoked without a backend")
	}
}

func TestFastSearcher_RunnerError(t *testing.T) {
	t.Parallel()

	s := NewFastSearcher(
		WithGOOS(platform.Windows),
		WithLookPath(func(string) (string, error) { return `C:\es.exe`, nil }),
		WithRunner(func(context.Context, string, ...string) ([]byte, error) {
			return nil, errors.New("index offline")
		}),
	)
	if got := s.Search(context.Background(), t.TempDir(), testTarget()); len(got) != 0 {
		t.Errorf("Search() = %v, want empty on runner failure", got)
	}
}
