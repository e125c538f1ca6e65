// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/envscout/envscout/internal/server"
)

func TestFollowerRestartsOnDeletedExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("supervisor test uses sh")
	}
	env := newCLIEnv(t)
	alpha := env.venv(t, "alpha")
	beta := env.venv(t, "beta")

	app := NewApp(Dependencies{Config: stubConfigProvider{cfg: env.cfg}, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}})
	s, err := app.newSession(t.Context(), &rootFlagValues{workspaces: []string{env.workspace}}, nil)
	if err != nil {
		t.Fatalf("newSession() error: %v", err)
	}
	t.Cleanup(s.close)
	if _, err := s.manager.Discover(t.Context()); err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	if err := s.manager.Select(t.Context(), alpha); err != nil {
		t.Fatalf("Select() error: %v", err)
	}

	out := filepath.Join(t.TempDir(), "python.txt")
	sup := server.NewSupervisor(server.SupervisorConfig{
		Command:   `sh -c 'echo "$ENVSCOUT_PYTHON" >> "$0"; exec sleep 30' ` + out,
		Target:    s.target,
		StopGrace: 2 * time.Second,
	})
	t.Cleanup(func() { sup.Stop(context.Background()) })
	f := follower{manager: s.manager, sup: sup, logger: s.logger, gone: make(chan struct{}, 1)}

	f.follow(t.Context(), false)
	if sup.Executable() != alpha {
		t.Fatalf("Executable() = %q, want %q", sup.Executable(), alpha)
	}
	// A second follow with the same active environment keeps the process.
	f.follow(t.Context(), false)
	if got := waitLines(t, out, 1); len(got) != 1 || got[0] != alpha {
		t.Fatalf("server ran on %q, want [%s]", got, alpha)
	}

	cb := f.callbacks(s.manager.WatchCallbacks())
	cb.OnDeleted(filepath.Join(env.workspace, "unrelated", "bin", testExecutable))
	select {
	case <-f.gone:
		t.Fatal("deleting another executable signalled the follower")
	default:
	}

	if err := os.Remove(alpha); err != nil {
		t.Fatal(err)
	}
	cb.OnDeleted(alpha)
	select {
	case <-f.gone:
	default:
		t.Fatal("deleting the running executable did not signal the follower")
	}
	f.follow(t.Context(), false)
	if sup.Executable() != beta {
		t.Errorf("Executable() after delete = %q, want %q", sup.Executable(), beta)
	}

	if got := waitLines(t, out, 2); len(got) != 2 || got[1] != beta {
		t.Errorf("server ran on %q, want [%s %s]", got, alpha, beta)
	}
}

// waitLines polls path until it holds n lines.
func waitLines(t *testing.T, path string, n int) []string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var lines []string
	for time.Now().Before(deadline) {
		data, _ := os.ReadFile(path)
		if lines = strings.Fields(string(data)); len(lines) >= n {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return lines
}
