// SPDX-License-Identifier: MPL-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDFileName is the file `envscout serve` records its PID in.
const PIDFileName = "serve.pid"

// ErrNotRunning is returned when no `envscout serve` process can be reached.
var ErrNotRunning = errors.New("envscout serve is not running")

// Signaler is the Restarter for one-shot commands: it asks a running
// `envscout serve` to pick up the new selection.
type Signaler struct {
	PIDFile string
}

// WritePIDFile records the current process ID at path.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// ReadPIDFile returns the PID stored at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %s", path)
	}
	return pid, nil
}

// RemovePIDFile deletes the PID file if it still names this process.
func RemovePIDFile(path string) {
	if pid, err := ReadPIDFile(path); err == nil && pid == os.Getpid() {
		_ = os.Remove(path)
	}
}

// Restart signals the serve process. The executable is read back from the
// state store by the receiver.
func (s Signaler) Restart(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pid, err := ReadPIDFile(s.PIDFile)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotRunning, err)
	}
	if err := signalReload(pid); err != nil {
		return fmt.Errorf("%w: pid %d: %w", ErrNotRunning, pid, err)
	}
	return nil
}
