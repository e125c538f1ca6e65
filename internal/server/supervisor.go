// SPDX-License-Identifier: MPL-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/envscout/envscout/internal/issue"
	"github.com/envscout/envscout/internal/scan"

	"github.com/charmbracelet/log"
)

// DefaultStopGrace is how long a process gets to exit after an interrupt.
const DefaultStopGrace = 5 * time.Second

type (
	// SupervisorConfig configures a Supervisor.
	SupervisorConfig struct {
		// Command is the shell-quoted command line to run.
		Command string
		// Target maps the selected executable to its environment directory.
		Target scan.Target
		// StopGrace bounds the wait between interrupt and kill.
		StopGrace time.Duration
		// Environ is the base environment; nil means os.Environ().
		Environ []string
		Stdout  io.Writer
		Stderr  io.Writer
		Logger  *log.Logger
	}

	// Supervisor runs one downstream process bound to the selected
	// environment and restarts it when the selection changes.
	Supervisor struct {
		cfg   SupervisorConfig
		state atomic.Int32
		errCh chan error

		mu         sync.Mutex
		cmd        *exec.Cmd
		exited     chan struct{}
		executable string
	}
)

// NewSupervisor creates a Supervisor. No process starts until Restart.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.Environ == nil {
		cfg.Environ = os.Environ()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	s := &Supervisor{cfg: cfg, errCh: make(chan error, 1)}
	s.state.Store(int32(StateStopped))
	return s
}

// State returns the process state (lock-free read).
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Executable returns the environment the running process was started with.
func (s *Supervisor) Executable() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executable
}

// Err delivers errors from processes that exited without being stopped.
func (s *Supervisor) Err() <-chan error {
	return s.errCh
}

// Restart starts the command for executable, stopping the current process
// first when one runs.
func (s *Supervisor) Restart(ctx context.Context, executable string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	envDir := s.cfg.Target.EnvDir(executable)
	argv, err := Expand(s.cfg.Command, executable, envDir)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		s.stopLocked(ctx)
	}
	return s.startLocked(argv, executable, envDir)
}

// Stop interrupts the running process and kills it after the grace period.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		s.stopLocked(ctx)
	}
}

func (s *Supervisor) startLocked(argv []string, executable, envDir string) error {
	s.state.Store(int32(StateStarting))

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(append([]string(nil), s.cfg.Environ...),
		EnvPython+"="+executable,
		EnvEnvironment+"="+envDir,
	)
	cmd.Stdout = s.cfg.Stdout
	cmd.Stderr = s.cfg.Stderr
	cmd.WaitDelay = s.cfg.StopGrace

	if err := cmd.Start(); err != nil {
		s.state.Store(int32(StateFailed))
		return issue.NewErrorContext().
			WithOperation("start server").
			WithResource(argv[0]).
			WithSuggestion("Check server.command in the configuration file").
			WithSuggestion("Run 'envscout config show' to see the effective command").
			Wrap(err).
			BuildError()
	}

	exited := make(chan struct{})
	s.cmd, s.exited, s.executable = cmd, exited, executable
	s.state.Store(int32(StateRunning))
	s.cfg.Logger.Info("server started", "pid", cmd.Process.Pid, "path", executable)

	go s.wait(cmd, exited)
	return nil
}

// wait reaps cmd. An exit nobody asked for marks the supervisor failed.
func (s *Supervisor) wait(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()
	close(exited)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != cmd {
		return
	}
	s.cmd, s.exited = nil, nil
	if err == nil {
		err = errors.New("server exited")
	} else {
		err = fmt.Errorf("server exited: %w", err)
	}
	s.state.Store(int32(StateFailed))
	s.cfg.Logger.Warn("server exited unexpectedly", "pid", cmd.Process.Pid, "err", err)
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Supervisor) stopLocked(ctx context.Context) {
	cmd, exited := s.cmd, s.exited
	s.state.Store(int32(StateStopping))

	if err := interrupt(cmd.Process); err != nil {
		_ = cmd.Process.Kill()
	}
	timer := time.NewTimer(s.cfg.StopGrace)
	defer timer.Stop()
	select {
	case <-exited:
	case <-timer.C:
		s.cfg.Logger.Warn("server ignored interrupt, killing", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
		<-exited
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-exited
	}

	s.cfg.Logger.Info("server stopped", "pid", cmd.Process.Pid)
	s.cmd, s.exited, s.executable = nil, nil, ""
	s.state.Store(int32(StateStopped))
}
