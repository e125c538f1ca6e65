// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package server

import (
	"os"
	"syscall"
)

// ReloadSignals are the signals that make `envscout serve` re-read the
// selection and restart its process.
var ReloadSignals = []os.Signal{syscall.SIGHUP}

func interrupt(p *os.Process) error {
	return p.Signal(os.Interrupt)
}

// signalReload asks the process pid to reload after checking it is alive.
func signalReload(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := p.Signal(syscall.Signal(0)); err != nil {
		return err
	}
	return p.Signal(syscall.SIGHUP)
}
