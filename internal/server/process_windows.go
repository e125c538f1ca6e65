// SPDX-License-Identifier: MPL-2.0

//go:build windows

package server

import (
	"errors"
	"os"
)

// ReloadSignals is empty: Windows has no reload signal.
var ReloadSignals []os.Signal

// Windows cannot deliver an interrupt to another process group.
func interrupt(p *os.Process) error {
	return p.Kill()
}

func signalReload(int) error {
	return errors.New("reload signals are not supported on Windows")
}
