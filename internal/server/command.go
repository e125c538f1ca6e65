// SPDX-License-Identifier: MPL-2.0

package server

import (
	"errors"
	"fmt"
	"os"

	"mvdan.cc/sh/v3/shell"
)

const (
	// EnvPython names the selected executable in the command line and the
	// process environment.
	EnvPython = "ENVSCOUT_PYTHON"
	// EnvEnvironment names the selected environment directory.
	EnvEnvironment = "ENVSCOUT_ENV"
)

// ErrNoCommand is returned when no server command is configured.
var ErrNoCommand = errors.New("no server command configured")

// Expand splits a shell-quoted command line into argv. $ENVSCOUT_PYTHON and
// $ENVSCOUT_ENV expand to the selection; other variables come from the
// process environment.
func Expand(line, executable, envDir string) ([]string, error) {
	fields, err := shell.Fields(line, func(name string) string {
		switch name {
		case EnvPython:
			return executable
		case EnvEnvironment:
			return envDir
		default:
			return os.Getenv(name)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parse server command %q: %w", line, err)
	}
	if len(fields) == 0 {
		return nil, ErrNoCommand
	}
	return fields, nil
}
