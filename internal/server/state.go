// SPDX-License-Identifier: MPL-2.0

package server

const (
	// StateStopped means no process is running.
	StateStopped State = iota
	// StateStarting means the process is being launched.
	StateStarting
	// StateRunning means the process is alive.
	StateRunning
	// StateStopping means the process was asked to exit.
	StateStopping
	// StateFailed means the last process could not start or exited on its own.
	StateFailed
)

// State is the lifecycle state of the supervised process.
type State int32

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsActive reports whether a process exists in this state.
func (s State) IsActive() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}
