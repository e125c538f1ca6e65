// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"os"
	"sync"
)

const (
	// SandboxNone indicates no sandbox environment detected.
	SandboxNone SandboxType = ""
	// SandboxFlatpak indicates a Flatpak sandbox environment.
	SandboxFlatpak SandboxType = "flatpak"
	// SandboxSnap indicates a Snap sandbox environment.
	SandboxSnap SandboxType = "snap"
)

// detectOnce caches the sandbox detection result for the lifetime of the process.
//
// INVARIANT: detectSandboxFrom MUST NOT panic; sync.OnceValue re-panics on
// every later call.
var detectOnce = sync.OnceValue(func() SandboxType {
	return detectSandboxFrom(os.Getenv, statFile)
})

// SandboxType identifies the type of application sandbox, if any.
type SandboxType string

// DetectSandbox returns the sandbox the current process runs in.
// Flatpak is recognized by /.flatpak-info, Snap by SNAP_NAME.
func DetectSandbox() SandboxType {
	return detectOnce()
}

// HostCommand returns the program and arguments that run name on the host
// system. Outside a sandbox it returns name and args unchanged.
func HostCommand(name string, args ...string) (string, []string) {
	return HostCommandFor(DetectSandbox(), name, args...)
}

// HostCommandFor is HostCommand for an explicit sandbox type.
func HostCommandFor(st SandboxType, name string, args ...string) (string, []string) {
	switch st {
	case SandboxFlatpak:
		return "flatpak-spawn", append([]string{"--host", name}, args...)
	case SandboxSnap:
		// Strict snaps cannot leave confinement; the command runs as-is.
		return name, args
	default:
		return name, args
	}
}

func detectSandboxFrom(lookupEnv func(string) string, statFile func(string) error) SandboxType {
	// Flatpak takes precedence.
	if err := statFile("/.flatpak-info"); err == nil {
		return SandboxFlatpak
	}
	if lookupEnv("SNAP_NAME") != "" {
		return SandboxSnap
	}
	return SandboxNone
}

func statFile(path string) error {
	_, err := os.Stat(path)
	return err
}
