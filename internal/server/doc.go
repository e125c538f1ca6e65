// SPDX-License-Identifier: MPL-2.0

// Package server manages the downstream process that consumes the selected
// environment. A Supervisor owns the process inside `envscout serve`; one-shot
// commands reach a running supervisor through its PID file with a Signaler.
// Opener launches the install page in the user's browser.
package server
