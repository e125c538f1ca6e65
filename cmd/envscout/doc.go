// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for envscout.
//
// This package implements the Cobra command hierarchy: discovery, the active
// selection, interactive selection, the watcher and the server supervisor,
// plus cache and configuration management.
package cmd
