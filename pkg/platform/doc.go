// SPDX-License-Identifier: MPL-2.0

// Package platform holds OS name constants and host process helpers.
//
// When envscout runs inside a Flatpak or Snap sandbox, file-index queries and
// the browser launcher have to run on the host; HostCommand rewrites such
// command lines through the sandbox's spawn helper.
package platform
