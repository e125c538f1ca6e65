// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helper functions for tests that fail fast on
// setup errors: environment variables (MustSetenv, SetHomeDir), filesystem
// fixtures (MustMkdirAll, MustWriteFile, MustEnv) and a controllable clock.
package testutil
