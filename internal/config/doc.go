// SPDX-License-Identifier: MPL-2.0

// Package config handles envscout configuration using Viper with CUE as the file format.
//
// Configuration is loaded from ~/.config/envscout/config.cue (or XDG equivalent on Linux,
// ~/Library/Application Support/envscout/config.cue on macOS, %APPDATA%\envscout\config.cue
// on Windows). Values can be overridden with ENVSCOUT_* environment variables, e.g.
// ENVSCOUT_TOOLCHAIN_EXECUTABLE=python3.
//
// The package also resolves the per-OS cache and state directories that hold the
// environment cache and the persisted active selection.
package config
