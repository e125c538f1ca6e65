// SPDX-License-Identifier: MPL-2.0

// Package tui implements the interactive selection surface on Charm libraries.
//
// The environment picker is a Bubble Tea program with a spinner that stays up
// while discovery runs; manual entry, the file browser and the fallback
// choices are huh forms. Accessible mode swaps the picker for line prompts.
package tui
