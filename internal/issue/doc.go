// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and a catalog of Markdown guidance
// pages shown when envscout cannot complete an operation (no environment
// found, a rejected interpreter path, an unreadable config file).
package issue
