// SPDX-License-Identifier: MPL-2.0

// Package tui implements the interactive selection prompts: a bubbletea
// picker that fills in while discovery runs, and huh forms for path entry,
// file browsing and small choices. It satisfies selection.UI.
package tui

import (
	"io"
	"os"

	"github.com/envscout/envscout/internal/config"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Theme represents the visual theme for TUI components.
type Theme string

const (
	// ThemeDefault uses the default huh theme.
	ThemeDefault Theme = "default"
	// ThemeCharm uses the Charm theme.
	ThemeCharm Theme = "charm"
	// ThemeDracula uses the Dracula theme.
	ThemeDracula Theme = "dracula"
	// ThemeCatppuccin uses the Catppuccin theme.
	ThemeCatppuccin Theme = "catppuccin"
	// ThemeBase16 uses the Base16 theme.
	ThemeBase16 Theme = "base16"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	cursorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
)

// Config holds common configuration for TUI components.
type Config struct {
	Theme Theme
	// Accessible replaces full-screen components with line prompts.
	Accessible bool
	// ColorScheme selects the Markdown style.
	ColorScheme config.ColorScheme
	// Output is where components draw.
	Output io.Writer
	// Input is read for key presses; nil means stdin.
	Input io.Reader
}

// DefaultConfig returns the configuration for the current terminal.
// Accessible mode is enabled when stdin is not a terminal or the ACCESSIBLE
// environment variable is set. In that case prompts go to stderr so they are
// not captured by command substitution.
func DefaultConfig() Config {
	accessible := !isInputTerminal() || os.Getenv("ACCESSIBLE") != ""

	var output io.Writer = os.Stdout
	if accessible {
		output = os.Stderr
	}
	return Config{
		Theme:       ThemeDefault,
		Accessible:  accessible,
		ColorScheme: config.ColorSchemeAuto,
		Output:      output,
	}
}

// FromConfig applies the user's UI settings on top of DefaultConfig.
func FromConfig(ui config.UIConfig) Config {
	cfg := DefaultConfig()
	if ui.Theme != "" {
		cfg.Theme = Theme(ui.Theme)
	}
	if ui.Accessible {
		cfg.Accessible = true
		cfg.Output = os.Stderr
	}
	if ui.ColorScheme != "" {
		cfg.ColorScheme = ui.ColorScheme
	}
	return cfg
}

// isInputTerminal returns true if stdin is connected to a terminal.
func isInputTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// huhTheme converts a Theme to a huh.Theme.
func huhTheme(t Theme) *huh.Theme {
	switch t {
	case ThemeCharm:
		return huh.ThemeCharm()
	case ThemeDracula:
		return huh.ThemeDracula()
	case ThemeCatppuccin:
		return huh.ThemeCatppuccin()
	case ThemeBase16:
		return huh.ThemeBase16()
	default:
		return huh.ThemeBase()
	}
}
