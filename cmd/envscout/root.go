// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the envscout command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlagValues{}

	rootCmd := &cobra.Command{
		Use:   "envscout",
		Short: "Find, rank and select interpreter environments",
		Long: TitleStyle.Render("envscout") + SubtitleStyle.Render(" - Find, rank and select interpreter environments") + `

envscout searches PATH, package-manager registries, your workspaces and the
well-known environment stores in your home directory, ranks what it finds
by version and remembers the one you pick.

` + SubtitleStyle.Render("Examples:") + `
  envscout discover           List every environment found
  envscout active             Print the selected (or recommended) executable
  envscout select             Pick an environment interactively
  envscout serve              Run server.command bound to the selection
  envscout config show        Show current configuration`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default is $HOME/.config/envscout/config.cue)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringSliceVarP(&flags.workspaces, "workspace", "w", nil, "workspace root to search (repeatable, default is the working directory)")

	rootCmd.AddCommand(
		newDiscoverCommand(app, flags),
		newActiveCommand(app, flags),
		newSelectCommand(app, flags),
		newWatchCommand(app, flags),
		newServeCommand(app, flags),
		newCacheCommand(app, flags),
		newConfigCommand(app, flags),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI. This is called by main.main().
func Execute() {
	rootCmd := NewRootCommand(NewApp(Dependencies{}))
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
