// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/envscout/envscout/internal/config"

	"github.com/spf13/cobra"
)

// newConfigCommand creates the `envscout config` command tree.
func newConfigCommand(app *App, flags *rootFlagValues) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage envscout configuration",
		Long: `Manage envscout configuration.

Configuration is stored in:
  - Linux: ~/.config/envscout/config.cue
  - macOS: ~/Library/Application Support/envscout/config.cue
  - Windows: %APPDATA%\envscout\config.cue

Every key can be overridden with an ENVSCOUT_ environment variable, e.g.
ENVSCOUT_TOOLCHAIN_EXECUTABLE=python3.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.reportError(cmd, showConfig(cmd, app, flags), flags.verbose)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.reportError(cmd, initConfig(app), flags.verbose)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.reportError(cmd, showConfigPath(app, flags), flags.verbose)
		},
	})

	return cfgCmd
}

func showConfig(cmd *cobra.Command, app *App, flags *rootFlagValues) error {
	cfg, path, err := app.loadConfig(cmd.Context(), flags)
	if err != nil {
		return err
	}
	if path == "" {
		path = SubtitleStyle.Render("(using defaults)")
	}
	fmt.Fprintf(app.stderr, "%s: %s\n\n", SubtitleStyle.Render("Config file"), path)
	fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
	return nil
}

func initConfig(app *App) error {
	path, created, err := config.CreateDefaultConfig()
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	if !created {
		fmt.Fprintf(app.stdout, "%s %s already exists\n", WarningStyle.Render("!"), path)
		return nil
	}
	fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}

func showConfigPath(app *App, flags *rootFlagValues) error {
	if flags.configPath != "" {
		fmt.Fprintln(app.stdout, flags.configPath)
		return nil
	}
	path, err := config.ConfigFilePath()
	if err != nil {
		return err
	}
	fmt.Fprintln(app.stdout, path)
	return nil
}
