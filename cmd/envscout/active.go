// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/envscout/envscout/internal/issue"

	"github.com/spf13/cobra"
)

func newActiveCommand(app *App, flags *rootFlagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "Print the active environment's executable",
		Long: `Print the active environment's executable.

The persisted selection wins while it is still a usable executable. Otherwise
the recommendation of the last discovery is used, running discovery first
when nothing is cached.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.reportError(cmd, runActive(cmd, app, flags), flags.verbose)
		},
	}
}

func runActive(cmd *cobra.Command, app *App, flags *rootFlagValues) error {
	s, err := app.newSession(cmd.Context(), flags, nil)
	if err != nil {
		return err
	}
	defer s.close()

	path, ok := s.manager.Active()
	if !ok {
		if _, err := s.manager.Discover(cmd.Context()); err != nil {
			return err
		}
		path, ok = s.manager.Active()
	}
	if !ok {
		return newServiceError(
			fmt.Errorf("no %s environment found", s.target.Executable),
			issue.NoEnvironmentFoundId,
		)
	}
	fmt.Fprintln(app.stdout, path)
	return nil
}
