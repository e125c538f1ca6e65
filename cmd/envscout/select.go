// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/envscout/envscout/internal/envmgr"
	"github.com/envscout/envscout/internal/issue"
	"github.com/envscout/envscout/internal/probe"
	"github.com/envscout/envscout/internal/selection"
	"github.com/envscout/envscout/internal/server"
	"github.com/envscout/envscout/internal/tui"

	"github.com/spf13/cobra"
)

func newSelectCommand(app *App, flags *rootFlagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "select [path]",
		Short: "Select the active environment",
		Long: `Select the active environment.

With a path argument the executable is validated and stored directly.
Without one, an interactive picker lists environments as they are found.

A running 'envscout serve' is signalled to restart on the new selection.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.reportError(cmd, runSelect(cmd, app, flags, args), flags.verbose)
		},
	}
}

func runSelect(cmd *cobra.Command, app *App, flags *rootFlagValues, args []string) error {
	ctx := cmd.Context()

	// The PID file lives in the state directory, which the session resolves.
	signaler := &server.Signaler{}
	s, err := app.newSession(ctx, flags, signaler)
	if err != nil {
		return err
	}
	defer s.close()
	signaler.PIDFile = s.pidFile()

	var path string
	if len(args) == 1 {
		path = selection.ExpandHome(args[0], s.env.Home)
		err = s.manager.Select(ctx, path)
	} else {
		var res selection.Result
		res, err = runPicker(ctx, app, s)
		if res.Cancelled {
			fmt.Fprintln(app.stderr, WarningStyle.Render("Selection cancelled"))
			return &ExitError{Code: 1}
		}
		if err == nil && res.Path == "" {
			fmt.Fprintln(app.stderr, SubtitleStyle.Render("Opened "+s.cfg.Toolchain.InstallURL))
			return nil
		}
		path = res.Path
	}

	switch {
	case err == nil:
	case errors.Is(err, envmgr.ErrInvalidEnvironment):
		return newServiceError(err, issue.InvalidInterpreterId)
	case errors.Is(err, server.ErrNotRunning):
		s.logger.Debug("no server to restart", "err", err)
	default:
		return err
	}

	fmt.Fprintln(app.stderr, SuccessStyle.Render("Selected ")+PathStyle.Render(path))
	fmt.Fprintln(app.stdout, path)
	return nil
}

func runPicker(ctx context.Context, app *App, s *session) (selection.Result, error) {
	ctrl := &selection.Controller{
		Manager:    s.manager,
		UI:         tui.New(app.ui),
		Opener:     server.NewOpener(),
		InstallURL: s.cfg.Toolchain.InstallURL,
		StaleAfter: s.cfg.Discovery.StaleAfter.Or(envmgr.DefaultStaleAfter),
		Validate:   probe.Validate,
		Version:    s.reader.Read,
		Logger:     s.logger.WithPrefix("select"),
	}
	return ctrl.Run(ctx)
}
