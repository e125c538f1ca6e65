// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/envscout/envscout/internal/issue"
	"github.com/envscout/envscout/internal/tui"

	"github.com/spf13/cobra"
)

// ServiceError is an error that carries an optional issue catalog page for
// the CLI layer to render before the error itself.
// Always create via newServiceError.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// IssueID is the optional issue catalog ID for rendering help text.
	IssueID issue.Id
}

// newServiceError creates a ServiceError with a nil-Err panic guard.
func newServiceError(err error, issueID issue.Id) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{Err: err, IssueID: issueID}
}

// Error implements the error interface.
func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// renderServiceError prints the issue help page attached to svcErr, if any.
func renderServiceError(stderr io.Writer, ui tui.Config, svcErr *ServiceError) {
	if svcErr == nil || svcErr.IssueID == 0 {
		return
	}
	fmt.Fprint(stderr, tui.RenderIssue(ui, svcErr.IssueID))
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

// reportError renders err with its help page and returns an ExitError, so
// fang does not print the same error a second time.
func (a *App) reportError(cmd *cobra.Command, err error, verbose bool) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		cmd.SilenceErrors = true
		cmd.SilenceUsage = true
		return err
	}
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		renderServiceError(a.stderr, a.ui, svcErr)
	}
	fmt.Fprintln(a.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
	return &ExitError{Code: 1, Err: err}
}
