// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/envscout/envscout/internal/envmgr"
	"github.com/envscout/envscout/internal/issue"

	"github.com/spf13/cobra"
)

type (
	// environmentJSON is one row of `discover --json`.
	environmentJSON struct {
		Path        string `json:"path"`
		Version     string `json:"version,omitempty"`
		Recommended bool   `json:"recommended,omitempty"`
	}

	// discoverJSON is the document printed by `discover --json`.
	discoverJSON struct {
		Environments []environmentJSON `json:"environments"`
		Recommended  string            `json:"recommended,omitempty"`
	}
)

func newDiscoverCommand(app *App, flags *rootFlagValues) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run every locator and list the environments found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.reportError(cmd, runDiscover(cmd, app, flags, asJSON), flags.verbose)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func runDiscover(cmd *cobra.Command, app *App, flags *rootFlagValues, asJSON bool) error {
	s, err := app.newSession(cmd.Context(), flags, nil)
	if err != nil {
		return err
	}
	defer s.close()

	snap, err := s.manager.Discover(cmd.Context())
	if err != nil {
		return err
	}

	if asJSON {
		return printDiscoverJSON(app, s, snap)
	}

	if len(snap.Paths) == 0 {
		return newServiceError(
			fmt.Errorf("no %s environment found", s.target.Executable),
			issue.NoEnvironmentFoundId,
		)
	}

	fmt.Fprintln(app.stdout, TitleStyle.Render(fmt.Sprintf("Found %d environment(s)", len(snap.Paths))))
	for _, p := range snap.Paths {
		line := "  " + PathStyle.Render(p)
		if v, ok := s.reader.Read(p); ok {
			line += " " + SubtitleStyle.Render(v)
		}
		if p == snap.Recommended {
			line += " " + SuccessStyle.Render("(recommended)")
		}
		fmt.Fprintln(app.stdout, line)
	}
	return nil
}

func printDiscoverJSON(app *App, s *session, snap envmgr.Snapshot) error {
	doc := discoverJSON{
		Environments: make([]environmentJSON, 0, len(snap.Paths)),
		Recommended:  snap.Recommended,
	}
	for _, p := range snap.Paths {
		v, _ := s.reader.Read(p)
		doc.Environments = append(doc.Environments, environmentJSON{
			Path:        p,
			Version:     v,
			Recommended: p == snap.Recommended,
		})
	}
	enc := json.NewEncoder(app.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
