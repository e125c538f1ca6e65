// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/envscout/envscout/internal/envcache"
	"github.com/envscout/envscout/internal/issue"

	"github.com/spf13/cobra"
)

// newCacheCommand creates the `envscout cache` command tree.
func newCacheCommand(app *App, flags *rootFlagValues) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the discovery cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "List the environments persisted by the last complete discovery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.reportError(cmd, showCache(cmd, app, flags), flags.verbose)
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the discovery cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.reportError(cmd, clearCache(cmd, app, flags), flags.verbose)
		},
	})

	return cacheCmd
}

func openCache(cmd *cobra.Command, app *App, flags *rootFlagValues) (*envcache.Cache, error) {
	cfg, _, err := app.loadConfig(cmd.Context(), flags)
	if err != nil {
		return nil, err
	}
	path, err := cacheFilePath(cfg)
	if err != nil {
		return nil, err
	}
	return envcache.New(path, nil), nil
}

func showCache(cmd *cobra.Command, app *App, flags *rootFlagValues) error {
	cache, err := openCache(cmd, app, flags)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.stderr, "%s: %s\n", SubtitleStyle.Render("Cache file"), PathStyle.Render(cache.Path()))

	paths, ok := cache.Load()
	if !ok {
		fmt.Fprintln(app.stderr, SubtitleStyle.Render("(empty)"))
		return nil
	}
	for _, p := range paths {
		fmt.Fprintln(app.stdout, p)
	}
	return nil
}

func clearCache(cmd *cobra.Command, app *App, flags *rootFlagValues) error {
	cache, err := openCache(cmd, app, flags)
	if err != nil {
		return err
	}
	if err := cache.Clear(); err != nil {
		return issue.WrapWithOperation(err, "clear the discovery cache")
	}
	fmt.Fprintf(app.stdout, "%s Cleared %s\n", SuccessStyle.Render("✓"), cache.Path())
	return nil
}
