// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"slices"

	"github.com/envscout/envscout/internal/envmgr"
	"github.com/envscout/envscout/internal/issue"
	"github.com/envscout/envscout/internal/watch"

	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"
)

func newWatchCommand(app *App, flags *rootFlagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep discovery results current and print changes",
		Long: `Keep discovery results current and print changes.

Runs discovery once, then watches PATH, the registry, your workspaces and
the home environment stores. Environments that appear or disappear are
printed as +/- lines until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.reportError(cmd, runWatch(cmd, app, flags), flags.verbose)
		},
	}
}

func runWatch(cmd *cobra.Command, app *App, flags *rootFlagValues) error {
	ctx := cmd.Context()
	s, err := app.newSession(ctx, flags, nil)
	if err != nil {
		return err
	}
	defer s.close()

	snap, err := s.manager.Discover(ctx)
	if err != nil {
		return err
	}
	shown := make(map[string]struct{}, len(snap.Paths))
	for _, p := range snap.Paths {
		shown[p] = struct{}{}
		fmt.Fprintln(app.stdout, "  "+PathStyle.Render(p))
	}

	w := watch.New(s.watchConfig(s.manager.WatchCallbacks()))
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Dispose()
	warnWatchLimit(app, w)

	fmt.Fprintln(app.stderr, SubtitleStyle.Render(fmt.Sprintf("Watching %d directories, press Ctrl+C to stop", w.Watched())))

	snaps, unsubscribe := s.manager.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			printChanges(app, shown, snap)
		}
	}
}

// warnWatchLimit explains how to raise the OS watch limit when coverage
// is partial. Watching continues either way.
func warnWatchLimit(app *App, w *watch.Watcher) {
	if !w.LimitReached() {
		return
	}
	fmt.Fprintln(app.stderr, WarningStyle.Render("Warning: ")+watch.ErrWatchLimit.Error()+", some directories are not watched")
	renderServiceError(app.stderr, app.ui, newServiceError(watch.ErrWatchLimit, issue.WatchLimitReachedId))
}

// printChanges prints the difference between shown and a settled snapshot
// and updates shown to match it. Removals print in path order.
func printChanges(app *App, shown map[string]struct{}, snap envmgr.Snapshot) {
	if !snap.Settled {
		return
	}
	current := make(map[string]struct{}, len(snap.Paths))
	for _, p := range snap.Paths {
		current[p] = struct{}{}
		if _, ok := shown[p]; !ok {
			fmt.Fprintln(app.stdout, SuccessStyle.Render("+ ")+PathStyle.Render(p))
			shown[p] = struct{}{}
		}
	}
	gone := maps.Keys(shown)
	slices.Sort(gone)
	for _, p := range gone {
		if _, ok := current[p]; !ok {
			fmt.Fprintln(app.stdout, ErrorStyle.Render("- ")+PathStyle.Render(p))
			delete(shown, p)
		}
	}
}
