// SPDX-License-Identifier: MPL-2.0

// Package selection drives the interactive choice of an environment: a
// picker that fills in while discovery runs, manual path entry, a file
// browser and the install page when nothing was found.
package selection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/envscout/envscout/internal/envmgr"
	"github.com/envscout/envscout/internal/probe"

	"github.com/charmbracelet/log"
)

// Prompt options offered after a failure or an empty result.
const (
	OptionRetry   = "Retry"
	OptionBrowse  = "Browse..."
	OptionManual  = "Enter path manually..."
	OptionInstall = "Open install page"
)

// NoEnvironmentTitle heads the choice shown when discovery found nothing.
const NoEnvironmentTitle = "No environment found"

const (
	// ChoiceCancel means the picker was dismissed.
	ChoiceCancel ChoiceKind = iota
	// ChoicePath means an existing item was picked.
	ChoicePath
	// ChoiceManual means the user asked to type a path.
	ChoiceManual
	// ChoiceBrowse means the user asked for a file browser.
	ChoiceBrowse
)

const (
	stepManual step = iota
	stepBrowse
)

type (
	// ChoiceKind tells what the user did in the picker.
	ChoiceKind int

	// Choice is the outcome of a picker.
	Choice struct {
		Kind ChoiceKind
		// Path is set for ChoicePath.
		Path string
	}

	// Item is one picker row.
	Item struct {
		Path        string
		Version     string
		Recommended bool
	}

	// Picker is an open list the controller keeps updating while discovery
	// runs. After Close, Wait returns a ChoiceCancel.
	Picker interface {
		Update(items []Item)
		SetBusy(busy bool)
		Wait(ctx context.Context) (Choice, error)
		Close()
	}

	// UI is the set of prompts the controller needs. Every prompt reports
	// ok=false when the user cancels.
	UI interface {
		OpenPicker(ctx context.Context, items []Item) Picker
		PromptPath(ctx context.Context) (path string, ok bool, err error)
		BrowseFile(ctx context.Context) (path string, ok bool, err error)
		Choose(ctx context.Context, title string, options []string) (choice string, ok bool, err error)
	}

	// Opener opens a URL in the user's browser.
	Opener interface {
		Open(ctx context.Context, url string) error
	}

	// Orchestrator is the part of the discovery manager the controller uses.
	Orchestrator interface {
		Cached() ([]string, bool)
		Snapshot() envmgr.Snapshot
		Subscribe() (<-chan envmgr.Snapshot, func())
		Invalidate()
		Stale(window time.Duration) bool
		Start(ctx context.Context)
		Select(ctx context.Context, path string) error
	}

	// Result is the outcome of a selection session.
	Result struct {
		// Path is the selected executable, empty when nothing was selected.
		Path      string
		Cancelled bool
	}

	// Controller runs selection sessions.
	Controller struct {
		Manager Orchestrator
		UI      UI
		Opener  Opener
		// InstallURL is opened when the user asks for the install page.
		InstallURL string
		// StaleAfter forces a fresh run when the last one is older.
		StaleAfter time.Duration
		Validate   func(path string) bool
		Version    func(path string) (string, bool)
		// Home resolves "~"; nil means os.UserHomeDir.
		Home   func() (string, error)
		Logger *log.Logger
	}

	pickResult struct {
		choice Choice
		err    error
	}

	step int
)

// Run lets the user pick an environment and persists the choice.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	c.defaults()

	c.revalidate()
	if c.Manager.Stale(c.StaleAfter) {
		c.Logger.Debug("discovery results are stale, refreshing")
		c.Manager.Invalidate()
	}
	c.Manager.Start(ctx)

	snaps, unsubscribe := c.Manager.Subscribe()
	defer unsubscribe()

	cached := c.validCached()
	picker := c.UI.OpenPicker(ctx, c.items(nil, cached, ""))
	picker.SetBusy(true)

	choices := make(chan pickResult, 1)
	go func() {
		choice, err := picker.Wait(ctx)
		choices <- pickResult{choice: choice, err: err}
	}()

	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				snaps = nil
				continue
			}
			if !snap.Settled {
				picker.Update(c.items(snap.Paths, cached, ""))
				continue
			}
			picker.Update(c.items(snap.Paths, nil, snap.Recommended))
			picker.SetBusy(false)
			if len(snap.Paths) == 0 {
				picker.Close()
				<-choices
				return c.noEnvironment(ctx)
			}
		case r := <-choices:
			picker.Close()
			if r.err != nil {
				return Result{}, r.err
			}
			return c.handle(ctx, r.choice)
		case <-ctx.Done():
			picker.Close()
			return Result{}, ctx.Err()
		}
	}
}

func (c *Controller) defaults() {
	if c.Validate == nil {
		c.Validate = probe.Validate
	}
	if c.Version == nil {
		c.Version = func(string) (string, bool) { return "", false }
	}
	if c.Home == nil {
		c.Home = os.UserHomeDir
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = envmgr.DefaultStaleAfter
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard)
	}
}

// revalidate invalidates discovery when a known path no longer exists, so
// the picker never offers a deleted interpreter.
func (c *Controller) revalidate() {
	cached, _ := c.Manager.Cached()
	known := append(cached, c.Manager.Snapshot().Paths...)
	for _, p := range known {
		if !c.Validate(p) {
			c.Logger.Debug("known environment vanished", "path", p)
			c.Manager.Invalidate()
			return
		}
	}
}

func (c *Controller) validCached() []string {
	cached, _ := c.Manager.Cached()
	valid := make([]string, 0, len(cached))
	for _, p := range cached {
		if c.Validate(p) {
			valid = append(valid, p)
		}
	}
	return valid
}

// items builds picker rows from paths followed by any extra paths not
// already listed.
func (c *Controller) items(paths, extra []string, recommended string) []Item {
	seen := make(map[string]struct{}, len(paths)+len(extra))
	out := make([]Item, 0, len(paths)+len(extra))
	for _, group := range [][]string{paths, extra} {
		for _, p := range group {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			item := Item{Path: p, Recommended: p == recommended}
			if v, ok := c.Version(p); ok {
				item.Version = v
			}
			out = append(out, item)
		}
	}
	return out
}

func (c *Controller) handle(ctx context.Context, choice Choice) (Result, error) {
	switch choice.Kind {
	case ChoicePath:
		return c.selectPath(ctx, choice.Path)
	case ChoiceManual:
		return c.prompt(ctx, stepManual)
	case ChoiceBrowse:
		return c.prompt(ctx, stepBrowse)
	default:
		return Result{Cancelled: true}, nil
	}
}

func (c *Controller) noEnvironment(ctx context.Context) (Result, error) {
	opt, ok, err := c.UI.Choose(ctx, NoEnvironmentTitle, []string{OptionInstall, OptionManual})
	if err != nil {
		return Result{}, err
	}
	switch {
	case !ok:
		return Result{Cancelled: true}, nil
	case opt == OptionInstall:
		if c.Opener == nil {
			return Result{}, fmt.Errorf("no browser opener for %s", c.InstallURL)
		}
		return Result{}, c.Opener.Open(ctx, c.InstallURL)
	default:
		return c.prompt(ctx, stepManual)
	}
}

// prompt alternates between manual entry and the file browser until a
// usable executable is chosen or the user cancels.
func (c *Controller) prompt(ctx context.Context, s step) (Result, error) {
	for {
		var (
			path     string
			ok       bool
			err      error
			fallback string
		)
		if s == stepManual {
			path, ok, err = c.UI.PromptPath(ctx)
			fallback = OptionBrowse
			if ok {
				path = c.expand(path)
			}
		} else {
			path, ok, err = c.UI.BrowseFile(ctx)
			fallback = OptionManual
		}
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{Cancelled: true}, nil
		}
		if c.Validate(path) {
			return c.selectPath(ctx, path)
		}

		c.Logger.Debug("rejected interpreter path", "path", path)
		title := fmt.Sprintf("%s is not a usable interpreter", path)
		opt, ok, err := c.UI.Choose(ctx, title, []string{OptionRetry, fallback})
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{Cancelled: true}, nil
		}
		if opt == fallback {
			s = s.other()
		}
	}
}

func (s step) other() step {
	if s == stepManual {
		return stepBrowse
	}
	return stepManual
}

// selectPath persists path. The path is reported even when only the server
// restart failed, but not when the manager rejected it.
func (c *Controller) selectPath(ctx context.Context, path string) (Result, error) {
	err := c.Manager.Select(ctx, path)
	if errors.Is(err, envmgr.ErrInvalidEnvironment) {
		return Result{}, err
	}
	return Result{Path: path}, err
}

func (c *Controller) expand(path string) string {
	home, err := c.Home()
	if err != nil {
		return strings.TrimSpace(path)
	}
	return ExpandHome(path, home)
}

// ExpandHome trims path and replaces a leading "~" with home.
func ExpandHome(path, home string) string {
	path = strings.TrimSpace(path)
	switch {
	case path == "~":
		return home
	case strings.HasPrefix(path, "~/"), strings.HasPrefix(path, `~\`):
		return filepath.Join(home, path[2:])
	default:
		return path
	}
}
