// SPDX-License-Identifier: MPL-2.0

package tui

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/envscout/envscout/internal/selection"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
)

// UI implements selection.UI on a terminal.
type UI struct {
	cfg  Config
	home func() (string, error)
}

// New creates a UI.
func New(cfg Config) *UI {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	return &UI{cfg: cfg, home: os.UserHomeDir}
}

// OpenPicker shows the environment list and returns immediately; the
// list keeps updating until the user picks a row.
func (u *UI) OpenPicker(ctx context.Context, items []selection.Item) selection.Picker {
	if u.cfg.Accessible {
		fmt.Fprintln(u.cfg.Output, "Searching for environments...")
		return &accessiblePicker{
			ui:      u,
			items:   items,
			settled: make(chan struct{}),
			closed:  make(chan struct{}),
		}
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithOutput(u.cfg.Output)}
	if u.cfg.Input != nil {
		opts = append(opts, tea.WithInput(u.cfg.Input))
	}
	p := &programPicker{
		prog: tea.NewProgram(newPickerModel(items), opts...),
		done: make(chan struct{}),
	}
	go func() {
		final, err := p.prog.Run()
		if m, ok := final.(*pickerModel); ok {
			p.choice = m.choice
		}
		p.err = err
		close(p.done)
	}()
	return p
}

// PromptPath asks for an interpreter path.
func (u *UI) PromptPath(ctx context.Context) (string, bool, error) {
	var path string
	input := huh.NewInput().
		Title("Interpreter path").
		Description("A leading ~ is expanded to your home directory").
		Placeholder("~/.venvs/app/bin/python").
		Value(&path)
	ok, err := u.run(ctx, input)
	return path, ok, err
}

// BrowseFile opens a file browser rooted at the home directory.
func (u *UI) BrowseFile(ctx context.Context) (string, bool, error) {
	var path string
	picker := huh.NewFilePicker().
		Title("Select the interpreter").
		ShowHidden(true).
		FileAllowed(true).
		DirAllowed(false).
		Value(&path)
	if home, err := u.home(); err == nil {
		picker = picker.CurrentDirectory(home)
	}
	ok, err := u.run(ctx, picker)
	return path, ok, err
}

// Choose asks for one of options.
func (u *UI) Choose(ctx context.Context, title string, options []string) (string, bool, error) {
	var choice string
	sel := huh.NewSelect[string]().
		Title(title).
		Options(huh.NewOptions(options...)...).
		Value(&choice)
	ok, err := u.run(ctx, sel)
	return choice, ok, err
}

// run shows a single-field form. A user abort is ok=false, not an error.
func (u *UI) run(ctx context.Context, field huh.Field) (bool, error) {
	form := huh.NewForm(huh.NewGroup(field)).
		WithTheme(huhTheme(u.cfg.Theme)).
		WithAccessible(u.cfg.Accessible).
		WithOutput(u.cfg.Output)
	if u.cfg.Input != nil {
		form = form.WithInput(u.cfg.Input)
	}
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
