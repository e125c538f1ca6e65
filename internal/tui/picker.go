// SPDX-License-Identifier: MPL-2.0

package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/envscout/envscout/internal/selection"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
)

// Action row labels shown below the discovered environments.
const (
	rowManual = selection.OptionManual
	rowBrowse = selection.OptionBrowse
)

type (
	itemsMsg []selection.Item
	busyMsg  bool
	closeMsg struct{}

	// row is one selectable line: an environment or an action.
	row struct {
		item   selection.Item
		action selection.ChoiceKind
	}

	// pickerModel is the bubbletea model behind the environment picker.
	pickerModel struct {
		items   []selection.Item
		cursor  int
		busy    bool
		spinner spinner.Model
		choice  selection.Choice
		done    bool
	}

	// programPicker runs a pickerModel in its own bubbletea program.
	programPicker struct {
		prog   *tea.Program
		done   chan struct{}
		choice selection.Choice
		err    error
	}

	// accessiblePicker waits for discovery to settle and then asks once with
	// a line-based select, since a live list cannot be read by a screen reader.
	accessiblePicker struct {
		ui *UI

		mu    sync.Mutex
		items []selection.Item

		settled    chan struct{}
		settleOnce sync.Once
		closed     chan struct{}
		closeOnce  sync.Once
	}
)

func newPickerModel(items []selection.Item) *pickerModel {
	return &pickerModel{
		items:   items,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(accentStyle)),
		choice:  selection.Choice{Kind: selection.ChoiceCancel},
	}
}

func (m *pickerModel) rows() []row {
	rows := make([]row, 0, len(m.items)+2)
	for _, it := range m.items {
		rows = append(rows, row{item: it, action: selection.ChoicePath})
	}
	return append(rows, row{action: selection.ChoiceManual}, row{action: selection.ChoiceBrowse})
}

func (r row) key() string {
	if r.action == selection.ChoicePath {
		return r.item.Path
	}
	return r.label()
}

func (r row) label() string {
	switch r.action {
	case selection.ChoiceManual:
		return rowManual
	case selection.ChoiceBrowse:
		return rowBrowse
	default:
		return r.item.Path
	}
}

// Init implements tea.Model.
func (m *pickerModel) Init() tea.Cmd {
	if m.busy {
		return m.spinner.Tick
	}
	return nil
}

// Update implements tea.Model.
func (m *pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case itemsMsg:
		m.setItems(msg)
	case busyMsg:
		wasBusy := m.busy
		m.busy = bool(msg)
		if m.busy && !wasBusy {
			return m, m.spinner.Tick
		}
	case closeMsg:
		m.done = true
		m.choice = selection.Choice{Kind: selection.ChoiceCancel}
		return m, tea.Quit
	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *pickerModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	rows := m.rows()
	switch msg.String() {
	case "ctrl+c", "esc", "q":
		m.done = true
		m.choice = selection.Choice{Kind: selection.ChoiceCancel}
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(rows)-1 {
			m.cursor++
		}
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		m.cursor = len(rows) - 1
	case "enter":
		r := rows[m.cursor]
		m.done = true
		m.choice = selection.Choice{Kind: r.action, Path: r.item.Path}
		return m, tea.Quit
	}
	return m, nil
}

// setItems replaces the list and keeps the cursor on the same row when that
// row still exists.
func (m *pickerModel) setItems(items []selection.Item) {
	rows := m.rows()
	current := rows[min(m.cursor, len(rows)-1)].key()

	m.items = items
	rows = m.rows()
	for i, r := range rows {
		if r.key() == current {
			m.cursor = i
			return
		}
	}
	m.cursor = min(m.cursor, len(rows)-1)
}

// View implements tea.Model.
func (m *pickerModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Select an environment"))
	b.WriteString("\n")
	if m.busy {
		b.WriteString(m.spinner.View() + dimStyle.Render(" Searching for environments..."))
	} else {
		b.WriteString(dimStyle.Render(fmt.Sprintf("%d found", len(m.items))))
	}
	b.WriteString("\n\n")

	for i, r := range m.rows() {
		prefix := "  "
		if i == m.cursor {
			prefix = cursorStyle.Render("> ")
		}
		b.WriteString(prefix + renderRow(r) + "\n")
	}
	b.WriteString("\n" + dimStyle.Render("↑/↓ move • enter select • esc cancel"))
	return b.String()
}

func renderRow(r row) string {
	if r.action != selection.ChoicePath {
		return dimStyle.Render(r.label())
	}
	line := r.item.Path
	if r.item.Version != "" {
		line += dimStyle.Render(" (" + r.item.Version + ")")
	}
	if r.item.Recommended {
		line += accentStyle.Render(" ★ recommended")
	}
	return line
}

func (p *programPicker) Update(items []selection.Item) { p.prog.Send(itemsMsg(items)) }

func (p *programPicker) SetBusy(busy bool) { p.prog.Send(busyMsg(busy)) }

func (p *programPicker) Close() { p.prog.Send(closeMsg{}) }

func (p *programPicker) Wait(ctx context.Context) (selection.Choice, error) {
	select {
	case <-p.done:
		if errors.Is(p.err, tea.ErrProgramKilled) {
			return selection.Choice{Kind: selection.ChoiceCancel}, nil
		}
		return p.choice, p.err
	case <-ctx.Done():
		return selection.Choice{}, ctx.Err()
	}
}

func (p *accessiblePicker) Update(items []selection.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = items
}

func (p *accessiblePicker) SetBusy(busy bool) {
	if !busy {
		p.settleOnce.Do(func() { close(p.settled) })
	}
}

func (p *accessiblePicker) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

func (p *accessiblePicker) Wait(ctx context.Context) (selection.Choice, error) {
	select {
	case <-p.settled:
	case <-p.closed:
		return selection.Choice{Kind: selection.ChoiceCancel}, nil
	case <-ctx.Done():
		return selection.Choice{}, ctx.Err()
	}

	p.mu.Lock()
	rows := (&pickerModel{items: p.items}).rows()
	p.mu.Unlock()

	opts := make([]huh.Option[int], len(rows))
	for i, r := range rows {
		label := r.label()
		if r.action == selection.ChoicePath && r.item.Version != "" {
			label += " (" + r.item.Version + ")"
		}
		opts[i] = huh.NewOption(label, i)
	}
	var idx int
	ok, err := p.ui.run(ctx, huh.NewSelect[int]().Title("Select an environment").Options(opts...).Value(&idx))
	if err != nil || !ok {
		return selection.Choice{Kind: selection.ChoiceCancel}, err
	}
	r := rows[idx]
	return selection.Choice{Kind: r.action, Path: r.item.Path}, nil
}
