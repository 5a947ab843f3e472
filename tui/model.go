package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/yllada/tunnelbar/common"
	"github.com/yllada/tunnelbar/tunnel"
)

// Manager is the part of the tunnel manager the window drives.
type Manager interface {
	Tunnels() []*tunnel.Tunnel
	RequestActivation(t *tunnel.Tunnel)
	RequestDeactivation(t *tunnel.Tunnel)
	Import(path string) (*tunnel.Tunnel, error)
	Rename(t *tunnel.Tunnel, name string) error
	Update(t *tunnel.Tunnel, path string) error
	Remove(t *tunnel.Tunnel) error
	Refresh(ctx context.Context) error
}

type mode int

const (
	modeList mode = iota
	modeImport
	modeRename
	modeUpdate
	modeConfirmDelete
)

type (
	changedMsg   struct{}
	tickMsg      time.Time
	refreshedMsg struct{ err error }
	importedMsg  struct {
		names []string
		err   error
	}
)

type model struct {
	mgr      Manager
	fs       afero.Fs
	changes  <-chan struct{}
	done     <-chan struct{}
	interval time.Duration

	keys  keyMap
	help  help.Model
	input textinput.Model

	tunnels []*tunnel.Tunnel
	cursor  int
	mode    mode
	target  *tunnel.Tunnel
	message string
	err     error
}

func newModel(mgr Manager, fs afero.Fs, startImport bool) model {
	input := textinput.New()
	input.CharLimit = 4096

	m := model{
		mgr:   mgr,
		fs:    fs,
		keys:  defaultKeyMap(),
		help:  help.New(),
		input: input,
	}
	m.reload()
	if startImport {
		m.beginImport()
	}
	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.waitForChange(), m.tick()}
	if m.mode != modeList {
		cmds = append(cmds, textinput.Blink)
	}
	return tea.Batch(cmds...)
}

func (m model) waitForChange() tea.Cmd {
	if m.changes == nil {
		return nil
	}
	changes, done := m.changes, m.done
	return func() tea.Msg {
		select {
		case <-changes:
			return changedMsg{}
		case <-done:
			return nil
		}
	}
}

func (m model) tick() tea.Cmd {
	if m.interval <= 0 {
		return nil
	}
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) refresh() tea.Cmd {
	mgr := m.mgr
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), common.BackendTimeout)
		defer cancel()
		return refreshedMsg{err: mgr.Refresh(ctx)}
	}
}

// reload takes a fresh snapshot and keeps the cursor on the same tunnel.
func (m *model) reload() {
	var selected *tunnel.Tunnel
	if m.cursor < len(m.tunnels) {
		selected = m.tunnels[m.cursor]
	}
	m.tunnels = m.mgr.Tunnels()
	if i := slices.Index(m.tunnels, selected); i >= 0 {
		m.cursor = i
	}
	m.cursor = max(0, min(m.cursor, len(m.tunnels)-1))
}

func (m model) selected() *tunnel.Tunnel {
	if m.cursor < len(m.tunnels) {
		return m.tunnels[m.cursor]
	}
	return nil
}

func (m *model) beginImport() tea.Cmd {
	m.mode = modeImport
	m.input.Prompt = "Import file(s): "
	m.input.Placeholder = "~/Downloads/*.conf"
	m.input.SetValue("")
	return m.input.Focus()
}

func (m *model) beginRename(t *tunnel.Tunnel) tea.Cmd {
	m.mode = modeRename
	m.target = t
	m.input.Prompt = "New name: "
	m.input.Placeholder = ""
	m.input.SetValue(t.Name())
	m.input.CursorEnd()
	return m.input.Focus()
}

func (m *model) beginUpdate(t *tunnel.Tunnel) tea.Cmd {
	m.mode = modeUpdate
	m.target = t
	m.input.Prompt = "Update " + t.Name() + " from: "
	m.input.Placeholder = "~/Downloads/" + t.InterfaceName() + ".conf"
	m.input.SetValue("")
	return m.input.Focus()
}

func (m *model) endPrompt() {
	m.mode = modeList
	m.target = nil
	m.input.Blur()
}

func (m *model) fail(err error) {
	m.message = ""
	m.err = err
}

func (m *model) note(format string, args ...any) {
	m.err = nil
	m.message = fmt.Sprintf(format, args...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case changedMsg:
		m.reload()
		return m, m.waitForChange()

	case tickMsg:
		return m, tea.Batch(m.refresh(), m.tick())

	case refreshedMsg:
		if msg.err != nil {
			common.LogDebug("Refresh: %v", msg.err)
		}
		m.reload()
		return m, nil

	case importedMsg:
		m.reload()
		switch {
		case msg.err != nil:
			m.fail(msg.err)
		case len(msg.names) == 1:
			m.note("Imported %s", msg.names[0])
		default:
			m.note("Imported %d tunnels", len(msg.names))
		}
		return m, nil

	case tea.KeyMsg:
		if m.mode == modeList {
			return m.updateList(msg)
		}
		return m.updatePrompt(msg)
	}

	if m.mode == modeImport || m.mode == modeRename || m.mode == modeUpdate {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.tunnels)-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.Toggle):
		t := m.selected()
		if t == nil {
			return m, nil
		}
		if t.Status().IsOn() {
			m.mgr.RequestDeactivation(t)
			m.note("Deactivating %s", t.Name())
		} else {
			m.mgr.RequestActivation(t)
			m.note("Activating %s", t.Name())
		}

	case key.Matches(msg, m.keys.Import):
		return m, m.beginImport()

	case key.Matches(msg, m.keys.Rename):
		if t := m.selected(); t != nil {
			return m, m.beginRename(t)
		}

	case key.Matches(msg, m.keys.Update):
		if t := m.selected(); t != nil {
			return m, m.beginUpdate(t)
		}

	case key.Matches(msg, m.keys.Delete):
		t := m.selected()
		if t == nil {
			return m, nil
		}
		if t.Status() != tunnel.StatusInactive {
			m.fail(fmt.Errorf("deactivate %s before deleting it", t.Name()))
			return m, nil
		}
		m.mode = modeConfirmDelete
		m.target = t

	case key.Matches(msg, m.keys.Refresh):
		return m, m.refresh()
	}
	return m, nil
}

func (m model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyEsc || msg.Type == tea.KeyCtrlC {
		m.endPrompt()
		return m, nil
	}

	switch m.mode {
	case modeConfirmDelete:
		t := m.target
		m.endPrompt()
		if msg.String() != "y" {
			return m, nil
		}
		if err := m.mgr.Remove(t); err != nil {
			m.fail(err)
		} else {
			m.note("Deleted %s", t.Name())
		}
		m.reload()
		return m, nil

	case modeImport:
		if msg.Type == tea.KeyEnter {
			pattern := strings.TrimSpace(m.input.Value())
			m.endPrompt()
			if pattern == "" {
				return m, nil
			}
			m.note("Importing…")
			return m, importFiles(m.mgr, m.fs, pattern)
		}

	case modeRename:
		if msg.Type == tea.KeyEnter {
			t, name := m.target, strings.TrimSpace(m.input.Value())
			m.endPrompt()
			if name == t.Name() {
				return m, nil
			}
			if err := m.mgr.Rename(t, name); err != nil {
				m.fail(err)
			} else {
				m.note("Renamed to %s", name)
			}
			m.reload()
			return m, nil
		}

	case modeUpdate:
		if msg.Type == tea.KeyEnter {
			t, path := m.target, expandHome(strings.TrimSpace(m.input.Value()))
			m.endPrompt()
			if path == "" {
				return m, nil
			}
			if err := m.mgr.Update(t, path); err != nil {
				m.fail(err)
			} else {
				m.note("Updated %s", t.Name())
			}
			m.reload()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// expandHome replaces a leading ~ with the home directory.
func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

// importFiles imports every file matching pattern.
func importFiles(mgr Manager, fs afero.Fs, pattern string) tea.Cmd {
	return func() tea.Msg {
		pattern := expandHome(pattern)
		paths, err := afero.Glob(fs, pattern)
		if err != nil {
			return importedMsg{err: err}
		}
		if len(paths) == 0 {
			return importedMsg{err: fmt.Errorf("no files match %s", pattern)}
		}

		var result *multierror.Error
		var names []string
		for _, p := range paths {
			t, err := mgr.Import(p)
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			names = append(names, t.Name())
		}
		return importedMsg{names: names, err: result.ErrorOrNil()}
	}
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(common.AppName + " · Manage Tunnels"))
	b.WriteString("\n\n")

	if len(m.tunnels) == 0 {
		b.WriteString(dimStyle.Render("  No tunnels. Press i to import a wg-quick file."))
		b.WriteString("\n")
	}
	for i, t := range m.tunnels {
		cursor, name := "  ", nameStyle.Render(t.Name())
		if i == m.cursor {
			cursor = selectedStyle.Render("> ")
			name = selectedStyle.Width(24).Render(t.Name())
		}
		status := t.Status()
		b.WriteString(cursor + name + statusColor(status).Render(status.String()))
		if ips := t.AllowedIPs(); len(ips) > 0 {
			b.WriteString(dimStyle.Render(strings.Join(ips, ", ")))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch m.mode {
	case modeImport, modeRename, modeUpdate:
		b.WriteString(m.input.View())
		b.WriteString("\n")
	case modeConfirmDelete:
		b.WriteString(promptStyle.Render(fmt.Sprintf("Delete %s? (y/n)", m.target.Name())))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()))
		b.WriteString("\n")
	} else if m.message != "" {
		b.WriteString(dimStyle.Render(m.message))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}
