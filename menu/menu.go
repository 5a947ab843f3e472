package menu

import (
	"fmt"
	"slices"

	"github.com/yllada/tunnelbar/common"
	"github.com/yllada/tunnelbar/tunnel"
)

// Menu keeps the surface's tunnel rows aligned with the manager's tunnel
// list and renders the current tunnel. Except for the notification methods,
// which post to the loop, Menu methods must run on the loop goroutine.
type Menu struct {
	manager  Manager
	surface  Surface
	delegate WindowDelegate
	post     func(func())
	quit     func()

	rows      []*row
	separator bool

	current    *tunnel.Tunnel
	currentSub *tunnel.Subscription
	readout    Readout

	listSub *tunnel.Subscription
}

// Option configures a Menu.
type Option func(*Menu)

// WithLoop routes observation callbacks through l.
func WithLoop(l *Loop) Option {
	return func(m *Menu) { m.post = l.Post }
}

// WithWindowDelegate sets the delegate used by ManageTunnels and ImportTunnels.
func WithWindowDelegate(d WindowDelegate) Option {
	return func(m *Menu) { m.delegate = d }
}

// WithQuit sets the function run by Quit.
func WithQuit(fn func()) Option {
	return func(m *Menu) { m.quit = fn }
}

// New creates an empty menu and renders the readout for no current tunnel.
// Without WithLoop, callbacks run synchronously on the notifying goroutine.
func New(manager Manager, surface Surface, opts ...Option) *Menu {
	m := &Menu{
		manager: manager,
		surface: surface,
		post:    func(fn func()) { fn() },
	}
	for _, opt := range opts {
		opt(m)
	}
	m.renderReadout()
	return m
}

// Insert creates a row for t at index.
func (m *Menu) Insert(t *tunnel.Tunnel, index int) {
	if index < 0 || index > len(m.rows) {
		panic(fmt.Sprintf("menu: insert index %d out of range [0,%d]", index, len(m.rows)))
	}
	m.insertRow(t, index)
	if !m.separator {
		m.separator = true
		m.surface.SetSeparator(true)
	}
}

// Remove destroys the row at index.
func (m *Menu) Remove(index int) {
	m.checkIndex(index)
	m.removeRow(index)
	if len(m.rows) == 0 && m.separator {
		m.separator = false
		m.surface.SetSeparator(false)
	}
}

// Move recreates the row at from at position to. The tunnel binding is kept
// and its observations are re-established.
func (m *Menu) Move(from, to int) {
	m.checkIndex(from)
	m.checkIndex(to)
	t := m.rows[from].tunnel
	m.removeRow(from)
	m.insertRow(t, to)
}

func (m *Menu) checkIndex(index int) {
	if index < 0 || index >= len(m.rows) {
		panic(fmt.Sprintf("menu: row index %d out of range [0,%d)", index, len(m.rows)))
	}
}

func (m *Menu) insertRow(t *tunnel.Tunnel, index int) {
	view := m.surface.InsertRow(index)
	m.rows = slices.Insert(m.rows, index, newRow(t, view, m.post))
}

func (m *Menu) removeRow(index int) {
	m.rows[index].destroy()
	m.rows = slices.Delete(m.rows, index, index+1)
	m.surface.RemoveRow(index)
}

// SetCurrent selects the tunnel mirrored by the readout, or none.
func (m *Menu) SetCurrent(t *tunnel.Tunnel) {
	m.currentSub.Cancel()
	m.currentSub = nil
	m.current = t

	if t != nil {
		m.currentSub = t.ObserveStatus(func(tunnel.Status) {
			m.post(func() {
				if m.current == t {
					m.renderReadout()
				}
			})
		})
	}
	m.renderReadout()
}

func (m *Menu) renderReadout() {
	m.readout = ReadoutFor(m.current)
	m.surface.SetReadout(m.readout)
}

// Toggle handles a click on the row at index. A checked row is deactivated,
// an unchecked one activated. Stale indices are ignored.
func (m *Menu) Toggle(index int) {
	if index < 0 || index >= len(m.rows) {
		common.LogDebug("Ignoring click on row %d of %d", index, len(m.rows))
		return
	}
	r := m.rows[index]
	if r.checked {
		m.manager.RequestDeactivation(r.tunnel)
	} else {
		m.manager.RequestActivation(r.tunnel)
	}
}

// ManageTunnels brings the manage tunnels window to the front.
func (m *Menu) ManageTunnels() {
	if w := m.window(); w != nil {
		w.Present()
	}
}

// ImportTunnels presents the manage window and starts its import flow.
func (m *Menu) ImportTunnels() {
	w := m.window()
	if w == nil {
		return
	}
	w.Present()
	if imp, ok := w.(Importer); ok {
		imp.ImportTunnels()
	}
}

func (m *Menu) window() Window {
	if m.delegate == nil {
		common.LogDebug("No window delegate configured")
		return nil
	}
	return m.delegate.ManageTunnelsWindow()
}

// Quit runs the quit function, if any.
func (m *Menu) Quit() {
	if m.quit != nil {
		m.quit()
	}
}

// Attach subscribes to src, builds the rows from its snapshot and selects
// the tunnel in operation. Notifications are posted to the loop.
func (m *Menu) Attach(src Source) {
	sub, snapshot := src.ObserveList(listObserver{m})
	m.listSub = sub
	for i, t := range snapshot {
		m.Insert(t, i)
	}
	m.SetCurrent(src.InOperation())
}

// Close destroys all rows and stops every observation.
func (m *Menu) Close() {
	m.listSub.Cancel()
	m.currentSub.Cancel()
	m.current = nil
	for len(m.rows) > 0 {
		m.Remove(len(m.rows) - 1)
	}
}

// Rows returns the tunnels bound to the rows, in order.
func (m *Menu) Rows() []*tunnel.Tunnel {
	out := make([]*tunnel.Tunnel, len(m.rows))
	for i, r := range m.rows {
		out[i] = r.tunnel
	}
	return out
}

// Checked reports the checked state of the row at index.
func (m *Menu) Checked(index int) bool {
	m.checkIndex(index)
	return m.rows[index].checked
}

// HasSeparator reports whether the bounding separator is shown.
func (m *Menu) HasSeparator() bool { return m.separator }

// Readout returns the last rendered readout.
func (m *Menu) Readout() Readout { return m.readout }

// listObserver forwards manager notifications to the loop.
type listObserver struct{ m *Menu }

func (o listObserver) TunnelAdded(index int, t *tunnel.Tunnel) {
	o.m.post(func() { o.m.Insert(t, index) })
}

func (o listObserver) TunnelRemoved(index int, _ *tunnel.Tunnel) {
	o.m.post(func() { o.m.Remove(index) })
}

func (o listObserver) TunnelMoved(from, to int, _ *tunnel.Tunnel) {
	o.m.post(func() { o.m.Move(from, to) })
}

func (o listObserver) CurrentChanged(t *tunnel.Tunnel) {
	o.m.post(func() { o.m.SetCurrent(t) })
}
