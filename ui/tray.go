package ui

import (
	"fmt"
	"slices"
	"sync"

	"fyne.io/systray"
	"github.com/yllada/tunnelbar/common"
	"github.com/yllada/tunnelbar/menu"
	"github.com/yllada/tunnelbar/tunnel"
)

// item is the part of a systray menu item the tray drives.
type item interface {
	SetTitle(title string)
	Check()
	Uncheck()
	Show()
	Hide()
	Disable()
	Clicked() <-chan struct{}
}

// builder appends items to the native menu and sets the icon.
type builder interface {
	AddItem(title, tooltip string) item
	AddCheckbox(title, tooltip string) item
	AddSeparator()
	SetIcon(png []byte)
	SetTooltip(tooltip string)
}

type systrayItem struct{ *systray.MenuItem }

func (i systrayItem) Clicked() <-chan struct{} { return i.ClickedCh }

type systrayBuilder struct{}

func (systrayBuilder) AddItem(title, tooltip string) item {
	return systrayItem{systray.AddMenuItem(title, tooltip)}
}

func (systrayBuilder) AddCheckbox(title, tooltip string) item {
	return systrayItem{systray.AddMenuItemCheckbox(title, tooltip, false)}
}

func (systrayBuilder) AddSeparator()         { systray.AddSeparator() }
func (systrayBuilder) SetIcon(png []byte)    { systray.SetIcon(png) }
func (systrayBuilder) SetTooltip(tip string) { systray.SetTooltip(tip) }

// Actions are the handlers for tray clicks. They run through the post
// function given to the tray, normally the menu loop.
type Actions struct {
	Toggle func(index int)
	Manage func()
	Import func()
	Quit   func()
}

// Tray is the systray implementation of menu.Surface.
//
// The native menu cannot insert items in the middle, so the tunnel rows are
// a fixed pool of checkbox items created up front. Row views are kept in
// order and painted onto the pool; unused slots are hidden.
type Tray struct {
	b    builder
	post func(func())

	status   item
	networks item
	header   item
	slots    []item
	rows     []*rowView
	overflow bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewTray builds the systray menu. It must be called from the systray
// onReady callback.
func NewTray(capacity int, post func(func()), actions Actions) *Tray {
	return newTray(systrayBuilder{}, capacity, post, actions)
}

func newTray(b builder, capacity int, post func(func()), actions Actions) *Tray {
	t := &Tray{
		b:    b,
		post: post,
		done: make(chan struct{}),
	}

	b.SetIcon(IconFor(tunnel.StatusInactive))
	b.SetTooltip(common.AppName)

	t.status = b.AddItem("", "Current tunnel status")
	t.status.Disable()
	t.networks = b.AddItem("", "Networks routed through the tunnel")
	t.networks.Disable()
	t.networks.Hide()

	b.AddSeparator()

	t.header = b.AddItem("── Tunnels ──", "")
	t.header.Disable()
	t.header.Hide()

	t.slots = make([]item, capacity)
	for i := range t.slots {
		slot := b.AddCheckbox("", "Activate or deactivate this tunnel")
		slot.Hide()
		t.slots[i] = slot
		t.listen(slot, func() {
			if actions.Toggle != nil {
				actions.Toggle(i)
			}
		})
	}

	b.AddSeparator()
	t.listen(b.AddItem("Manage Tunnels…", "Open the manage tunnels window"), actions.Manage)
	t.listen(b.AddItem("Import Tunnel(s) from File…", "Import wg-quick configuration files"), actions.Import)
	b.AddSeparator()
	t.listen(b.AddItem("Quit", "Quit "+common.AppName), actions.Quit)

	return t
}

func (t *Tray) listen(it item, fn func()) {
	if fn == nil {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-t.done:
				return
			case _, ok := <-it.Clicked():
				if !ok {
					return
				}
				t.post(fn)
			}
		}
	}()
}

// Close stops the click listeners.
func (t *Tray) Close() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	t.wg.Wait()
}

// InsertRow implements menu.Surface.
func (t *Tray) InsertRow(index int) menu.RowView {
	v := &rowView{tray: t}
	t.rows = slices.Insert(t.rows, index, v)
	t.paintFrom(index)
	return v
}

// RemoveRow implements menu.Surface.
func (t *Tray) RemoveRow(index int) {
	t.rows[index].tray = nil
	t.rows = slices.Delete(t.rows, index, index+1)
	t.paintFrom(index)
}

// SetSeparator implements menu.Surface.
func (t *Tray) SetSeparator(visible bool) {
	if visible {
		t.header.Show()
	} else {
		t.header.Hide()
	}
}

// SetReadout implements menu.Surface.
func (t *Tray) SetReadout(r menu.Readout) {
	t.status.SetTitle(r.StatusText)
	t.networks.SetTitle(r.NetworksText)
	if r.NetworksVisible {
		t.networks.Show()
	} else {
		t.networks.Hide()
	}

	t.b.SetIcon(IconFor(r.Status))
	if r.Tunnel == "" {
		t.b.SetTooltip(common.AppName)
	} else {
		t.b.SetTooltip(fmt.Sprintf("%s: %s (%s)", common.AppName, r.Tunnel, r.Status))
	}
}

// paintFrom repaints every slot from index to the end of the pool.
func (t *Tray) paintFrom(index int) {
	for i := index; i < len(t.slots); i++ {
		t.paint(i)
	}
	if len(t.rows) > len(t.slots) && !t.overflow {
		t.overflow = true
		common.LogWarn("Tray shows %d of %d tunnels; raise max_menu_tunnels to see the rest",
			len(t.slots), len(t.rows))
	}
	if len(t.rows) <= len(t.slots) {
		t.overflow = false
	}
}

func (t *Tray) paint(i int) {
	slot := t.slots[i]
	if i >= len(t.rows) {
		slot.Hide()
		return
	}
	v := t.rows[i]
	slot.SetTitle(v.title)
	if v.checked {
		slot.Check()
	} else {
		slot.Uncheck()
	}
	slot.Show()
}

// rowView remembers what its row shows so it can be repainted onto a
// different slot when rows above it come and go.
type rowView struct {
	tray    *Tray
	title   string
	checked bool
}

func (v *rowView) Update(title string, checked bool) {
	v.title, v.checked = title, checked
	if v.tray == nil {
		return
	}
	if i := slices.Index(v.tray.rows, v); i >= 0 && i < len(v.tray.slots) {
		v.tray.paint(i)
	}
}
