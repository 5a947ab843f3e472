// Package tui implements the manage tunnels window as a terminal program.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/afero"
	"github.com/yllada/tunnelbar/common"
	"github.com/yllada/tunnelbar/tunnel"
)

// Run shows the window until the user quits. With startImport the import
// prompt is open on start.
func Run(mgr *tunnel.Manager, startImport bool) error {
	changes := make(chan struct{}, 1)
	done := make(chan struct{})
	defer close(done)

	notify := func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}
	listSub, _ := mgr.ObserveList(listWatcher(notify))
	defer listSub.Cancel()
	statusSub := mgr.ObserveStatus(func(tunnel.StatusChange) { notify() })
	defer statusSub.Cancel()

	m := newModel(mgr, afero.NewOsFs(), startImport)
	m.changes, m.done = changes, done
	m.interval = common.MonitorInterval

	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// listWatcher turns every list notification into a reload.
type listWatcher func()

func (w listWatcher) TunnelAdded(int, *tunnel.Tunnel)      { w() }
func (w listWatcher) TunnelRemoved(int, *tunnel.Tunnel)    { w() }
func (w listWatcher) TunnelMoved(int, int, *tunnel.Tunnel) { w() }
func (w listWatcher) CurrentChanged(*tunnel.Tunnel)        { w() }
