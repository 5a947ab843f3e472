// Package ui provides the system tray front end of tunnelbar.
//
// This package implements:
//
//   - The systray menu surface the menu package draws on
//   - Tray icons generated per tunnel status
//   - Desktop notifications over the session D-Bus
//   - The launcher for the manage tunnels window
//   - Application wiring: manager, menu loop, monitors
//
// # Architecture
//
// The menu package owns row ordering and the status readout; this package
// only paints. Key components:
//
//   - Application: tray lifecycle, background refresh and health checks
//   - Tray: menu.Surface over fyne.io/systray
//   - ManageWindow: menu.Window that runs the manage command
//   - Notifier: org.freedesktop.Notifications client
//
// # Thread Safety
//
// Tray clicks arrive on systray goroutines and are posted to the menu
// loop. Everything that touches the Menu or the Tray runs there.
//
// Example:
//
//	loop.Post(func() {
//	    m.Toggle(index)
//	})
//
// # File Organization
//
//   - app.go: Application lifecycle and wiring
//   - tray.go: Systray surface and row pool
//   - icons.go: Icon generation for tray
//   - notifications.go: Desktop notification integration
//   - window.go: Manage window launcher
package ui
