package menu

import "github.com/yllada/tunnelbar/tunnel"

// RowView renders one tunnel row.
type RowView interface {
	Update(title string, checked bool)
}

// Surface is the toolkit side of the menu. Row indices passed to it are
// always within range.
type Surface interface {
	// InsertRow creates a row view at index, shifting later rows down.
	InsertRow(index int) RowView
	// RemoveRow destroys the row view at index.
	RemoveRow(index int)
	// SetSeparator shows or hides the separator bounding the tunnel rows.
	SetSeparator(visible bool)
	// SetReadout renders the status and networks lines.
	SetReadout(r Readout)
}

// Manager is the part of the tunnel manager the menu calls into.
type Manager interface {
	RequestActivation(t *tunnel.Tunnel)
	RequestDeactivation(t *tunnel.Tunnel)
}

// Source delivers list notifications. *tunnel.Manager implements it.
type Source interface {
	ObserveList(o tunnel.ListObserver) (*tunnel.Subscription, []*tunnel.Tunnel)
	InOperation() *tunnel.Tunnel
}

// Window is a window that can be brought to the front.
type Window interface {
	Present()
}

// Importer is implemented by windows that can run the file import flow.
type Importer interface {
	ImportTunnels()
}

// WindowDelegate hands out the manage tunnels window.
type WindowDelegate interface {
	ManageTunnelsWindow() Window
}
