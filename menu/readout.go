package menu

import (
	"strings"

	"github.com/yllada/tunnelbar/tunnel"
)

// Readout is the rendered state of the status and networks lines.
type Readout struct {
	// Tunnel is the current tunnel's name, or "" when there is none.
	Tunnel          string
	Status          tunnel.Status
	StatusText      string
	NetworksText    string
	NetworksVisible bool
}

// ReadoutFor renders the readout for t, which may be nil.
func ReadoutFor(t *tunnel.Tunnel) Readout {
	if t == nil {
		return Readout{
			Status:     tunnel.StatusInactive,
			StatusText: statusText(tunnel.StatusInactive),
		}
	}

	status := t.Status()
	r := Readout{
		Tunnel:     t.Name(),
		Status:     status,
		StatusText: statusText(status),
	}
	if status == tunnel.StatusInactive {
		return r
	}

	r.NetworksVisible = true
	if ips := t.AllowedIPs(); len(ips) > 0 {
		r.NetworksText = "Networks: " + strings.Join(ips, ", ")
	} else {
		r.NetworksText = "Networks: None"
	}
	return r
}

func statusText(s tunnel.Status) string {
	return "Status: " + s.String()
}
