package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/yllada/tunnelbar/tunnel"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#388E3C")).
			Padding(0, 1)

	nameStyle     = lipgloss.NewStyle().Width(24)
	statusStyle   = lipgloss.NewStyle().Width(14)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4CAF50"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9E9E9E"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E53935"))
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA726"))
)

func statusColor(s tunnel.Status) lipgloss.Style {
	switch s {
	case tunnel.StatusActive:
		return statusStyle.Foreground(lipgloss.Color("#4CAF50"))
	case tunnel.StatusInactive:
		return statusStyle.Foreground(lipgloss.Color("#9E9E9E"))
	default:
		return statusStyle.Foreground(lipgloss.Color("#FFA726"))
	}
}
