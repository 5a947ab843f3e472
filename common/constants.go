// Package common provides shared constants, types, and utilities
// used across tunnelbar.
package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "Tunnelbar"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "tunnelbar"
)

// File names used by the application.
const (
	TunnelsFileName     = "tunnels.yaml"
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	HistoryFileName     = "history.db"
	LogFileName         = "tunnelbar.log"
)

// Default timeouts and intervals.
const (
	// BackendTimeout bounds a single wg-quick invocation.
	BackendTimeout = 30 * time.Second
	// MonitorInterval is how often the tray reconciles tunnel state.
	MonitorInterval = 5 * time.Second
	// ReassertDelay is the pause between tearing a tunnel down and bringing it back.
	ReassertDelay = 1 * time.Second
	// DefaultHistoryRetention is how long status transitions are kept.
	DefaultHistoryRetention = 90 * 24 * time.Hour
)

// Menu constants.
const (
	// DefaultMaxMenuTunnels is how many tunnel rows the tray pre-allocates.
	DefaultMaxMenuTunnels = 24
	// TrayIconSize is the size of the system tray icon.
	TrayIconSize = 22
	// MaxInterfaceNameLen is the kernel limit for network interface names.
	MaxInterfaceNameLen = 15
)
