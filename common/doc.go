// Package common provides shared constants, types, utilities, and interfaces
// used throughout tunnelbar.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: Application-wide constants like intervals, file names, and menu sizes
//   - Errors: Sentinel errors for consistent error handling across packages
//   - Interfaces: Abstractions for credential storage, notifications, and logging
//   - Logger: Leveled logging with stdout and rotated file output
//   - Utils: Config directory helpers and interface name sanitising
//
// # Usage
//
//	import "github.com/yllada/tunnelbar/common"
//
//	common.LogInfo("Activating tunnel %s", name)
//
//	if errors.Is(err, common.ErrTunnelNotFound) {
//	    // Handle missing tunnel
//	}
package common
