// Package tunnel provides WireGuard tunnel management for Tunnelbar.
//
// This package implements:
//
//   - Tunnel: a named wg-quick configuration with an observable name and status
//   - Manager: the ordered tunnel list and the activation state machine
//   - Store: YAML persistence, with private keys kept in the credential store
//   - Backend: the wg-quick driver that brings interfaces up and down
//   - HealthChecker: probes active tunnels and reasserts broken ones
//
// # Ordering
//
// The Manager keeps tunnels sorted by name, case-insensitively. Renaming a
// tunnel first notifies its name observers and then, if its position
// changed, reports a move to list observers.
//
// # Activation Flow
//
//  1. The UI calls Manager.RequestActivation for an inactive tunnel
//  2. If another tunnel is in operation the new one becomes Waiting and the
//     other one is deactivated
//  3. The tunnel goes through Activating while the Backend runs wg-quick up
//  4. It ends Active, or Inactive if the backend failed
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Observer callbacks
// may run on any goroutine; views are expected to hand them to their own
// event loop.
package tunnel
