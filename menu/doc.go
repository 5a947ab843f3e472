// Package menu implements the toolkit-independent part of the tray menu:
// one row per tunnel, kept in the manager's order, and a readout of the
// tunnel currently in operation.
//
// A Menu draws through a Surface and runs on a single goroutine, normally
// the one running a Loop. Tunnel and manager notifications arrive on other
// goroutines and are posted to the loop, so a Menu needs no locking.
package menu
