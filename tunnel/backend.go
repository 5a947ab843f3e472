package tunnel

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/yllada/tunnelbar/common"
)

// Backend brings tunnels up and down.
type Backend interface {
	// Up activates the tunnel and returns once it is running.
	Up(ctx context.Context, t *Tunnel) error
	// Down deactivates the tunnel.
	Down(ctx context.Context, t *Tunnel) error
	// Running returns the interface names of tunnels that are currently up.
	Running(ctx context.Context) ([]string, error)
}

// CommandRunner runs a command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// WgQuick drives the wg-quick tool. Configurations are written to a private
// runtime directory named after the interface, since wg-quick derives the
// interface name from the file name.
type WgQuick struct {
	runtimeDir  string
	elevate     []string
	run         CommandRunner
	sysClassNet string
	wgRunDir    string
}

// NewWgQuick returns a backend that writes configs into runtimeDir and
// prefixes privileged commands with elevate (e.g. ["pkexec"]).
func NewWgQuick(runtimeDir string, elevate []string) *WgQuick {
	return &WgQuick{
		runtimeDir:  runtimeDir,
		elevate:     elevate,
		run:         execRunner,
		sysClassNet: "/sys/class/net",
		wgRunDir:    "/var/run/wireguard",
	}
}

// Available reports whether wg-quick is on PATH.
func Available() bool {
	_, err := exec.LookPath("wg-quick")
	return err == nil
}

func (w *WgQuick) confPath(t *Tunnel) string {
	return filepath.Join(w.runtimeDir, t.InterfaceName()+".conf")
}

func (w *WgQuick) privileged(ctx context.Context, args ...string) ([]byte, error) {
	argv := append(append([]string(nil), w.elevate...), args...)
	common.LogDebug("wg-quick: %s", strings.Join(argv, " "))
	return w.run(ctx, argv[0], argv[1:]...)
}

// Up writes the configuration and runs `wg-quick up`.
func (w *WgQuick) Up(ctx context.Context, t *Tunnel) error {
	cfg := t.Config()
	if cfg == nil {
		return fmt.Errorf("%w: tunnel %s has no configuration", common.ErrInvalidConfig, t.Name())
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(w.runtimeDir, 0700); err != nil {
		return fmt.Errorf("%w: %v", common.ErrActivationFailed, err)
	}
	path := w.confPath(t)
	if err := os.WriteFile(path, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("%w: writing %s: %v", common.ErrActivationFailed, path, err)
	}

	out, err := w.privileged(ctx, "wg-quick", "up", path)
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("%w: %s: %v: %s", common.ErrActivationFailed, t.Name(), err, strings.TrimSpace(string(out)))
	}
	common.LogInfo("Tunnel %s is up on %s", t.Name(), t.InterfaceName())
	return nil
}

// Down runs `wg-quick down` and removes the generated configuration.
func (w *WgQuick) Down(ctx context.Context, t *Tunnel) error {
	path := w.confPath(t)
	target := path
	if !common.FileExists(path) {
		// Brought up elsewhere; wg-quick also accepts the interface name.
		target = t.InterfaceName()
	}

	out, err := w.privileged(ctx, "wg-quick", "down", target)
	os.Remove(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v: %s", common.ErrDeactivationFailed, t.Name(), err, strings.TrimSpace(string(out)))
	}
	common.LogInfo("Tunnel %s is down", t.Name())
	return nil
}

// Running lists WireGuard interfaces. On macOS the tunnel names are
// recorded as <name>.name files in the wireguard run directory. On Linux
// sysfs is read so no privileges are needed: kernel interfaces carry
// DEVTYPE=wireguard in their uevent, userspace ones leave a <name>.sock in
// the run directory. `wg show interfaces` is the fallback.
func (w *WgQuick) Running(ctx context.Context) ([]string, error) {
	if runtime.GOOS == "darwin" {
		return w.runDirNames(".name")
	}

	if entries, err := os.ReadDir(w.sysClassNet); err == nil {
		names, _ := w.runDirNames(".sock")
		for _, e := range entries {
			if slices.Contains(names, e.Name()) {
				continue
			}
			if isWireGuard(filepath.Join(w.sysClassNet, e.Name(), "uevent")) {
				names = append(names, e.Name())
			}
		}
		return names, nil
	}

	out, err := w.run(ctx, "wg", "show", "interfaces")
	if err != nil {
		return nil, fmt.Errorf("wg show interfaces: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return strings.Fields(string(out)), nil
}

func (w *WgQuick) runDirNames(suffix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(w.wgRunDir, "*"+suffix))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), suffix))
	}
	return names, nil
}

func isWireGuard(uevent string) bool {
	data, err := os.ReadFile(uevent)
	if err != nil {
		return false
	}
	for line := range strings.Lines(string(data)) {
		if strings.TrimSpace(line) == "DEVTYPE=wireguard" {
			return true
		}
	}
	return false
}
