// Package cli provides command-line interface functionality for tunnelbar.
// This allows users to manage tunnels from the terminal without
// launching the tray application.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/hashicorp/go-multierror"
	"github.com/yllada/tunnelbar/common"
	"github.com/yllada/tunnelbar/history"
	"github.com/yllada/tunnelbar/tunnel"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA726"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#9E9E9E"))
)

// CLI represents the command-line interface.
type CLI struct {
	manager *tunnel.Manager
	out     io.Writer
	styled  bool
	timeout time.Duration
}

// New creates a CLI writing to out. Styled output adds colors and marks
// and is meant for terminals.
func New(manager *tunnel.Manager, out io.Writer, styled bool) *CLI {
	return &CLI{
		manager: manager,
		out:     out,
		styled:  styled,
		timeout: common.BackendTimeout,
	}
}

func (c *CLI) ok(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if c.styled {
		msg = okStyle.Render("✓") + " " + msg
	}
	fmt.Fprintln(c.out, msg)
}

func (c *CLI) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if c.styled {
		msg = warnStyle.Render(msg)
	}
	fmt.Fprintln(c.out, msg)
}

func (c *CLI) dim(s string) string {
	if c.styled {
		return dimStyle.Render(s)
	}
	return s
}

// sync picks up tunnels added by other processes and interfaces brought up
// outside this one. Failures only cost accuracy, so they are logged.
func (c *CLI) sync(ctx context.Context) {
	if err := c.manager.Refresh(ctx); err != nil {
		common.LogDebug("Refresh: %v", err)
	}
}

// List lists all configured tunnels.
func (c *CLI) List(ctx context.Context) error {
	c.sync(ctx)
	tunnels := c.manager.Tunnels()

	if len(tunnels) == 0 {
		fmt.Fprintln(c.out, "No tunnels configured.")
		fmt.Fprintln(c.out, c.dim("Import one with: tunnelbar import FILE.conf"))
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tINTERFACE\tNETWORKS")
	fmt.Fprintln(w, "--\t----\t------\t---------\t--------")

	for _, t := range tunnels {
		networks := strings.Join(t.AllowedIPs(), ", ")
		if networks == "" {
			networks = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID()[:8], t.Name(), t.Status(), t.InterfaceName(), networks)
	}

	return w.Flush()
}

// Up activates a tunnel by name or ID. Another active tunnel is
// deactivated first.
func (c *CLI) Up(ctx context.Context, nameOrID string) error {
	c.sync(ctx)
	t, err := c.manager.Find(nameOrID)
	if err != nil {
		return fmt.Errorf("%w: %s", err, nameOrID)
	}
	if t.Status() == tunnel.StatusActive {
		return fmt.Errorf("%s is already active", t.Name())
	}

	if other := c.manager.InOperation(); other != nil && other != t {
		fmt.Fprintf(c.out, "Deactivating %s...\n", other.Name())
	}
	fmt.Fprintf(c.out, "Activating %s...\n", t.Name())

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.manager.Activate(ctx, t); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("activation of %s timed out", t.Name())
		}
		return err
	}

	c.ok("%s is active", t.Name())
	return nil
}

// Down deactivates a tunnel by name or ID. An empty name or "all"
// deactivates every tunnel that is not inactive.
func (c *CLI) Down(ctx context.Context, nameOrID string) error {
	c.sync(ctx)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if nameOrID == "" || nameOrID == "all" {
		var targets []*tunnel.Tunnel
		for _, t := range c.manager.Tunnels() {
			if t.Status() != tunnel.StatusInactive {
				targets = append(targets, t)
			}
		}
		if len(targets) == 0 {
			fmt.Fprintln(c.out, "No active tunnels.")
			return nil
		}

		var result *multierror.Error
		for _, t := range targets {
			fmt.Fprintf(c.out, "Deactivating %s...\n", t.Name())
			if err := c.manager.Deactivate(ctx, t); err != nil {
				c.warn("  Warning: %v", err)
				result = multierror.Append(result, err)
				continue
			}
			c.ok("Deactivated %s", t.Name())
		}
		return result.ErrorOrNil()
	}

	t, err := c.manager.Find(nameOrID)
	if err != nil {
		return fmt.Errorf("%w: %s", err, nameOrID)
	}
	if t.Status() == tunnel.StatusInactive {
		return fmt.Errorf("%s is not active", t.Name())
	}

	fmt.Fprintf(c.out, "Deactivating %s...\n", t.Name())
	if err := c.manager.Deactivate(ctx, t); err != nil {
		return fmt.Errorf("failed to deactivate: %w", err)
	}

	c.ok("Deactivated %s", t.Name())
	return nil
}

// Status shows the tunnel in operation.
func (c *CLI) Status(ctx context.Context) error {
	c.sync(ctx)
	t := c.manager.InOperation()
	if t == nil {
		fmt.Fprintln(c.out, "No active tunnels.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TUNNEL\tSTATUS\tINTERFACE\tSINCE\tNETWORKS")
	fmt.Fprintln(w, "------\t------\t---------\t-----\t--------")

	since := "-"
	if t.Status() == tunnel.StatusActive && !t.LastUsed().IsZero() {
		since = formatDuration(time.Since(t.LastUsed()))
	}
	networks := strings.Join(t.AllowedIPs(), ", ")
	if networks == "" {
		networks = "None"
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
		t.Name(), t.Status(), t.InterfaceName(), since, networks)

	return w.Flush()
}

// Import adds a tunnel for each wg-quick file. All files are tried; the
// failures are returned together.
func (c *CLI) Import(paths ...string) error {
	if len(paths) == 0 {
		return errors.New("no files given")
	}

	var result *multierror.Error
	for _, p := range paths {
		t, err := c.manager.Import(p)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		c.ok("Imported %s", t.Name())
	}
	return result.ErrorOrNil()
}

// Update replaces the configuration of a tunnel with a wg-quick file. An
// active tunnel is restarted and Update waits until it is back up.
func (c *CLI) Update(ctx context.Context, nameOrID, path string) error {
	c.sync(ctx)
	t, err := c.manager.Find(nameOrID)
	if err != nil {
		return fmt.Errorf("%w: %s", err, nameOrID)
	}

	settled := make(chan tunnel.Status, 4)
	sub := c.manager.ObserveStatus(func(ch tunnel.StatusChange) {
		if ch.Tunnel != t || (ch.To != tunnel.StatusActive && ch.To != tunnel.StatusInactive) {
			return
		}
		select {
		case settled <- ch.To:
		default:
		}
	})
	defer sub.Cancel()

	restart := t.Status() == tunnel.StatusActive
	if err := c.manager.Update(t, path); err != nil {
		return err
	}
	if !restart {
		c.ok("Updated %s", t.Name())
		return nil
	}

	fmt.Fprintf(c.out, "Restarting %s...\n", t.Name())
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	select {
	case <-ctx.Done():
		return fmt.Errorf("restart of %s timed out", t.Name())
	case s := <-settled:
		if s != tunnel.StatusActive {
			return fmt.Errorf("%w: %s did not come back up", common.ErrActivationFailed, t.Name())
		}
	}

	c.ok("Updated %s and restarted it", t.Name())
	return nil
}

// History prints the most recent status transitions, of every tunnel or of
// the one named by nameOrID.
func (c *CLI) History(ctx context.Context, log *history.Log, nameOrID string, limit int) error {
	var events []history.Event
	var err error
	if nameOrID == "" {
		events, err = log.Recent(ctx, limit)
	} else {
		c.sync(ctx)
		t, ferr := c.manager.Find(nameOrID)
		if ferr != nil {
			return fmt.Errorf("%w: %s", ferr, nameOrID)
		}
		events, err = log.ForTunnel(ctx, t.ID(), limit)
	}
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(c.out, "No history recorded.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTUNNEL\tFROM\tTO")
	fmt.Fprintln(w, "----\t------\t----\t--")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.At.Local().Format(time.DateTime), e.Tunnel, e.From, e.To)
	}
	return w.Flush()
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
