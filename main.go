// Package main provides the entry point for tunnelbar.
// tunnelbar is a system tray menu for WireGuard tunnels managed with
// wg-quick: one checkable row per tunnel, and a readout of the tunnel in
// operation.
//
// Features:
//   - Tray menu with one row per tunnel, sorted by name
//   - Only one tunnel active at a time; switching is automatic
//   - Private keys stored in the system keyring
//   - Health checks that reconnect stalled tunnels
//   - Terminal manage window and scripting commands
//
// Usage:
//
//	tunnelbar [--verbose] [command]
//
// Environment:
//
//	The application requires wg-quick (wireguard-tools) on the system.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	tbcli "github.com/yllada/tunnelbar/cli"
	"github.com/yllada/tunnelbar/common"
	"github.com/yllada/tunnelbar/config"
	"github.com/yllada/tunnelbar/history"
	"github.com/yllada/tunnelbar/tui"
	"github.com/yllada/tunnelbar/tunnel"
	"github.com/yllada/tunnelbar/ui"
	"golang.org/x/term"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

// settings is loaded by the root command's Before hook.
var settings *config.Config

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals (SIGINT, SIGTERM)
	setupSignalHandler(cancel)

	if err := rootCmd().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		common.CloseLogger()
		os.Exit(1)
	}
	common.CloseLogger()
}

func rootCmd() *cli.Command {
	return &cli.Command{
		Name:    "tunnelbar",
		Usage:   "WireGuard tunnels from the system tray",
		Version: fmt.Sprintf("%s (build %s, commit %s)", appVersion, buildTime, commitSHA),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Before: setup,
		Action: runTray,
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "list all tunnels",
				Action: withCLI(func(ctx context.Context, c *tbcli.CLI, _ *cli.Command) error { return c.List(ctx) }),
			},
			{
				Name:      "up",
				Usage:     "activate a tunnel",
				ArgsUsage: "NAME",
				Action: withCLI(func(ctx context.Context, c *tbcli.CLI, cmd *cli.Command) error {
					if cmd.Args().Len() != 1 {
						return errors.New("usage: tunnelbar up NAME")
					}
					return c.Up(ctx, cmd.Args().First())
				}),
			},
			{
				Name:      "down",
				Usage:     "deactivate a tunnel, or all of them",
				ArgsUsage: "[NAME|all]",
				Action: withCLI(func(ctx context.Context, c *tbcli.CLI, cmd *cli.Command) error {
					return c.Down(ctx, cmd.Args().First())
				}),
			},
			{
				Name:   "status",
				Usage:  "show the tunnel in operation",
				Action: withCLI(func(ctx context.Context, c *tbcli.CLI, _ *cli.Command) error { return c.Status(ctx) }),
			},
			{
				Name:      "import",
				Usage:     "import wg-quick configuration files",
				ArgsUsage: "FILE...",
				Action: withCLI(func(_ context.Context, c *tbcli.CLI, cmd *cli.Command) error {
					return c.Import(cmd.Args().Slice()...)
				}),
			},
			{
				Name:      "update",
				Usage:     "replace a tunnel's configuration with a wg-quick file",
				ArgsUsage: "NAME FILE",
				Action: withCLI(func(ctx context.Context, c *tbcli.CLI, cmd *cli.Command) error {
					if cmd.Args().Len() != 2 {
						return errors.New("usage: tunnelbar update NAME FILE")
					}
					return c.Update(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
				}),
			},
			{
				Name:  "manage",
				Usage: "open the manage tunnels window in this terminal",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "import", Usage: "start with the import prompt"},
				},
				Action: runManage,
			},
			{
				Name:      "history",
				Usage:     "show recent tunnel status changes",
				ArgsUsage: "[NAME]",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "number of entries"},
				},
				Action: withCLI(func(ctx context.Context, c *tbcli.CLI, cmd *cli.Command) error {
					path, err := history.DefaultPath()
					if err != nil {
						return err
					}
					log, err := history.Open(path)
					if err != nil {
						return err
					}
					defer log.Close()
					return c.History(ctx, log, cmd.Args().First(), int(cmd.Int("limit")))
				}),
			},
		},
	}
}

// setup loads the configuration and initializes logging. The tray logs to
// the console and the log file; commands keep the console for their
// output unless --verbose is given.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using defaults\n", err)
		cfg = config.DefaultConfig()
	}
	settings = cfg

	level := common.ParseLevel(cfg.LogLevel)
	if cmd.Bool("verbose") {
		level = common.LevelDebug
	}

	sub := cmd.Args().First()
	logCfg := common.LogConfig{
		Level:      level,
		EnableFile: true,
		NoConsole:  sub == "manage",
	}
	if sub != "" && sub != "manage" && !cmd.Bool("verbose") {
		logCfg.Level = max(level, common.LevelWarn)
	}

	if err := common.InitLogger(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	return ctx, nil
}

func openManager() (*tunnel.Manager, error) {
	if !tunnel.Available() {
		common.LogWarn("wg-quick was not found in PATH")
	}
	return tunnel.Open(settings.ElevateCommand)
}

func withCLI(fn func(ctx context.Context, c *tbcli.CLI, cmd *cli.Command) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		mgr, err := openManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		styled := term.IsTerminal(int(os.Stdout.Fd()))
		return fn(ctx, tbcli.New(mgr, os.Stdout, styled), cmd)
	}
}

func runManage(_ context.Context, cmd *cli.Command) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("manage needs an interactive terminal")
	}
	mgr, err := openManager()
	if err != nil {
		return err
	}
	defer mgr.Close()
	return tui.Run(mgr, cmd.Bool("import"))
}

func runTray(ctx context.Context, _ *cli.Command) error {
	if !tunnel.Available() {
		common.LogError("wg-quick is not installed on the system")
		return common.ErrBackendUnavailable
	}

	app, err := ui.NewApplication(settings, appVersion)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		app.Shutdown()
	}()

	app.Run()
	return nil
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// When a signal is received, it cancels the context to allow cleanup.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}
