package ui

import (
	"context"
	"errors"
	"sync"
	"time"

	"fyne.io/systray"
	"github.com/yllada/tunnelbar/common"
	"github.com/yllada/tunnelbar/config"
	"github.com/yllada/tunnelbar/history"
	"github.com/yllada/tunnelbar/menu"
	"github.com/yllada/tunnelbar/tunnel"
)

// Application is the tray application: the tunnel manager, the menu and
// its loop, the systray surface, and the background monitors.
type Application struct {
	config   *config.Config
	version  string
	manager  *tunnel.Manager
	notifier *Notifier
	health   *tunnel.HealthChecker
	history  *history.Log

	loop   *menu.Loop
	menu   *menu.Menu
	tray   *Tray
	window *ManageWindow

	subs   []*tunnel.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApplication creates the application and loads the tunnels.
func NewApplication(cfg *config.Config, version string) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Application{
		config:   cfg,
		version:  version,
		notifier: NewNotifier(cfg.ShowNotifications),
		loop:     menu.NewLoop(),
		ctx:      ctx,
		cancel:   cancel,
	}

	manager, err := tunnel.Open(cfg.ElevateCommand, tunnel.WithErrorHandler(a.onError))
	if err != nil {
		cancel()
		return nil, err
	}
	a.manager = manager
	a.window = NewManageWindow(cfg.ManageCommand, a.loop.Post)
	return a, nil
}

// Run shows the tray and blocks until Quit. It must be called from the
// main goroutine.
func (a *Application) Run() {
	systray.Run(a.onReady, a.onExit)
}

// Quit closes the tray, which makes Run return.
func (a *Application) Quit() {
	systray.Quit()
}

// Shutdown stops the application from outside the tray, e.g. on a signal.
func (a *Application) Shutdown() {
	a.cancel()
	systray.Quit()
}

// ManageTunnelsWindow implements menu.WindowDelegate.
func (a *Application) ManageTunnelsWindow() menu.Window {
	return a.window
}

func (a *Application) onReady() {
	common.LogInfo("Starting %s %s", common.AppName, a.version)
	systray.SetTitle(common.AppName)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.loop.Run(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
			common.LogError("Menu loop stopped: %v", err)
		}
	}()

	a.tray = NewTray(a.config.MaxMenuTunnels, a.loop.Post, Actions{
		Toggle: func(i int) { a.withMenu(func(m *menu.Menu) { m.Toggle(i) }) },
		Manage: func() { a.withMenu((*menu.Menu).ManageTunnels) },
		Import: func() { a.withMenu((*menu.Menu).ImportTunnels) },
		Quit:   func() { a.withMenu((*menu.Menu).Quit) },
	})

	a.loop.Post(func() {
		a.menu = menu.New(a.manager, a.tray,
			menu.WithLoop(a.loop),
			menu.WithWindowDelegate(a),
			menu.WithQuit(a.Quit))
		a.menu.Attach(a.manager)
	})

	a.subs = append(a.subs, a.manager.ObserveStatus(a.onStatusChange))
	a.setupHistory()
	a.setupHealthChecker()

	a.wg.Add(1)
	go a.monitor()
}

// withMenu runs fn if the menu has been created. Loop goroutine only.
func (a *Application) withMenu(fn func(*menu.Menu)) {
	if a.menu != nil {
		fn(a.menu)
	}
}

func (a *Application) onExit() {
	common.LogInfo("Shutting down")

	if a.tray != nil {
		a.tray.Close()
	}
	if a.health != nil {
		a.health.Stop()
	}

	ctx, cancel := context.WithTimeout(a.ctx, time.Second)
	if err := a.loop.Do(ctx, func() { a.withMenu((*menu.Menu).Close) }); err != nil {
		common.LogDebug("Menu close skipped: %v", err)
	}
	cancel()

	for _, sub := range a.subs {
		sub.Cancel()
	}
	a.cancel()
	a.wg.Wait()

	// Tunnels stay up after exit; the next start picks them up again.
	a.manager.Close()
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			common.LogWarn("Closing history: %v", err)
		}
	}
	_ = a.notifier.Close()
}

// monitor reconciles with wg-quick and the tunnels file on every tick.
func (a *Application) monitor() {
	defer a.wg.Done()

	a.refresh()
	a.pruneHistory()
	ticker := time.NewTicker(a.config.MonitorInterval)
	defer ticker.Stop()
	daily := time.NewTicker(24 * time.Hour)
	defer daily.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.refresh()
			common.GetLogger().CheckRotation()
		case <-daily.C:
			a.pruneHistory()
		}
	}
}

func (a *Application) pruneHistory() {
	if a.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(a.ctx, 30*time.Second)
	defer cancel()
	if err := a.history.Retain(ctx, a.config.HistoryRetention); err != nil {
		common.LogWarn("Pruning history failed: %v", err)
	}
}

func (a *Application) refresh() {
	ctx, cancel := context.WithTimeout(a.ctx, common.BackendTimeout)
	defer cancel()
	if err := a.manager.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		common.LogWarn("Refresh failed: %v", err)
	}
}

func (a *Application) onStatusChange(c tunnel.StatusChange) {
	switch {
	case c.To == tunnel.StatusActive && c.From == tunnel.StatusActivating:
		a.notifier.NotifyActivated(c.Tunnel.Name())
	case c.To == tunnel.StatusInactive && c.From == tunnel.StatusDeactivating:
		a.notifier.NotifyDeactivated(c.Tunnel.Name())
	}
}

func (a *Application) onError(t *tunnel.Tunnel, err error) {
	name := ""
	if t != nil {
		name = t.Name()
	}
	common.LogError("Tunnel %q: %v", name, err)
	a.notifier.NotifyError(name, err)
}

func (a *Application) setupHistory() {
	if !a.config.RecordHistory {
		return
	}
	path, err := history.DefaultPath()
	if err != nil {
		common.LogWarn("History disabled: %v", err)
		return
	}
	hl, err := history.Open(path)
	if err != nil {
		common.LogWarn("History disabled: %v", err)
		return
	}
	a.history = hl
	a.subs = append(a.subs, history.Track(a.manager, hl))
}

// setupHealthChecker starts health checks when auto-reconnect is enabled.
func (a *Application) setupHealthChecker() {
	if !a.config.AutoReconnect {
		return
	}

	cfg := tunnel.DefaultHealthConfig()
	cfg.AutoReconnect = a.config.AutoReconnect
	hc := tunnel.NewHealthChecker(a.manager, cfg)

	hc.SetOnHealthChange(func(t *tunnel.Tunnel, oldState, newState tunnel.HealthState) {
		common.LogDebug("Tunnel %q health %s -> %s", t.Name(), oldState, newState)
		if newState == tunnel.HealthHealthy && oldState == tunnel.HealthUnhealthy {
			a.notifier.NotifyActivated(t.Name() + " (reconnected)")
		}
	})
	hc.SetOnReassert(func(t *tunnel.Tunnel, attempt int) {
		a.notifier.NotifyReasserting(t.Name(), attempt)
	})

	a.health = hc
	hc.Start()
}
