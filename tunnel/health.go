package tunnel

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/yllada/tunnelbar/common"
)

// HealthState represents the current health state of a tunnel.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

// String returns a human-readable representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// HealthConfig holds configuration for the health checker.
type HealthConfig struct {
	// CheckInterval is how often active tunnels are probed.
	CheckInterval time.Duration
	// FailureThreshold is how many consecutive failures mark a tunnel unhealthy.
	FailureThreshold int
	// AutoReconnect reasserts unhealthy tunnels.
	AutoReconnect bool
	// MaxReconnectAttempts bounds reasserts until the next healthy probe (0 = unlimited).
	MaxReconnectAttempts int
	// DialTimeout bounds each probe.
	DialTimeout time.Duration
	// TestHosts are dialed over TCP; one success is enough.
	TestHosts []string
}

// DefaultHealthConfig returns sensible defaults for health checking.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:        30 * time.Second,
		FailureThreshold:     3,
		AutoReconnect:        true,
		MaxReconnectAttempts: 5,
		DialTimeout:          5 * time.Second,
		TestHosts: []string{
			"1.1.1.1:53",
			"8.8.8.8:53",
			"208.67.222.222:53",
		},
	}
}

// TunnelHealth tracks the health of one tunnel.
type TunnelHealth struct {
	TunnelID          string
	State             HealthState
	LastCheck         time.Time
	LastSuccess       time.Time
	ConsecutiveFails  int
	ReconnectAttempts int
	Latency           time.Duration
}

type reasserter interface {
	Tunnels() []*Tunnel
	Reassert(t *Tunnel)
}

// HealthChecker probes active tunnels and reasserts those that stop passing traffic.
type HealthChecker struct {
	mu             sync.RWMutex
	config         HealthConfig
	manager        reasserter
	dial           func(ctx context.Context, network, addr string) (net.Conn, error)
	running        bool
	stop           chan struct{}
	done           chan struct{}
	health         map[string]*TunnelHealth
	onHealthChange func(t *Tunnel, oldState, newState HealthState)
	onReassert     func(t *Tunnel, attempt int)
}

// NewHealthChecker creates a health checker for the given manager.
func NewHealthChecker(manager *Manager, config HealthConfig) *HealthChecker {
	return newHealthChecker(manager, config)
}

func newHealthChecker(manager reasserter, config HealthConfig) *HealthChecker {
	return &HealthChecker{
		config:  config,
		manager: manager,
		dial:    (&net.Dialer{}).DialContext,
		health:  make(map[string]*TunnelHealth),
	}
}

// SetOnHealthChange sets a callback for health state changes.
func (hc *HealthChecker) SetOnHealthChange(fn func(t *Tunnel, oldState, newState HealthState)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onHealthChange = fn
}

// SetOnReassert sets a callback invoked before each reassert.
func (hc *HealthChecker) SetOnReassert(fn func(t *Tunnel, attempt int)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onReassert = fn
}

// Start begins the health checking loop.
func (hc *HealthChecker) Start() {
	hc.mu.Lock()
	if hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	hc.stop = make(chan struct{})
	hc.done = make(chan struct{})
	interval := hc.config.CheckInterval
	hc.mu.Unlock()

	common.LogInfo("Health checker started (interval: %v)", interval)
	go hc.runLoop(interval)
}

// Stop stops the loop and waits for an in-flight check to finish.
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	if !hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = false
	close(hc.stop)
	done := hc.done
	hc.mu.Unlock()

	<-done
	common.LogInfo("Health checker stopped")
}

// IsRunning returns whether the health checker is currently running.
func (hc *HealthChecker) IsRunning() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.running
}

// GetHealth returns a copy of the tracked health of a tunnel.
func (hc *HealthChecker) GetHealth(tunnelID string) (*TunnelHealth, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	h, ok := hc.health[tunnelID]
	if !ok {
		return nil, false
	}
	c := *h
	return &c, true
}

// UpdateConfig replaces the configuration. The interval applies after a restart.
func (hc *HealthChecker) UpdateConfig(config HealthConfig) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.config = config
}

func (hc *HealthChecker) runLoop(interval time.Duration) {
	defer close(hc.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-hc.stop
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hc.CheckAll(ctx)
		}
	}
}

// CheckAll probes every active tunnel once and forgets tunnels that are no
// longer active.
func (hc *HealthChecker) CheckAll(ctx context.Context) {
	active := make(map[string]bool)
	for _, t := range hc.manager.Tunnels() {
		if t.Status() != StatusActive {
			continue
		}
		active[t.ID()] = true
		hc.check(ctx, t)
	}

	hc.mu.Lock()
	for id := range hc.health {
		if !active[id] {
			delete(hc.health, id)
		}
	}
	hc.mu.Unlock()
}

func (hc *HealthChecker) check(ctx context.Context, t *Tunnel) {
	latency, err := hc.probe(ctx, probeTargets(t, hc.testHosts()))
	if ctx.Err() != nil {
		return
	}

	hc.mu.Lock()
	h, ok := hc.health[t.ID()]
	if !ok {
		h = &TunnelHealth{TunnelID: t.ID()}
		hc.health[t.ID()] = h
	}
	h.LastCheck = time.Now()
	oldState := h.State

	if err != nil {
		h.ConsecutiveFails++
		h.Latency = 0
		common.LogWarn("Health check failed for %s (attempt %d/%d): %v",
			t.Name(), h.ConsecutiveFails, hc.config.FailureThreshold, err)
		if h.ConsecutiveFails >= hc.config.FailureThreshold {
			h.State = HealthUnhealthy
		} else {
			h.State = HealthDegraded
		}
	} else {
		h.ConsecutiveFails = 0
		h.ReconnectAttempts = 0
		h.LastSuccess = time.Now()
		h.Latency = latency
		h.State = HealthHealthy
	}

	newState := h.State
	onChange := hc.onHealthChange
	onReassert := hc.onReassert

	reassert := false
	attempt := 0
	if newState == HealthUnhealthy && hc.config.AutoReconnect {
		if hc.config.MaxReconnectAttempts == 0 || h.ReconnectAttempts < hc.config.MaxReconnectAttempts {
			h.ReconnectAttempts++
			attempt = h.ReconnectAttempts
			reassert = true
		} else if oldState != newState {
			common.LogError("Max reassert attempts reached for %s", t.Name())
		}
	}
	hc.mu.Unlock()

	if oldState != newState {
		common.LogInfo("Health state changed for %s: %s -> %s", t.Name(), oldState, newState)
		if onChange != nil {
			onChange(t, oldState, newState)
		}
	}
	if reassert {
		common.LogInfo("Reasserting %s (attempt %d)", t.Name(), attempt)
		if onReassert != nil {
			onReassert(t, attempt)
		}
		hc.manager.Reassert(t)
	}
}

func (hc *HealthChecker) testHosts() []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.config.TestHosts
}

// probeTargets puts the tunnel's own DNS servers ahead of the test hosts;
// they are only reachable through the tunnel. DNS search domains are
// skipped.
func probeTargets(t *Tunnel, hosts []string) []string {
	var targets []string
	if cfg := t.Config(); cfg != nil {
		for _, dns := range cfg.Interface.DNS {
			addr, err := netip.ParseAddr(dns)
			if err != nil {
				continue
			}
			targets = append(targets, netip.AddrPortFrom(addr, 53).String())
		}
	}
	return append(targets, hosts...)
}

// probe dials targets in order until one answers.
func (hc *HealthChecker) probe(ctx context.Context, targets []string) (time.Duration, error) {
	hc.mu.RLock()
	timeout := hc.config.DialTimeout
	hc.mu.RUnlock()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	lastErr := errors.New("no probe targets")
	for _, host := range targets {
		dctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		conn, err := hc.dial(dctx, "tcp", host)
		cancel()
		if err == nil {
			conn.Close()
			return time.Since(start), nil
		}
		lastErr = err
	}
	return 0, lastErr
}
