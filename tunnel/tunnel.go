package tunnel

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yllada/tunnelbar/common"
)

// Tunnel is a named wg-quick configuration plus its live status.
// It is owned by a Manager; views hold non-owning references and
// observe it through ObserveName and ObserveStatus.
type Tunnel struct {
	id      string
	created time.Time

	mu       sync.RWMutex
	name     string
	status   Status
	config   *Config
	lastUsed time.Time

	nameObs   observers[string]
	statusObs observers[Status]
}

// New creates an inactive tunnel with a fresh ID.
func New(name string, cfg *Config) *Tunnel {
	return &Tunnel{
		id:      uuid.NewString(),
		created: time.Now(),
		name:    name,
		config:  cfg,
	}
}

// ID returns the stable tunnel identifier.
func (t *Tunnel) ID() string { return t.id }

// Created returns when the tunnel was first added.
func (t *Tunnel) Created() time.Time { return t.created }

// Name returns the display name.
func (t *Tunnel) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.name
}

// InterfaceName returns the wg-quick interface name derived from the tunnel name.
func (t *Tunnel) InterfaceName() string {
	if name := common.InterfaceName(t.Name()); name != "" {
		return name
	}
	return "wg-" + t.id[:8]
}

// Status returns the current status.
func (t *Tunnel) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Config returns a copy of the configuration, or nil.
func (t *Tunnel) Config() *Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.config.Clone()
}

// AllowedIPs returns the allowed IPs across all peers.
func (t *Tunnel) AllowedIPs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.config.AllowedIPs()
}

// LastUsed returns when the tunnel was last activated.
func (t *Tunnel) LastUsed() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastUsed
}

// ObserveName calls fn with the new name after every rename.
func (t *Tunnel) ObserveName(fn func(name string)) *Subscription {
	return t.nameObs.add(fn)
}

// ObserveStatus calls fn with the new status after every status change.
func (t *Tunnel) ObserveStatus(fn func(status Status)) *Subscription {
	return t.statusObs.add(fn)
}

// SetStatus changes the status and notifies observers if it differs.
// It returns the previous status.
func (t *Tunnel) SetStatus(s Status) Status {
	t.mu.Lock()
	old := t.status
	t.status = s
	if s == StatusActive {
		t.lastUsed = time.Now()
	}
	t.mu.Unlock()

	if old != s {
		t.statusObs.notify(s)
	}
	return old
}

func (t *Tunnel) setName(name string) {
	t.mu.Lock()
	changed := t.name != name
	t.name = name
	t.mu.Unlock()

	if changed {
		t.nameObs.notify(name)
	}
}

func (t *Tunnel) setConfig(cfg *Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.config = cfg
}
