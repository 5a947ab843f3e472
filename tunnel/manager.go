package tunnel

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/yllada/tunnelbar/common"
)

// ListObserver receives changes to the manager's ordered tunnel list.
// Callbacks run while the manager holds its lock: they must not block
// and must not call back into the Manager.
type ListObserver interface {
	TunnelAdded(index int, t *Tunnel)
	TunnelRemoved(index int, t *Tunnel)
	TunnelMoved(from, to int, t *Tunnel)
	// CurrentChanged reports the tunnel in operation, or nil.
	CurrentChanged(t *Tunnel)
}

// StatusChange is delivered to ObserveStatus callbacks.
type StatusChange struct {
	Tunnel *Tunnel
	From   Status
	To     Status
}

// Manager owns the tunnel list, kept sorted by name, and drives activation
// through a Backend. Only one tunnel is in operation at a time: activating a
// second tunnel parks it in StatusWaiting until the first is inactive.
type Manager struct {
	store   *Store
	backend Backend
	fs      afero.Fs
	onError func(t *Tunnel, err error)
	delay   time.Duration

	mu        sync.Mutex
	tunnels   []*Tunnel
	waiting   *Tunnel
	current   *Tunnel
	gen       map[string]uint64
	tails     map[string]chan struct{}
	listeners map[int]ListObserver
	nextID    int

	statusObs observers[StatusChange]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithFs sets the filesystem used by Import.
func WithFs(fs afero.Fs) Option {
	return func(m *Manager) { m.fs = fs }
}

// WithErrorHandler sets a callback for failed backend operations.
func WithErrorHandler(fn func(t *Tunnel, err error)) Option {
	return func(m *Manager) { m.onError = fn }
}

// NewManager loads the persisted tunnels.
func NewManager(store *Store, backend Backend, opts ...Option) (*Manager, error) {
	tunnels, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load tunnels: %w", err)
	}
	slices.SortStableFunc(tunnels, compareTunnels)

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:     store,
		backend:   backend,
		fs:        afero.NewOsFs(),
		delay:     common.ReassertDelay,
		tunnels:   tunnels,
		gen:       make(map[string]uint64),
		tails:     make(map[string]chan struct{}),
		listeners: make(map[int]ListObserver),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Close waits for in-flight backend operations after cancelling them.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func compareTunnels(a, b *Tunnel) int {
	if c := strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name())); c != 0 {
		return c
	}
	if c := strings.Compare(a.Name(), b.Name()); c != 0 {
		return c
	}
	return strings.Compare(a.ID(), b.ID())
}

// Count returns the number of tunnels.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tunnels)
}

// TunnelAt returns the tunnel at index. It panics when index is out of range.
func (m *Manager) TunnelAt(index int) *Tunnel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tunnels[index]
}

// Tunnels returns a snapshot of the ordered list.
func (m *Manager) Tunnels() []*Tunnel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.tunnels)
}

// Index returns the position of t, or -1.
func (m *Manager) Index(t *Tunnel) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Index(m.tunnels, t)
}

// Get returns the tunnel with the given ID.
func (m *Manager) Get(id string) (*Tunnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tunnels {
		if t.ID() == id {
			return t, nil
		}
	}
	return nil, common.ErrTunnelNotFound
}

// Find returns the tunnel whose name matches case-insensitively,
// or whose ID starts with nameOrID.
func (m *Manager) Find(nameOrID string) (*Tunnel, error) {
	key := strings.ToLower(strings.TrimSpace(nameOrID))
	if key == "" {
		return nil, common.ErrTunnelNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tunnels {
		if strings.ToLower(t.Name()) == key || strings.HasPrefix(t.ID(), key) {
			return t, nil
		}
	}
	return nil, common.ErrTunnelNotFound
}

// InOperation returns the first tunnel that is not inactive, or nil.
func (m *Manager) InOperation() *Tunnel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inOperationLocked()
}

func (m *Manager) inOperationLocked() *Tunnel {
	for _, t := range m.tunnels {
		if t.Status() != StatusInactive {
			return t
		}
	}
	return nil
}

// ObserveList registers o and returns the list as it was at registration,
// so that the observer can build its initial state without missing events.
func (m *Manager) ObserveList(o ListObserver) (*Subscription, []*Tunnel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = o
	sub := &Subscription{cancel: func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}}
	return sub, slices.Clone(m.tunnels)
}

// ObserveStatus calls fn for every status change the manager makes.
func (m *Manager) ObserveStatus(fn func(StatusChange)) *Subscription {
	return m.statusObs.add(fn)
}

func (m *Manager) emitLocked(fn func(o ListObserver)) {
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fn(m.listeners[id])
	}
}

func (m *Manager) insertLocked(t *Tunnel) int {
	idx, _ := slices.BinarySearchFunc(m.tunnels, t, compareTunnels)
	m.tunnels = slices.Insert(m.tunnels, idx, t)
	return idx
}

// conflictLocked reports a tunnel other than except that already uses name,
// or the wg-quick interface name derived from it. Interface names are
// compared case-insensitively since they also name the runtime config file.
func (m *Manager) conflictLocked(name string, except *Tunnel) error {
	ifname := common.InterfaceName(name)
	for _, t := range m.tunnels {
		if t == except {
			continue
		}
		if strings.EqualFold(t.Name(), name) {
			return fmt.Errorf("%w: %s", common.ErrDuplicateName, name)
		}
		if ifname != "" && strings.EqualFold(t.InterfaceName(), ifname) {
			return fmt.Errorf("%w: %s would use interface %s of %s",
				common.ErrDuplicateName, name, ifname, t.Name())
		}
	}
	return nil
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "/\\\n") {
		return "", fmt.Errorf("%w: %q", common.ErrInvalidName, name)
	}
	return name, nil
}

// Add creates, persists and inserts a new tunnel.
func (m *Manager) Add(name string, cfg *Config) (*Tunnel, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.conflictLocked(name, nil); err != nil {
		return nil, err
	}

	t := New(name, cfg.Clone())
	if err := m.store.PutKey(t); err != nil {
		return nil, fmt.Errorf("failed to store private key: %w", err)
	}

	idx := m.insertLocked(t)
	if err := m.store.Save(m.tunnels); err != nil {
		m.tunnels = slices.Delete(m.tunnels, idx, idx+1)
		_ = m.store.Forget(t)
		return nil, err
	}

	common.LogInfo("Added tunnel %s", name)
	m.emitLocked(func(o ListObserver) { o.TunnelAdded(idx, t) })
	return t, nil
}

func (m *Manager) readConfig(path string) (*Config, error) {
	f, err := m.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := ParseConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// Import reads a wg-quick file and adds it as a tunnel named after the file.
func (m *Manager) Import(path string) (*Tunnel, error) {
	cfg, err := m.readConfig(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return m.Add(name, cfg)
}

// Update replaces the configuration of t with the wg-quick file at path,
// keeping its name. An active tunnel is restarted.
func (m *Manager) Update(t *Tunnel, path string) error {
	cfg, err := m.readConfig(path)
	if err != nil {
		return err
	}
	return m.Modify(t, cfg)
}

// Remove deletes an inactive tunnel.
func (m *Manager) Remove(t *Tunnel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := slices.Index(m.tunnels, t)
	if idx < 0 {
		return common.ErrTunnelNotFound
	}
	if t.Status() != StatusInactive {
		return fmt.Errorf("%w: %s is %s", common.ErrTunnelActive, t.Name(), t.Status())
	}

	m.tunnels = slices.Delete(m.tunnels, idx, idx+1)
	if err := m.store.Save(m.tunnels); err != nil {
		m.tunnels = slices.Insert(m.tunnels, idx, t)
		return err
	}
	if err := m.store.Forget(t); err != nil {
		common.LogWarn("Could not delete private key of %s: %v", t.Name(), err)
	}

	common.LogInfo("Removed tunnel %s", t.Name())
	m.emitLocked(func(o ListObserver) { o.TunnelRemoved(idx, t) })
	return nil
}

// Rename changes the name of an inactive tunnel and repositions it.
func (m *Manager) Rename(t *Tunnel, name string) error {
	name, err := validName(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := slices.Index(m.tunnels, t)
	if idx < 0 {
		return common.ErrTunnelNotFound
	}
	if t.Status() != StatusInactive {
		return fmt.Errorf("%w: %s is %s", common.ErrTunnelActive, t.Name(), t.Status())
	}
	if err := m.conflictLocked(name, t); err != nil {
		return err
	}

	old := t.Name()
	m.renameLocked(t, idx, name)
	if err := m.store.Save(m.tunnels); err != nil {
		m.renameLocked(t, slices.Index(m.tunnels, t), old)
		return err
	}
	return nil
}

// renameLocked notifies name observers, then re-sorts and emits a move.
func (m *Manager) renameLocked(t *Tunnel, idx int, name string) {
	t.setName(name)
	m.tunnels = slices.Delete(m.tunnels, idx, idx+1)
	newIdx := m.insertLocked(t)
	if newIdx != idx {
		m.emitLocked(func(o ListObserver) { o.TunnelMoved(idx, newIdx, t) })
	}
}

// Modify replaces the configuration. An active tunnel is restarted.
func (m *Manager) Modify(t *Tunnel, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if slices.Index(m.tunnels, t) < 0 {
		m.mu.Unlock()
		return common.ErrTunnelNotFound
	}
	t.setConfig(cfg.Clone())
	err := m.store.PutKey(t)
	if err == nil {
		err = m.store.Save(m.tunnels)
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if t.Status() == StatusActive {
		m.transition(t, StatusRestarting, m.bounce(t))
	}
	return nil
}

// RequestActivation starts bringing t up. If another tunnel is in operation,
// t waits while that tunnel is deactivated.
func (m *Manager) RequestActivation(t *Tunnel) {
	m.mu.Lock()
	if slices.Index(m.tunnels, t) < 0 || t.Status() != StatusInactive {
		m.mu.Unlock()
		return
	}

	var other *Tunnel
	for _, o := range m.tunnels {
		if o != t && o.Status() != StatusInactive && o.Status() != StatusWaiting {
			other = o
			break
		}
	}
	prevWaiting := m.waiting
	m.waiting = nil
	if other != nil {
		m.waiting = t
	}
	m.mu.Unlock()

	if prevWaiting != nil {
		m.setStatus(prevWaiting, StatusInactive)
	}

	if other == nil {
		m.startActivation(t)
		return
	}

	common.LogInfo("Tunnel %s waits for %s to deactivate", t.Name(), other.Name())
	m.setStatus(t, StatusWaiting)
	m.RequestDeactivation(other)
}

func (m *Manager) startActivation(t *Tunnel) {
	m.transition(t, StatusActivating, func(ctx context.Context) (Status, error) {
		if err := m.backend.Up(ctx, t); err != nil {
			return StatusInactive, err
		}
		return StatusActive, nil
	})
}

// RequestDeactivation takes t down, or cancels its wait.
func (m *Manager) RequestDeactivation(t *Tunnel) {
	m.mu.Lock()
	if m.waiting == t {
		m.waiting = nil
		m.mu.Unlock()
		m.setStatus(t, StatusInactive)
		return
	}
	m.mu.Unlock()

	switch t.Status() {
	case StatusInactive, StatusDeactivating:
		return
	}

	m.transition(t, StatusDeactivating, func(ctx context.Context) (Status, error) {
		if err := m.backend.Down(ctx, t); err != nil {
			return m.probe(ctx, t), err
		}
		return StatusInactive, nil
	})
}

// Activate requests activation and blocks until t is active or has failed.
func (m *Manager) Activate(ctx context.Context, t *Tunnel) error {
	return m.await(ctx, t, StatusActive, func() { m.RequestActivation(t) })
}

// Deactivate requests deactivation and blocks until t is inactive.
func (m *Manager) Deactivate(ctx context.Context, t *Tunnel) error {
	return m.await(ctx, t, StatusInactive, func() { m.RequestDeactivation(t) })
}

func (m *Manager) await(ctx context.Context, t *Tunnel, want Status, start func()) error {
	if m.Index(t) < 0 {
		return common.ErrTunnelNotFound
	}
	if t.Status() == want {
		return nil
	}

	changes := make(chan Status, 16)
	sub := m.ObserveStatus(func(c StatusChange) {
		if c.Tunnel != t {
			return
		}
		select {
		case changes <- c.To:
		default:
		}
	})
	defer sub.Cancel()

	start()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-changes:
			switch {
			case s == want:
				return nil
			case s == StatusActive || s == StatusInactive:
				if want == StatusActive {
					return fmt.Errorf("%w: %s", common.ErrActivationFailed, t.Name())
				}
				return fmt.Errorf("%w: %s", common.ErrDeactivationFailed, t.Name())
			}
		}
	}
}

// Reassert reconnects an active tunnel in place.
func (m *Manager) Reassert(t *Tunnel) {
	if t.Status() != StatusActive {
		return
	}
	m.transition(t, StatusReasserting, m.bounce(t))
}

func (m *Manager) bounce(t *Tunnel) func(ctx context.Context) (Status, error) {
	return func(ctx context.Context) (Status, error) {
		if err := m.backend.Down(ctx, t); err != nil {
			common.LogWarn("Down before restart of %s failed: %v", t.Name(), err)
		}
		select {
		case <-ctx.Done():
			return StatusInactive, ctx.Err()
		case <-time.After(m.delay):
		}
		if err := m.backend.Up(ctx, t); err != nil {
			return StatusInactive, err
		}
		return StatusActive, nil
	}
}

// probe asks the backend whether t's interface is up.
func (m *Manager) probe(ctx context.Context, t *Tunnel) Status {
	running, err := m.backend.Running(ctx)
	if err == nil && slices.Contains(running, t.InterfaceName()) {
		return StatusActive
	}
	return StatusInactive
}

// transition sets the interim status and runs op in the background.
// Backend calls for one tunnel run in request order; a newer transition
// supersedes the outcome of an older one.
func (m *Manager) transition(t *Tunnel, interim Status, op func(ctx context.Context) (Status, error)) {
	m.mu.Lock()
	m.gen[t.ID()]++
	gen := m.gen[t.ID()]
	prev := m.tails[t.ID()]
	done := make(chan struct{})
	m.tails[t.ID()] = done
	m.mu.Unlock()

	m.setStatus(t, interim)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			if m.tails[t.ID()] == done {
				delete(m.tails, t.ID())
			}
			m.mu.Unlock()
			close(done)
		}()
		if prev != nil {
			<-prev
		}

		ctx, cancel := context.WithTimeout(m.ctx, common.BackendTimeout)
		defer cancel()
		final, err := op(ctx)

		m.mu.Lock()
		superseded := m.gen[t.ID()] != gen
		m.mu.Unlock()
		if superseded {
			return
		}

		m.setStatus(t, final)
		if err != nil {
			m.reportError(t, err)
		}
		if final == StatusActive {
			m.mu.Lock()
			if err := m.store.Save(m.tunnels); err != nil {
				common.LogWarn("Could not record last use of %s: %v", t.Name(), err)
			}
			m.mu.Unlock()
		}
		switch {
		case final == StatusInactive:
			m.activateWaiting()
		case interim == StatusDeactivating:
			m.abandonWaiting(t)
		}
	}()
}

// abandonWaiting returns the waiting tunnel to inactive after blocker failed
// to go down.
func (m *Manager) abandonWaiting(blocker *Tunnel) {
	m.mu.Lock()
	w := m.waiting
	m.waiting = nil
	m.mu.Unlock()
	if w == nil {
		return
	}
	common.LogWarn("Tunnel %s stopped waiting: %s is still %s", w.Name(), blocker.Name(), blocker.Status())
	m.setStatus(w, StatusInactive)
}

// activateWaiting starts the waiting tunnel once nothing else is in operation.
func (m *Manager) activateWaiting() {
	m.mu.Lock()
	w := m.waiting
	if w == nil {
		m.mu.Unlock()
		return
	}
	for _, o := range m.tunnels {
		if o != w && o.Status() != StatusInactive {
			m.mu.Unlock()
			return
		}
	}
	m.waiting = nil
	m.mu.Unlock()

	m.startActivation(w)
}

// setStatus updates t, recomputes the tunnel in operation and then
// notifies status observers.
func (m *Manager) setStatus(t *Tunnel, s Status) {
	old := t.SetStatus(s)
	if old == s {
		return
	}
	common.LogDebug("Tunnel %s: %s -> %s", t.Name(), old, s)

	m.mu.Lock()
	cur := m.inOperationLocked()
	if cur != m.current {
		m.current = cur
		m.emitLocked(func(o ListObserver) { o.CurrentChanged(cur) })
	}
	m.mu.Unlock()

	m.statusObs.notify(StatusChange{Tunnel: t, From: old, To: s})
}

func (m *Manager) reportError(t *Tunnel, err error) {
	common.LogError("Tunnel %s: %v", t.Name(), err)
	if m.onError != nil {
		m.onError(t, err)
	}
}

// Refresh reconciles the list with the store, which another process may have
// changed, and tunnel statuses with the backend's running interfaces.
// Tunnels that are not inactive are never removed or renamed here.
func (m *Manager) Refresh(ctx context.Context) error {
	var result *multierror.Error

	if err := m.reload(); err != nil {
		result = multierror.Append(result, err)
	}

	running, err := m.backend.Running(ctx)
	if err != nil {
		result = multierror.Append(result, err)
		return result.ErrorOrNil()
	}

	for _, t := range m.Tunnels() {
		up := slices.Contains(running, t.InterfaceName())
		switch {
		case t.Status() == StatusInactive && up:
			common.LogInfo("Tunnel %s was activated outside of tunnelbar", t.Name())
			m.setStatus(t, StatusActive)
		case t.Status() == StatusActive && !up:
			common.LogInfo("Tunnel %s went down outside of tunnelbar", t.Name())
			m.setStatus(t, StatusInactive)
			m.activateWaiting()
		}
	}
	return result.ErrorOrNil()
}

func (m *Manager) reload() error {
	loaded, err := m.store.Load()
	if err != nil {
		return err
	}
	byID := make(map[string]*Tunnel, len(loaded))
	for _, t := range loaded {
		byID[t.ID()] = t
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var result *multierror.Error
	for i := len(m.tunnels) - 1; i >= 0; i-- {
		t := m.tunnels[i]
		if _, ok := byID[t.ID()]; ok || t.Status() != StatusInactive {
			continue
		}
		m.tunnels = slices.Delete(m.tunnels, i, i+1)
		m.emitLocked(func(o ListObserver) { o.TunnelRemoved(i, t) })
	}

	known := make(map[string]*Tunnel, len(m.tunnels))
	for _, t := range m.tunnels {
		known[t.ID()] = t
	}
	for _, fresh := range loaded {
		t, ok := known[fresh.ID()]
		if !ok {
			if err := m.conflictLocked(fresh.Name(), nil); err != nil {
				result = multierror.Append(result, err)
				continue
			}
			idx := m.insertLocked(fresh)
			m.emitLocked(func(o ListObserver) { o.TunnelAdded(idx, fresh) })
			continue
		}
		if t.Status() != StatusInactive {
			continue
		}
		t.setConfig(fresh.Config())
		if t.Name() != fresh.Name() {
			if err := m.conflictLocked(fresh.Name(), t); err != nil {
				result = multierror.Append(result, err)
				continue
			}
			m.renameLocked(t, slices.Index(m.tunnels, t), fresh.Name())
		}
	}
	return result.ErrorOrNil()
}
