package tunnel

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/yllada/tunnelbar/common"
)

type memCreds struct {
	mu      sync.Mutex
	secrets map[string]string
}

func newMemCreds() *memCreds {
	return &memCreds{secrets: make(map[string]string)}
}

func (c *memCreds) Store(id, secret string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.secrets[id] = secret
	return nil
}

func (c *memCreds) Get(id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.secrets[id]
	if !ok {
		return "", common.ErrCredentialsNotFound
	}
	return s, nil
}

func (c *memCreds) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.secrets, id)
	return nil
}

// fakeBackend records calls and keeps a set of running interfaces.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []string
	running []string
	upErr   error
	downErr error
	block   chan struct{}
}

func (b *fakeBackend) Up(ctx context.Context, t *Tunnel) error {
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "up "+t.Name())
	if b.upErr != nil {
		return b.upErr
	}
	b.running = append(b.running, t.InterfaceName())
	return nil
}

func (b *fakeBackend) Down(_ context.Context, t *Tunnel) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "down "+t.Name())
	if b.downErr != nil {
		return b.downErr
	}
	b.running = slices.DeleteFunc(b.running, func(s string) bool { return s == t.InterfaceName() })
	return nil
}

func (b *fakeBackend) Running(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.running), nil
}

func (b *fakeBackend) setRunning(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = names
}

func (b *fakeBackend) callLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

// recorder is a ListObserver that logs events as strings.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) TunnelAdded(i int, t *Tunnel) { r.add("added %d %s", i, t.Name()) }
func (r *recorder) TunnelRemoved(i int, t *Tunnel) { r.add("removed %d %s", i, t.Name()) }
func (r *recorder) TunnelMoved(a, b int, t *Tunnel) { r.add("moved %d %d %s", a, b, t.Name()) }
func (r *recorder) CurrentChanged(t *Tunnel) {
	if t == nil {
		r.add("current none")
		return
	}
	r.add("current %s", t.Name())
}

func (r *recorder) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey() error = %v", err)
	}
	peer, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey() error = %v", err)
	}
	cfg := &Config{
		Interface: InterfaceConfig{PrivateKey: priv},
		Peers: []PeerConfig{{
			PublicKey: peer.PublicKey(),
			Endpoint:  "vpn.example.com:51820",
		}},
	}
	cfg.Interface.Addresses, _ = parsePrefixes("10.0.0.2/32")
	cfg.Peers[0].AllowedIPs, _ = parsePrefixes("0.0.0.0/0")
	return cfg
}

type harness struct {
	fs      afero.Fs
	creds   *memCreds
	store   *Store
	backend *fakeBackend
	manager *Manager
	errs    chan error
}

func newHarness(t *testing.T, names ...string) *harness {
	t.Helper()
	h := &harness{
		fs:      afero.NewMemMapFs(),
		creds:   newMemCreds(),
		backend: &fakeBackend{},
		errs:    make(chan error, 8),
	}
	h.store = NewStore(h.fs, "/config/tunnels.yaml", h.creds)
	m, err := NewManager(h.store, h.backend, WithFs(h.fs), WithErrorHandler(func(_ *Tunnel, err error) {
		h.errs <- err
	}))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	m.delay = 0
	h.manager = m
	t.Cleanup(m.Close)

	for _, n := range names {
		if _, err := m.Add(n, testConfig(t)); err != nil {
			t.Fatalf("Add(%q) error = %v", n, err)
		}
	}
	return h
}

func (h *harness) tunnel(t *testing.T, name string) *Tunnel {
	t.Helper()
	tun, err := h.manager.Find(name)
	if err != nil {
		t.Fatalf("Find(%q) error = %v", name, err)
	}
	return tun
}
