package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yllada/tunnelbar/common"
	"github.com/yllada/tunnelbar/history"
	"github.com/yllada/tunnelbar/tunnel"
)

// fakeBackend keeps the set of running interfaces in memory.
type fakeBackend struct {
	mu      sync.Mutex
	running []string
	upErr   error
}

func (b *fakeBackend) Up(_ context.Context, t *tunnel.Tunnel) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.upErr != nil {
		return b.upErr
	}
	b.running = append(b.running, t.InterfaceName())
	return nil
}

func (b *fakeBackend) Down(_ context.Context, t *tunnel.Tunnel) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = slices.DeleteFunc(b.running, func(s string) bool { return s == t.InterfaceName() })
	return nil
}

func (b *fakeBackend) Running(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.running), nil
}

type memCreds struct {
	mu sync.Mutex
	m  map[string]string
}

func (c *memCreds) Store(id, secret string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[id] = secret
	return nil
}

func (c *memCreds) Get(id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[id]
	if !ok {
		return "", common.ErrCredentialsNotFound
	}
	return s, nil
}

func (c *memCreds) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
	return nil
}

type env struct {
	fs      afero.Fs
	backend *fakeBackend
	manager *tunnel.Manager
	out     *bytes.Buffer
	cli     *CLI
}

func newEnv(t *testing.T, names ...string) *env {
	t.Helper()
	e := &env{
		fs:      afero.NewMemMapFs(),
		backend: &fakeBackend{},
		out:     &bytes.Buffer{},
	}
	store := tunnel.NewStore(e.fs, "/config/tunnels.yaml", &memCreds{m: map[string]string{}})
	m, err := tunnel.NewManager(store, e.backend, tunnel.WithFs(e.fs))
	require.NoError(t, err)
	t.Cleanup(m.Close)
	e.manager = m
	e.cli = New(m, e.out, false)
	e.cli.timeout = 2 * time.Second

	for _, name := range names {
		_, err := m.Import(e.conf(t, name))
		require.NoError(t, err)
	}
	e.out.Reset()
	return e
}

func (e *env) conf(t *testing.T, name string) string {
	t.Helper()
	priv, err := tunnel.GeneratePrivateKey()
	require.NoError(t, err)
	peer, err := tunnel.GeneratePrivateKey()
	require.NoError(t, err)
	text := fmt.Sprintf("[Interface]\nPrivateKey = %s\nAddress = 10.0.0.2/32\n\n[Peer]\nPublicKey = %s\nAllowedIPs = 10.1.0.0/16, 10.2.0.0/16\n",
		priv, peer.PublicKey())
	path := filepath.Join("/import", name+".conf")
	require.NoError(t, afero.WriteFile(e.fs, path, []byte(text), 0600))
	return path
}

func TestList(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.cli.List(context.Background()))
	assert.Contains(t, e.out.String(), "No tunnels configured.")

	e = newEnv(t, "office", "home")
	require.NoError(t, e.cli.List(context.Background()))
	out := e.out.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "10.1.0.0/16, 10.2.0.0/16")
	assert.Less(t, bytes.Index(e.out.Bytes(), []byte("home")), bytes.Index(e.out.Bytes(), []byte("office")))
}

func TestList_PicksUpRunningInterfaces(t *testing.T) {
	e := newEnv(t, "office")
	e.backend.running = []string{"office"}

	require.NoError(t, e.cli.List(context.Background()))
	assert.Contains(t, e.out.String(), "Active")
}

func TestUpSwitchesTunnels(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "office", "home")

	require.NoError(t, e.cli.Up(ctx, "office"))
	assert.Contains(t, e.out.String(), "office is active")

	e.out.Reset()
	require.NoError(t, e.cli.Up(ctx, "HOME"))
	assert.Contains(t, e.out.String(), "Deactivating office...")
	assert.Contains(t, e.out.String(), "home is active")

	office, _ := e.manager.Find("office")
	assert.Equal(t, tunnel.StatusInactive, office.Status())
	assert.Equal(t, []string{"home"}, e.backend.running)

	err := e.cli.Up(ctx, "home")
	assert.ErrorContains(t, err, "already active")
}

func TestUpErrors(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "office")

	assert.ErrorIs(t, e.cli.Up(ctx, "nowhere"), common.ErrTunnelNotFound)

	e.backend.upErr = errors.New("permission denied")
	assert.ErrorIs(t, e.cli.Up(ctx, "office"), common.ErrActivationFailed)
}

func TestDown(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "office", "home")

	assert.ErrorContains(t, e.cli.Down(ctx, "office"), "not active")

	require.NoError(t, e.cli.Up(ctx, "office"))
	e.out.Reset()
	require.NoError(t, e.cli.Down(ctx, "office"))
	assert.Contains(t, e.out.String(), "Deactivated office")
	assert.Empty(t, e.backend.running)

	e.out.Reset()
	require.NoError(t, e.cli.Down(ctx, "all"))
	assert.Contains(t, e.out.String(), "No active tunnels.")
}

func TestDownAll_IncludesExternallyStarted(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "office", "home")
	e.backend.running = []string{"home"}

	require.NoError(t, e.cli.Down(ctx, ""))
	assert.Contains(t, e.out.String(), "Deactivated home")
	assert.Empty(t, e.backend.running)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "office")

	require.NoError(t, e.cli.Status(ctx))
	assert.Contains(t, e.out.String(), "No active tunnels.")

	require.NoError(t, e.cli.Up(ctx, "office"))
	e.out.Reset()
	require.NoError(t, e.cli.Status(ctx))
	out := e.out.String()
	assert.Contains(t, out, "office")
	assert.Contains(t, out, "Active")
	assert.Contains(t, out, "10.1.0.0/16, 10.2.0.0/16")
}

func TestImport(t *testing.T) {
	e := newEnv(t)
	good := e.conf(t, "lab")
	require.NoError(t, afero.WriteFile(e.fs, "/import/bad.conf", []byte("[Interface]\n"), 0600))

	err := e.cli.Import(good, "/import/bad.conf", "/import/missing.conf")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "missing.conf")
	assert.Contains(t, e.out.String(), "Imported lab")
	assert.Equal(t, 1, e.manager.Count())

	assert.Error(t, e.cli.Import())
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	log, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, e.cli.History(ctx, log, "", 10))
	assert.Contains(t, e.out.String(), "No history recorded.")

	require.NoError(t, log.Record(ctx, history.Event{TunnelID: "x", Tunnel: "office", From: "Activating", To: "Active"}))
	e.out.Reset()
	require.NoError(t, e.cli.History(ctx, log, "", 10))
	assert.Contains(t, e.out.String(), "office")
	assert.Contains(t, e.out.String(), "Activating")
}

func TestHistory_ForTunnel(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "office", "home")
	log, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer log.Close()

	office, err := e.manager.Find("office")
	require.NoError(t, err)
	home, err := e.manager.Find("home")
	require.NoError(t, err)
	require.NoError(t, log.Record(ctx, history.Event{TunnelID: office.ID(), Tunnel: "office", From: "Inactive", To: "Activating"}))
	require.NoError(t, log.Record(ctx, history.Event{TunnelID: home.ID(), Tunnel: "home", From: "Inactive", To: "Waiting"}))

	require.NoError(t, e.cli.History(ctx, log, "home", 10))
	assert.Contains(t, e.out.String(), "Waiting")
	assert.NotContains(t, e.out.String(), "office")

	assert.ErrorIs(t, e.cli.History(ctx, log, "attic", 10), common.ErrTunnelNotFound)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "office")
	e.cli.timeout = 5 * time.Second
	office, err := e.manager.Find("office")
	require.NoError(t, err)

	// Inactive: the file is applied without a restart.
	require.NoError(t, e.cli.Update(ctx, "office", e.conf(t, "office-v2")))
	assert.Contains(t, e.out.String(), "Updated office")
	assert.Equal(t, tunnel.StatusInactive, office.Status())

	require.NoError(t, e.manager.Activate(ctx, office))
	newer := e.conf(t, "office-v3")
	e.out.Reset()
	require.NoError(t, e.cli.Update(ctx, "office", newer))
	assert.Contains(t, e.out.String(), "Restarting office...")
	assert.Contains(t, e.out.String(), "Updated office and restarted it")
	assert.Equal(t, tunnel.StatusActive, office.Status())

	assert.ErrorIs(t, e.cli.Update(ctx, "attic", newer), common.ErrTunnelNotFound)
	assert.Error(t, e.cli.Update(ctx, "office", "/import/missing.conf"))
	require.NoError(t, e.manager.Deactivate(ctx, office))
}

func TestStyledOutput(t *testing.T) {
	e := newEnv(t)
	e.cli.styled = true
	e.cli.ok("done")
	assert.Contains(t, e.out.String(), "✓")
	assert.Contains(t, e.out.String(), "done")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "2h 3m 4s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
