package tunnel

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yllada/tunnelbar/common"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func names(tunnels []*Tunnel) []string {
	out := make([]string, len(tunnels))
	for i, t := range tunnels {
		out[i] = t.Name()
	}
	return out
}

func watchStatus(tun *Tunnel) func() []Status {
	var mu sync.Mutex
	var seen []Status
	tun.ObserveStatus(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	return func() []Status {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(seen)
	}
}

func eventuallyStatus(t *testing.T, tun *Tunnel, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return tun.Status() == want }, 2*time.Second, 5*time.Millisecond,
		"%s never became %s (is %s)", tun.Name(), want, tun.Status())
}

func TestManager_AddKeepsOrder(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}
	sub, snapshot := h.manager.ObserveList(rec)
	defer sub.Cancel()
	assert.Empty(t, snapshot)

	for _, n := range []string{"beta", "Alpha", "charlie"} {
		_, err := h.manager.Add(n, testConfig(t))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"Alpha", "beta", "charlie"}, names(h.manager.Tunnels()))
	assert.Equal(t, []string{"added 0 beta", "added 0 Alpha", "added 2 charlie"}, rec.log())
	assert.Equal(t, 3, h.manager.Count())
	assert.Equal(t, "beta", h.manager.TunnelAt(1).Name())
}

func TestManager_AddRejects(t *testing.T) {
	h := newHarness(t, "home")

	_, err := h.manager.Add("HOME", testConfig(t))
	assert.ErrorIs(t, err, common.ErrDuplicateName)

	_, err = h.manager.Add("   ", testConfig(t))
	assert.ErrorIs(t, err, common.ErrInvalidName)

	_, err = h.manager.Add("lab", &Config{})
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	assert.Equal(t, 1, h.manager.Count())
}

func TestManager_PersistsAcrossInstances(t *testing.T) {
	h := newHarness(t, "zulu", "alpha", "Mike")

	m2, err := NewManager(h.store, h.backend)
	require.NoError(t, err)
	defer m2.Close()

	assert.Equal(t, []string{"alpha", "Mike", "zulu"}, names(m2.Tunnels()))
	cfg := m2.TunnelAt(0).Config()
	assert.False(t, cfg.Interface.PrivateKey.IsZero(), "private key should come back from the credential store")
}

func TestManager_Import(t *testing.T) {
	h := newHarness(t)
	conf, _, _ := sampleConf(t)
	require.NoError(t, afero.WriteFile(h.fs, "/home/me/Office VPN.conf", []byte(conf), 0600))
	require.NoError(t, afero.WriteFile(h.fs, "/home/me/broken.conf", []byte("[Interface]\n"), 0600))

	tun, err := h.manager.Import("/home/me/Office VPN.conf")
	require.NoError(t, err)
	assert.Equal(t, "Office VPN", tun.Name())
	assert.Equal(t, "Office-VPN", tun.InterfaceName())

	_, err = h.manager.Import("/home/me/broken.conf")
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	_, err = h.manager.Import("/home/me/missing.conf")
	assert.Error(t, err)
}

func TestManager_RenameMoves(t *testing.T) {
	h := newHarness(t, "alpha", "beta", "charlie")
	rec := &recorder{}
	sub, _ := h.manager.ObserveList(rec)
	defer sub.Cancel()

	alpha := h.tunnel(t, "alpha")
	alpha.ObserveName(func(n string) { rec.add("name %s", n) })

	require.NoError(t, h.manager.Rename(alpha, "delta"))
	assert.Equal(t, []string{"beta", "charlie", "delta"}, names(h.manager.Tunnels()))
	assert.Equal(t, []string{"name delta", "moved 0 2 delta"}, rec.log())

	// Same position: no move.
	require.NoError(t, h.manager.Rename(alpha, "echo"))
	assert.Equal(t, []string{"name delta", "moved 0 2 delta", "name echo"}, rec.log())

	assert.ErrorIs(t, h.manager.Rename(alpha, "Beta"), common.ErrDuplicateName)
	assert.ErrorIs(t, h.manager.Rename(alpha, ""), common.ErrInvalidName)
}

func TestManager_RemoveRequiresInactive(t *testing.T) {
	h := newHarness(t, "alpha", "beta")
	rec := &recorder{}
	sub, _ := h.manager.ObserveList(rec)
	defer sub.Cancel()

	alpha := h.tunnel(t, "alpha")
	require.NoError(t, h.manager.Activate(context.Background(), alpha))
	assert.ErrorIs(t, h.manager.Remove(alpha), common.ErrTunnelActive)
	assert.ErrorIs(t, h.manager.Rename(alpha, "zeta"), common.ErrTunnelActive)

	beta := h.tunnel(t, "beta")
	require.NoError(t, h.manager.Remove(beta))
	assert.Contains(t, rec.log(), "removed 1 beta")
	_, err := h.creds.Get(beta.ID())
	assert.ErrorIs(t, err, common.ErrCredentialsNotFound)

	assert.ErrorIs(t, h.manager.Remove(beta), common.ErrTunnelNotFound)
	require.NoError(t, h.manager.Deactivate(context.Background(), alpha))
}

func TestManager_Activation(t *testing.T) {
	h := newHarness(t, "alpha")
	rec := &recorder{}
	sub, _ := h.manager.ObserveList(rec)
	defer sub.Cancel()

	alpha := h.tunnel(t, "alpha")
	seen := watchStatus(alpha)

	require.NoError(t, h.manager.Activate(context.Background(), alpha))
	assert.Equal(t, []Status{StatusActivating, StatusActive}, seen())
	assert.Equal(t, alpha, h.manager.InOperation())
	assert.False(t, alpha.LastUsed().IsZero())

	require.NoError(t, h.manager.Deactivate(context.Background(), alpha))
	assert.Equal(t, []Status{StatusActivating, StatusActive, StatusDeactivating, StatusInactive}, seen())
	assert.Nil(t, h.manager.InOperation())

	assert.Equal(t, []string{"current alpha", "current none"}, rec.log())
	assert.Equal(t, []string{"up alpha", "down alpha"}, h.backend.callLog())
}

func TestManager_ActivationFailure(t *testing.T) {
	h := newHarness(t, "alpha")
	h.backend.upErr = errors.New("boom")
	alpha := h.tunnel(t, "alpha")

	err := h.manager.Activate(context.Background(), alpha)
	assert.ErrorIs(t, err, common.ErrActivationFailed)
	assert.Equal(t, StatusInactive, alpha.Status())

	select {
	case err := <-h.errs:
		assert.EqualError(t, err, "boom")
	case <-time.After(time.Second):
		t.Fatal("error handler not called")
	}
}

func TestManager_SecondActivationWaits(t *testing.T) {
	h := newHarness(t, "alpha", "beta")
	rec := &recorder{}
	sub, _ := h.manager.ObserveList(rec)
	defer sub.Cancel()

	alpha, beta := h.tunnel(t, "alpha"), h.tunnel(t, "beta")
	require.NoError(t, h.manager.Activate(context.Background(), alpha))

	seen := watchStatus(beta)
	require.NoError(t, h.manager.Activate(context.Background(), beta))

	assert.Equal(t, []Status{StatusWaiting, StatusActivating, StatusActive}, seen())
	assert.Equal(t, StatusInactive, alpha.Status())
	assert.Equal(t, []string{"up alpha", "down alpha", "up beta"}, h.backend.callLog())
	assert.Equal(t, []string{"current alpha", "current beta"}, rec.log())

	require.NoError(t, h.manager.Deactivate(context.Background(), beta))
}

func TestManager_WaitingGivesUpWhenOtherStaysUp(t *testing.T) {
	h := newHarness(t, "alpha", "bravo")
	alpha, bravo := h.tunnel(t, "alpha"), h.tunnel(t, "bravo")
	require.NoError(t, h.manager.Activate(context.Background(), alpha))

	h.backend.mu.Lock()
	h.backend.downErr = errors.New("device busy")
	h.backend.mu.Unlock()
	seen := watchStatus(bravo)

	h.manager.RequestActivation(bravo)
	assert.Equal(t, StatusWaiting, bravo.Status())

	eventuallyStatus(t, bravo, StatusInactive)
	assert.Equal(t, StatusActive, alpha.Status())
	assert.Equal(t, []Status{StatusWaiting, StatusInactive}, seen())
	assert.Same(t, alpha, h.manager.InOperation())
	assert.NotContains(t, h.backend.callLog(), "up bravo")

	select {
	case err := <-h.errs:
		assert.EqualError(t, err, "device busy")
	case <-time.After(time.Second):
		t.Fatal("error handler not called")
	}
}

func TestManager_InterfaceNameConflicts(t *testing.T) {
	h := newHarness(t, "Home VPN", "corporate-vpn-east1", "office")

	tests := []string{
		"Home-VPN",            // space becomes '-'
		"home vpn",            // same name
		"corporate-vpn-east2", // same first 15 characters
		"HOME-vpn",            // interface names also name files
	}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := h.manager.Add(name, testConfig(t))
			assert.ErrorIs(t, err, common.ErrDuplicateName)
		})
	}
	assert.Equal(t, 3, h.manager.Count())

	office := h.tunnel(t, "office")
	assert.ErrorIs(t, h.manager.Rename(office, "Home-VPN"), common.ErrDuplicateName)
	assert.Equal(t, "office", office.Name())

	home := h.tunnel(t, "Home VPN")
	require.NoError(t, h.manager.Activate(context.Background(), home))
	require.NoError(t, h.manager.Refresh(context.Background()))
	assert.Equal(t, StatusInactive, office.Status())
	assert.Equal(t, StatusInactive, h.tunnel(t, "corporate-vpn-east1").Status())
}

func TestManager_CancelWaiting(t *testing.T) {
	h := newHarness(t, "alpha", "beta")
	h.backend.block = make(chan struct{})
	alpha, beta := h.tunnel(t, "alpha"), h.tunnel(t, "beta")

	h.manager.RequestActivation(alpha)
	assert.Equal(t, StatusActivating, alpha.Status())

	h.manager.RequestActivation(beta)
	assert.Equal(t, StatusWaiting, beta.Status())
	assert.Equal(t, StatusDeactivating, alpha.Status())

	h.manager.RequestDeactivation(beta)
	assert.Equal(t, StatusInactive, beta.Status())

	close(h.backend.block)
	eventuallyStatus(t, alpha, StatusInactive)

	h.manager.Close()
	assert.Equal(t, []string{"up alpha", "down alpha"}, h.backend.callLog())
	assert.Equal(t, StatusInactive, beta.Status())
}

func TestManager_Reassert(t *testing.T) {
	h := newHarness(t, "alpha")
	alpha := h.tunnel(t, "alpha")

	h.manager.Reassert(alpha)
	assert.Equal(t, StatusInactive, alpha.Status(), "inactive tunnels are not reasserted")

	require.NoError(t, h.manager.Activate(context.Background(), alpha))
	seen := watchStatus(alpha)
	h.manager.Reassert(alpha)
	eventuallyStatus(t, alpha, StatusActive)
	h.manager.Close()

	assert.Equal(t, []Status{StatusReasserting, StatusActive}, seen())
	assert.Equal(t, []string{"up alpha", "down alpha", "up alpha"}, h.backend.callLog())
}

func TestManager_ModifyRestartsActive(t *testing.T) {
	h := newHarness(t, "alpha")
	alpha := h.tunnel(t, "alpha")
	require.NoError(t, h.manager.Activate(context.Background(), alpha))

	seen := watchStatus(alpha)
	cfg := testConfig(t)
	require.NoError(t, h.manager.Modify(alpha, cfg))
	eventuallyStatus(t, alpha, StatusActive)
	h.manager.Close()

	assert.Equal(t, []Status{StatusRestarting, StatusActive}, seen())
	assert.Equal(t, cfg.String(), alpha.Config().String())

	secret, err := h.creds.Get(alpha.ID())
	require.NoError(t, err)
	assert.Equal(t, cfg.Interface.PrivateKey.String(), secret)
}

func TestManager_UpdateFromFile(t *testing.T) {
	h := newHarness(t, "alpha")
	alpha := h.tunnel(t, "alpha")
	require.NoError(t, h.manager.Activate(context.Background(), alpha))

	cfg := testConfig(t)
	require.NoError(t, afero.WriteFile(h.fs, "/home/me/rotated.conf", []byte(cfg.String()), 0600))

	seen := watchStatus(alpha)
	require.NoError(t, h.manager.Update(alpha, "/home/me/rotated.conf"))
	eventuallyStatus(t, alpha, StatusActive)
	h.manager.Close()

	assert.Equal(t, []Status{StatusRestarting, StatusActive}, seen())
	assert.Equal(t, "alpha", alpha.Name())
	assert.Equal(t, cfg.String(), alpha.Config().String())

	assert.Error(t, h.manager.Update(alpha, "/home/me/missing.conf"))
	require.NoError(t, afero.WriteFile(h.fs, "/home/me/broken.conf", []byte("[Interface]\n"), 0600))
	assert.ErrorIs(t, h.manager.Update(alpha, "/home/me/broken.conf"), common.ErrInvalidConfig)
	assert.Equal(t, cfg.String(), alpha.Config().String())
}

func TestManager_RefreshFollowsBackend(t *testing.T) {
	h := newHarness(t, "alpha")
	alpha := h.tunnel(t, "alpha")

	h.backend.setRunning("alpha", "eth0")
	require.NoError(t, h.manager.Refresh(context.Background()))
	assert.Equal(t, StatusActive, alpha.Status())

	h.backend.setRunning("eth0")
	require.NoError(t, h.manager.Refresh(context.Background()))
	assert.Equal(t, StatusInactive, alpha.Status())
}

func TestManager_RefreshReloadsStore(t *testing.T) {
	h := newHarness(t, "alpha", "beta")
	alpha := h.tunnel(t, "alpha")

	other, err := NewManager(h.store, h.backend)
	require.NoError(t, err)
	require.NoError(t, other.Remove(other.TunnelAt(1)))
	require.NoError(t, other.Rename(other.TunnelAt(0), "delta"))
	_, err = other.Add("charlie", testConfig(t))
	require.NoError(t, err)
	other.Close()

	rec := &recorder{}
	sub, _ := h.manager.ObserveList(rec)
	defer sub.Cancel()

	require.NoError(t, h.manager.Refresh(context.Background()))

	assert.Equal(t, []string{"charlie", "delta"}, names(h.manager.Tunnels()))
	assert.Equal(t, "delta", alpha.Name())
	assert.Equal(t, []string{"removed 1 beta", "added 1 charlie", "moved 0 1 delta"}, rec.log())
}

func TestManager_RefreshCollectsReloadErrors(t *testing.T) {
	h := newHarness(t, "Home VPN", "corporate-vpn-east1")

	stored := append(h.manager.Tunnels(),
		New("home-vpn", testConfig(t)),
		New("corporate-vpn-east2", testConfig(t)),
		New("charlie", testConfig(t)))
	require.NoError(t, h.store.Save(stored))

	err := h.manager.Refresh(context.Background())
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 2)
	for _, e := range merr.Errors {
		assert.ErrorIs(t, e, common.ErrDuplicateName)
	}
	assert.ElementsMatch(t, []string{"Home VPN", "corporate-vpn-east1", "charlie"}, names(h.manager.Tunnels()))
}

func TestManager_Find(t *testing.T) {
	h := newHarness(t, "Home VPN")
	home := h.tunnel(t, "home vpn")

	byID, err := h.manager.Find(home.ID()[:6])
	require.NoError(t, err)
	assert.Same(t, home, byID)

	got, err := h.manager.Get(home.ID())
	require.NoError(t, err)
	assert.Same(t, home, got)

	_, err = h.manager.Find("nope")
	assert.ErrorIs(t, err, common.ErrTunnelNotFound)
	assert.Equal(t, -1, h.manager.Index(New("x", nil)))
}
