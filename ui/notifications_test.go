package ui

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notifyCall struct {
	method string
	args   []interface{}
}

type fakeBus struct {
	calls  []notifyCall
	nextID uint32
	err    error
}

func (b *fakeBus) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	b.calls = append(b.calls, notifyCall{method: method, args: args})
	if b.err != nil {
		return &dbus.Call{Err: b.err}
	}
	b.nextID++
	return &dbus.Call{Body: []interface{}{b.nextID}}
}

func newTestNotifier(bus *fakeBus, enabled bool) (*Notifier, *int) {
	connects := 0
	n := NewNotifier(enabled)
	n.connect = func() (busObject, func() error, error) {
		connects++
		return bus, func() error { return nil }, nil
	}
	return n, &connects
}

func TestNotifier_Show(t *testing.T) {
	bus := &fakeBus{}
	n, connects := newTestNotifier(bus, true)

	require.NoError(t, n.Show(Notification{Title: "Tunnel Error", Message: "boom", Type: NotificationError}))
	require.Len(t, bus.calls, 1)

	c := bus.calls[0]
	assert.Equal(t, "org.freedesktop.Notifications.Notify", c.method)
	require.Len(t, c.args, 8)
	assert.Equal(t, "Tunnelbar", c.args[0])
	assert.Equal(t, uint32(0), c.args[1])
	assert.Equal(t, "dialog-error", c.args[2])
	assert.Equal(t, "Tunnel Error", c.args[3])
	assert.Equal(t, "boom", c.args[4])
	hints := c.args[6].(map[string]dbus.Variant)
	assert.Equal(t, byte(2), hints["urgency"].Value())
	assert.Equal(t, int32(-1), c.args[7])

	// The next notification replaces the previous one.
	n.NotifyActivated("office")
	require.Len(t, bus.calls, 2)
	assert.Equal(t, uint32(1), bus.calls[1].args[1])
	assert.Equal(t, "office is active", bus.calls[1].args[4])
	assert.Equal(t, 1, *connects)
}

func TestNotifier_Disabled(t *testing.T) {
	bus := &fakeBus{}
	n, connects := newTestNotifier(bus, false)

	require.NoError(t, n.Notify("title", "message"))
	assert.Empty(t, bus.calls)
	assert.Zero(t, *connects)

	n.SetEnabled(true)
	require.NoError(t, n.NotifyWithIcon("title", "message", "custom"))
	require.Len(t, bus.calls, 1)
	assert.Equal(t, "custom", bus.calls[0].args[2])
}

func TestNotifier_Errors(t *testing.T) {
	n := NewNotifier(true)
	n.connect = func() (busObject, func() error, error) {
		return nil, nil, errors.New("no session bus")
	}
	assert.Error(t, n.Notify("title", "message"))

	bus := &fakeBus{err: errors.New("service unknown")}
	n, _ = newTestNotifier(bus, true)
	assert.Error(t, n.Notify("title", "message"))
	n.NotifyError("office", errors.New("wg-quick failed"))
	assert.Equal(t, "office: wg-quick failed", bus.calls[1].args[4])
	assert.NoError(t, n.Close())
}

func TestNotifier_ReconnectsAfterFailedCall(t *testing.T) {
	dropped := &fakeBus{err: errors.New("connection closed")}
	fresh := &fakeBus{}
	buses := []*fakeBus{dropped, fresh}

	connects, closes := 0, 0
	n := NewNotifier(true)
	n.connect = func() (busObject, func() error, error) {
		bus := buses[connects]
		connects++
		return bus, func() error { closes++; return nil }, nil
	}

	require.Error(t, n.Notify("title", "message"))
	assert.Equal(t, 1, closes)

	require.NoError(t, n.Notify("title", "message"))
	assert.Equal(t, 2, connects)
	assert.Len(t, dropped.calls, 1)
	assert.Len(t, fresh.calls, 1)

	// A working connection is kept.
	require.NoError(t, n.Notify("again", "message"))
	assert.Equal(t, 2, connects)
	assert.Len(t, fresh.calls, 2)
}
