package ui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/yllada/tunnelbar/common"
)

const (
	notifyDest   = "org.freedesktop.Notifications"
	notifyPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod = notifyDest + ".Notify"
	notifyWait   = 2 * time.Second
)

// NotificationType represents the type of notification.
type NotificationType int

const (
	NotificationInfo NotificationType = iota
	NotificationSuccess
	NotificationWarning
	NotificationError
)

// urgency maps to the freedesktop urgency hint: 0 low, 1 normal, 2 critical.
func (t NotificationType) urgency() byte {
	switch t {
	case NotificationError:
		return 2
	case NotificationWarning:
		return 1
	default:
		return 0
	}
}

func (t NotificationType) icon() string {
	switch t {
	case NotificationWarning:
		return "dialog-warning"
	case NotificationError:
		return "dialog-error"
	default:
		return "network-vpn"
	}
}

// Notification represents a desktop notification.
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Icon    string
}

type busObject interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Notifier sends desktop notifications through the freedesktop
// notification service on the session bus. Each notification replaces the
// previous one so a burst of status changes shows as a single bubble.
type Notifier struct {
	mu      sync.Mutex
	enabled bool
	connect func() (busObject, func() error, error)
	obj     busObject
	closeFn func() error
	lastID  uint32
}

// NewNotifier creates a notifier. A disabled notifier drops everything.
func NewNotifier(enabled bool) *Notifier {
	return &Notifier{enabled: enabled, connect: connectSessionBus}
}

func connectSessionBus() (busObject, func() error, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, nil, err
	}
	return conn.Object(notifyDest, notifyPath), conn.Close, nil
}

// Show sends n. Failures are returned and logged at debug level.
func (n *Notifier) Show(note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.enabled {
		return nil
	}
	if n.obj == nil {
		obj, closeFn, err := n.connect()
		if err != nil {
			common.LogDebug("Notification service unavailable: %v", err)
			return common.WrapError(err, "connecting to session bus")
		}
		n.obj, n.closeFn = obj, closeFn
	}

	icon := note.Icon
	if icon == "" {
		icon = note.Type.icon()
	}
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(note.Type.urgency()),
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyWait)
	defer cancel()

	var id uint32
	call := n.obj.CallWithContext(ctx, notifyMethod, 0,
		common.AppName, n.lastID, icon, note.Title, note.Message,
		[]string{}, hints, int32(-1))
	if err := call.Store(&id); err != nil {
		common.LogDebug("Notification %q failed: %v", note.Title, err)
		n.disconnectLocked()
		return fmt.Errorf("sending notification: %w", err)
	}
	n.lastID = id
	return nil
}

// Notify implements common.Notifier.
func (n *Notifier) Notify(title, message string) error {
	return n.Show(Notification{Title: title, Message: message})
}

// NotifyWithIcon implements common.Notifier.
func (n *Notifier) NotifyWithIcon(title, message, icon string) error {
	return n.Show(Notification{Title: title, Message: message, Icon: icon})
}

// SetEnabled turns notifications on or off.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	n.enabled = enabled
	n.mu.Unlock()
}

// Close releases the bus connection.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.disconnectLocked()
}

// disconnectLocked drops the cached bus object; the next Show reconnects.
func (n *Notifier) disconnectLocked() error {
	n.obj = nil
	if n.closeFn == nil {
		return nil
	}
	err := n.closeFn()
	n.closeFn = nil
	return err
}

// NotifyActivated shows a notification when a tunnel comes up.
func (n *Notifier) NotifyActivated(name string) {
	_ = n.Show(Notification{
		Title:   "Tunnel Activated",
		Message: name + " is active",
		Type:    NotificationSuccess,
	})
}

// NotifyDeactivated shows a notification when a tunnel goes down.
func (n *Notifier) NotifyDeactivated(name string) {
	_ = n.Show(Notification{
		Title:   "Tunnel Deactivated",
		Message: name + " is inactive",
		Type:    NotificationInfo,
		Icon:    "network-vpn-disconnected",
	})
}

// NotifyReasserting shows a notification when a tunnel is reconnected
// after failing health checks.
func (n *Notifier) NotifyReasserting(name string, attempt int) {
	_ = n.Show(Notification{
		Title:   "Reconnecting Tunnel",
		Message: fmt.Sprintf("%s stopped responding, reconnecting (attempt %d)", name, attempt),
		Type:    NotificationWarning,
		Icon:    "network-vpn-acquiring",
	})
}

// NotifyError shows a notification for a failed tunnel operation.
func (n *Notifier) NotifyError(name string, err error) {
	msg := err.Error()
	if name != "" {
		msg = name + ": " + msg
	}
	_ = n.Show(Notification{
		Title:   "Tunnel Error",
		Message: msg,
		Type:    NotificationError,
		Icon:    "network-vpn-error",
	})
}

var _ common.Notifier = (*Notifier)(nil)
