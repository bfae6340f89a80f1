package sinks

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/godbus/dbus/v5"

	"repowatch/internal/notifier"
)

const (
	notifyDest   = "org.freedesktop.Notifications"
	notifyPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod = "org.freedesktop.Notifications.Notify"
)

// busCaller is the part of dbus.BusObject the desktop sink uses.
type busCaller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...any) *dbus.Call
}

// Desktop shows notifications through the freedesktop notification server.
type Desktop struct {
	appName string
	timeout time.Duration
	obj     busCaller
	conn    *dbus.Conn
}

// NewDesktop connects to the session bus. timeout <= 0 lets the server
// pick how long the notification stays on screen.
func NewDesktop(appName string, timeout time.Duration) (*Desktop, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("desktop sink: session bus: %w", err)
	}
	d := newDesktop(appName, timeout, conn.Object(notifyDest, notifyPath))
	d.conn = conn
	return d, nil
}

func newDesktop(appName string, timeout time.Duration, obj busCaller) *Desktop {
	if appName == "" {
		appName = "repowatch"
	}
	return &Desktop{appName: appName, timeout: timeout, obj: obj}
}

func (d *Desktop) Name() string { return "desktop" }

func (d *Desktop) Show(ctx context.Context, n notifier.Notification) error {
	expire := int32(-1)
	if d.timeout > 0 {
		expire = int32(d.timeout.Milliseconds())
	}
	// Servers with body-markup treat the body as a subset of HTML.
	body := html.EscapeString(n.Body)
	call := d.obj.CallWithContext(ctx, notifyMethod, 0,
		d.appName, uint32(0), n.Icon, n.Title, body,
		[]string{}, map[string]dbus.Variant{}, expire,
	)
	if call.Err != nil {
		return fmt.Errorf("desktop notify: %w", call.Err)
	}
	return nil
}

func (d *Desktop) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
