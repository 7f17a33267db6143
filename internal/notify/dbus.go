package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	appLog "pic2contact/internal/log"
)

const (
	notificationsService = "org.freedesktop.Notifications"
	notificationsPath    = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod         = "org.freedesktop.Notifications.Notify"
)

// Desktop sends alerts as freedesktop notifications on the session bus.
// If the bus is unreachable the message falls back to Fallback.
type Desktop struct {
	AppName  string
	Fallback Notifier

	mu   sync.Mutex
	conn *dbus.Conn
}

func NewDesktop(appName string, fallback Notifier) *Desktop {
	return &Desktop{AppName: appName, Fallback: fallback}
}

func (d *Desktop) Alert(ctx context.Context, msg string) {
	if err := d.send(ctx, msg); err != nil {
		appLog.Error("desktop notification failed", err)
		if d.Fallback != nil {
			d.Fallback.Alert(ctx, msg)
		}
	}
}

func (d *Desktop) send(ctx context.Context, msg string) error {
	conn, err := d.session()
	if err != nil {
		return err
	}

	obj := conn.Object(notificationsService, notificationsPath)
	call := obj.CallWithContext(ctx, notifyMethod, 0, notifyArgs(d.AppName, msg)...)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}
	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	appLog.Debug("desktop notification sent", "id", id)
	return nil
}

// notifyArgs builds the Notify(app_name, replaces_id, app_icon, summary,
// body, actions, hints, expire_timeout) argument list.
func notifyArgs(appName, msg string) []interface{} {
	return []interface{}{
		appName,
		uint32(0),
		"",
		appName,
		msg,
		[]string{},
		map[string]dbus.Variant{"urgency": dbus.MakeVariant(byte(1))},
		int32(-1),
	}
}

func (d *Desktop) session() (*dbus.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil && d.conn.Connected() {
		return d.conn, nil
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	d.conn = conn
	return conn, nil
}

func (d *Desktop) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}
