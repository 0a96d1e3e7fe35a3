package notify

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	logx "dynatheme/pkg/logx"
)

const (
	dbusDest   = "org.freedesktop.Notifications"
	dbusPath   = "/org/freedesktop/Notifications"
	dbusNotify = "org.freedesktop.Notifications.Notify"

	urgencyNormal   byte = 1
	urgencyCritical byte = 2
)

// Desktop posts notifications to the freedesktop notification daemon over
// the session bus.
type Desktop struct {
	conn    *dbus.Conn
	log     logx.Logger
	appName string
}

func NewDesktop(appName string, log logx.Logger) (*Desktop, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &Desktop{conn: conn, log: log, appName: appName}, nil
}

func (d *Desktop) Info(msg string)  { d.send(msg, urgencyNormal, 4000) }
func (d *Desktop) Error(msg string) { d.send(msg, urgencyCritical, 0) }

func (d *Desktop) send(msg string, urgency byte, expireMS int32) {
	obj := d.conn.Object(dbusDest, dbus.ObjectPath(dbusPath))
	hints := map[string]dbus.Variant{"urgency": dbus.MakeVariant(urgency)}
	call := obj.Go(dbusNotify, dbus.FlagNoReplyExpected, nil,
		d.appName, uint32(0), "", d.appName, msg, []string{}, hints, expireMS)
	if call != nil && call.Err != nil {
		d.log.Warn("desktop notification failed", logx.Err(call.Err))
	}
}

func (d *Desktop) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
