// Package notification sends desktop notifications over
// org.freedesktop.Notifications. Best-effort: failures must never break a
// capture, so callers log and move on.
package notification

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	dest    = "org.freedesktop.Notifications"
	objPath = "/org/freedesktop/Notifications"
	iface   = "org.freedesktop.Notifications"
)

// Kind selects urgency and display time.
type Kind int

const (
	Info Kind = iota
	Error
)

func urgency(k Kind) byte {
	// 0=low, 1=normal, 2=critical
	if k == Error {
		return 2
	}
	return 1
}

func timeoutMs(k Kind) int32 {
	if k == Error {
		return 6000
	}
	return 2500
}

// Send delivers one notification on the session bus.
func Send(kind Kind, summary, body string) error {
	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("notify: session bus: %w", err)
	}

	obj := conn.Object(dest, dbus.ObjectPath(objPath))
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgency(kind)),
	}

	// Notify(app_name, replaces_id, app_icon, summary, body, actions, hints, expire_timeout)
	call := obj.Call(iface+".Notify", 0,
		"Capit", uint32(0), "camera-photo", summary, body, []string{}, hints, timeoutMs(kind))
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}
	return nil
}

// Saved announces a written screenshot.
func Saved(path string) error {
	return Send(Info, "Screenshot saved", path)
}

// Failed announces a failed capture.
func Failed(msg string) error {
	return Send(Error, "Screenshot failed", msg)
}
