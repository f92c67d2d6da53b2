//go:build linux && !tinygo

package ble

import (
	"strings"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"
)

const (
	propertiesChanged = "org.freedesktop.DBus.Properties.PropertiesChanged"
	bluezDevice       = "org.bluez.Device1"

	// bluezAdapter is the object path of bluetooth.DefaultAdapter.
	bluezAdapter = "/org/bluez/hci0/"
)

// watchPeers follows the Connected property of BlueZ devices on the system
// bus. The BlueZ peripheral never calls the adapter's connect handler, so
// link state comes from D-Bus instead.
func watchPeers(_ *bluetooth.Adapter, onConn func(connected bool)) (func() error, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}

	err = conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(0, bluezDevice),
	)
	if err != nil {
		conn.Close()
		return nil, err
	}

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)

	p := newPeers(bluezAdapter, onConn)
	go func() {
		for sig := range signals {
			p.handle(sig)
		}
	}()

	// Closing the connection closes signals.
	return conn.Close, nil
}

// peers counts connected devices and reports the first connect and the last
// disconnect.
type peers struct {
	prefix    string
	onConn    func(connected bool)
	connected map[dbus.ObjectPath]struct{}
}

func newPeers(prefix string, onConn func(connected bool)) *peers {
	return &peers{
		prefix:    prefix,
		onConn:    onConn,
		connected: make(map[dbus.ObjectPath]struct{}),
	}
}

func (p *peers) handle(sig *dbus.Signal) {
	if sig.Name != propertiesChanged || len(sig.Body) < 2 {
		return
	}
	if !strings.HasPrefix(string(sig.Path), p.prefix) {
		return
	}
	if iface, _ := sig.Body[0].(string); iface != bluezDevice {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	v, ok := changed["Connected"]
	if !ok {
		return
	}
	up, ok := v.Value().(bool)
	if !ok {
		return
	}

	before := len(p.connected)
	if up {
		p.connected[sig.Path] = struct{}{}
	} else {
		delete(p.connected, sig.Path)
	}

	switch after := len(p.connected); {
	case before == 0 && after > 0:
		p.onConn(true)
	case before > 0 && after == 0:
		p.onConn(false)
	}
}
