//go:build !linux || tinygo

package ble

import "tinygo.org/x/bluetooth"

// watchPeers forwards the adapter's own connection events to onConn.
func watchPeers(adapter *bluetooth.Adapter, onConn func(connected bool)) (func() error, error) {
	adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		onConn(connected)
	})
	return func() error { return nil }, nil
}
