//go:build linux && !tinygo

package receiver

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"tinygo.org/x/bluetooth"
)

func TestBLE_PeripheralDisconnect(t *testing.T) {
	var disconnects atomic.Int32
	d := connectedBLE(time.Minute, &disconnects)

	var peer, other bluetooth.Address
	peer.Set("C0:FF:EE:00:00:01")
	other.Set("C0:FF:EE:00:00:02")
	d.peer.Store(&peer)

	d.onConnect(bluetooth.Device{Address: peer}, true)
	d.onConnect(bluetooth.Device{Address: other}, false)
	assert.True(t, d.IsConnected())

	d.onConnect(bluetooth.Device{Address: peer}, false)
	assert.False(t, d.IsConnected())
	assert.Equal(t, int32(1), disconnects.Load())

	_, ok := <-d.Packets()
	assert.False(t, ok)
}
