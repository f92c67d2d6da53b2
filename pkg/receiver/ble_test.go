//go:build !tinygo

package receiver

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/emgstream/pkg/sample"
)

// connectedBLE returns a receiver in the state Connect leaves it in, with the
// peripheral link replaced by a counter.
func connectedBLE(idle time.Duration, disconnects *atomic.Int32) *BLE {
	d := &BLE{
		idle:      idle,
		packets:   make(chan Packet, 4),
		connected: true,
		disconnect: func() error {
			disconnects.Add(1)
			return nil
		},
	}
	d.mu.Lock()
	d.start()
	d.mu.Unlock()
	return d
}

func TestBLE_DropsSilentLink(t *testing.T) {
	var disconnects atomic.Int32
	d := connectedBLE(20*time.Millisecond, &disconnects)

	// Nothing is expected before the sender's first frame.
	time.Sleep(80 * time.Millisecond)
	assert.True(t, d.IsConnected())

	d.onNotify(makeFrame(1, sample.Sample{}))
	_, ok := <-d.Packets()
	require.True(t, ok)

	select {
	case _, ok := <-d.Packets():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("packets channel still open after the link went silent")
	}
	assert.False(t, d.IsConnected())
	assert.Equal(t, int32(1), disconnects.Load())

	assert.NoError(t, d.Close())
	assert.Equal(t, int32(1), disconnects.Load())
}

func TestBLE_StreamingKeepsLink(t *testing.T) {
	var disconnects atomic.Int32
	d := connectedBLE(50*time.Millisecond, &disconnects)

	for i := 0; i < 10; i++ {
		d.onNotify(makeFrame(uint16(i), sample.Sample{}))
		<-d.Packets()
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, d.IsConnected())

	require.NoError(t, d.Close())
	assert.False(t, d.IsConnected())
	assert.Equal(t, int32(1), disconnects.Load())

	_, ok := <-d.Packets()
	assert.False(t, ok)

	// Notifications racing the close are discarded.
	d.onNotify(makeFrame(11, sample.Sample{}))
}

func TestBLE_CloseWithoutLink(t *testing.T) {
	d := &BLE{packets: make(chan Packet, 1)}

	assert.NoError(t, d.Close())
	assert.NoError(t, d.Close())
	assert.Error(t, d.Connect())
}
