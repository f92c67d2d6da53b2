// Package receiver collects frames from a streaming device, tracks sequence loss
// and forwards decoded readings to sinks.
package receiver

import (
	"time"

	"github.com/itohio/emgstream/pkg/frame"
)

// DefaultBufferSize is the default size of the packets channel buffer.
const DefaultBufferSize = 100

// Packet is one received frame with its arrival time.
type Packet struct {
	Timestamp time.Time
	Data      [frame.Size]byte
}

// Device is a frame source (real or mocked).
type Device interface {
	Connect() error
	Close() error
	Packets() <-chan Packet
	IsConnected() bool
}

var _ Device = (*Mock)(nil)

// newPacket copies data, which the caller may reuse, into a Packet.
func newPacket(data []byte, at time.Time) (Packet, bool) {
	var p Packet
	if len(data) != frame.Size {
		return p, false
	}
	p.Timestamp = at
	copy(p.Data[:], data)
	return p, true
}
