// Package serial streams frames over a UART, e.g. to a BLE bridge module or
// straight to a host. Every frame is preceded by a preamble so a reader can
// resynchronize.
package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/itohio/emgstream/pkg/frame"
	"github.com/itohio/emgstream/pkg/link"
)

// Preamble precedes every frame on the wire so a reader can resynchronize.
var Preamble = [2]byte{0xA5, 0x5A}

// PacketSize is the number of bytes written per frame.
const PacketSize = len(Preamble) + frame.Size

// ErrFrameSize is returned for frames that are not exactly frame.Size bytes.
var ErrFrameSize = errors.New("frame size mismatch")

// packet fills buf with the preamble and f.
func packet(buf *[PacketSize]byte, f []byte) ([]byte, error) {
	if len(f) != frame.Size {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrFrameSize, len(f), frame.Size)
	}
	copy(buf[:], Preamble[:])
	copy(buf[len(Preamble):], f)
	return buf[:], nil
}

var _ link.Stack = (*Stream)(nil)

// Stream writes framed packets to w, typically a UART. The wire carries no
// link state: the peer counts as connected from Advertise until a write fails.
type Stream struct {
	w      io.Writer
	onConn func(connected bool)

	mu  sync.Mutex
	up  bool
	buf [PacketSize]byte
}

// NewStream creates a Stream on w. It reports nothing until Advertise.
func NewStream(w io.Writer, onConn func(connected bool)) *Stream {
	return &Stream{w: w, onConn: onConn}
}

// Notify writes the preamble and frame. A write error reports a disconnect.
func (s *Stream) Notify(f []byte) error {
	s.mu.Lock()
	if !s.up {
		s.mu.Unlock()
		return link.ErrNotConnected
	}

	b, err := packet(&s.buf, f)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if _, err = s.w.Write(b); err == nil {
		s.mu.Unlock()
		return nil
	}
	s.up = false
	s.mu.Unlock()

	s.onConn(false)
	return fmt.Errorf("failed to write frame: %w", err)
}

// Advertise marks the wire as connected again.
func (s *Stream) Advertise() error {
	s.mu.Lock()
	if s.up {
		s.mu.Unlock()
		return nil
	}
	s.up = true
	s.mu.Unlock()

	s.onConn(true)
	return nil
}
