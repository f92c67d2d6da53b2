// Package stub provides an in-memory wireless stack for host-side testing and dry runs.
package stub

import (
	"sync"

	"github.com/itohio/emgstream/pkg/link"
)

var _ link.Stack = (*Stack)(nil)

// Stack records notified frames instead of transmitting them.
type Stack struct {
	mu         sync.Mutex
	onConn     func(connected bool)
	connected  bool
	log        ringBuffer
	notifyErr  error
	advertised int
	notified   int
}

// New creates a Stack that reports connection events to onConn.
func New(onConn func(connected bool)) *Stack {
	return &Stack{onConn: onConn}
}

// Connect simulates a peer connecting, as the radio context would.
func (s *Stack) Connect() {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	if s.onConn != nil {
		s.onConn(true)
	}
}

// Disconnect simulates the peer going away.
func (s *Stack) Disconnect() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	if s.onConn != nil {
		s.onConn(false)
	}
}

// FailWith makes every following Notify return err until called with nil.
func (s *Stack) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyErr = err
}

// Notify records a copy of frame.
func (s *Stack) Notify(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified++
	if s.notifyErr != nil {
		return s.notifyErr
	}
	if !s.connected {
		return link.ErrNotConnected
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.log.push(cp)
	return nil
}

// Advertise counts re-advertise requests.
func (s *Stack) Advertise() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advertised++
	return nil
}

// Frames returns copies of the recorded frames, oldest first.
func (s *Stack) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.snapshot()
}

// Advertised returns how many times Advertise was called.
func (s *Stack) Advertised() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertised
}

// Notified returns how many times Notify was called, including failed calls.
func (s *Stack) Notified() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notified
}

const ringCapacity = 256

type ringBuffer struct {
	data       [ringCapacity][]byte
	head, tail int // head = next pop, tail = next push
	count      int
}

func (rb *ringBuffer) push(frame []byte) {
	if rb.count == ringCapacity {
		// Overwrite the oldest when buffer is full to keep memory bounded
		rb.data[rb.tail] = nil
		rb.head = (rb.head + 1) % ringCapacity
		rb.count--
	}
	rb.data[rb.tail] = frame
	rb.tail = (rb.tail + 1) % ringCapacity
	rb.count++
}

func (rb *ringBuffer) snapshot() [][]byte {
	out := make([][]byte, rb.count)
	i := rb.head
	for c := 0; c < rb.count; c++ {
		p := rb.data[i]
		cp := make([]byte, len(p))
		copy(cp, p)
		out[c] = cp
		i = (i + 1) % ringCapacity
	}
	return out
}
