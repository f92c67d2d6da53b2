//go:build !tinygo

package serial

import (
	"fmt"
	"io"
	"log"
	"sync"

	"go.bug.st/serial"

	"github.com/itohio/emgstream/pkg/config"
	"github.com/itohio/emgstream/pkg/link"
)

var _ link.Stack = (*Stack)(nil)

type opener func(name string, mode *serial.Mode) (io.WriteCloser, error)

func openPort(name string, mode *serial.Mode) (io.WriteCloser, error) {
	return serial.Open(name, mode)
}

// Stack writes frames to a serial port. An open port counts as a connected peer.
type Stack struct {
	name   string
	mode   *serial.Mode
	open   opener
	onConn func(connected bool)

	mu   sync.Mutex
	port io.WriteCloser
	buf  [PacketSize]byte
}

// Open opens the port described by cfg and reports it as connected.
func Open(cfg *config.SerialConfig, onConn func(connected bool)) (*Stack, error) {
	return newStack(cfg, onConn, openPort)
}

func newStack(cfg *config.SerialConfig, onConn func(connected bool), open opener) (*Stack, error) {
	s := &Stack{
		name:   cfg.Port,
		mode:   &serial.Mode{BaudRate: cfg.BaudRate},
		open:   open,
		onConn: onConn,
	}

	if err := s.Advertise(); err != nil {
		return nil, err
	}
	return s, nil
}

// Notify writes the preamble and frame. A write error closes the port and
// reports a disconnect.
func (s *Stack) Notify(f []byte) error {
	s.mu.Lock()
	if s.port == nil {
		s.mu.Unlock()
		return link.ErrNotConnected
	}

	b, err := packet(&s.buf, f)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if _, err = s.port.Write(b); err == nil {
		s.mu.Unlock()
		return nil
	}

	if cerr := s.port.Close(); cerr != nil {
		log.Printf("serial: error closing %s: %v", s.name, cerr)
	}
	s.port = nil
	s.mu.Unlock()

	s.onConn(false)
	return fmt.Errorf("failed to write frame to %s: %w", s.name, err)
}

// Advertise reopens the port if it is closed.
func (s *Stack) Advertise() error {
	s.mu.Lock()
	if s.port != nil {
		s.mu.Unlock()
		return nil
	}

	port, err := s.open(s.name, s.mode)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to open serial port %s: %w", s.name, err)
	}
	s.port = port
	s.mu.Unlock()

	s.onConn(true)
	return nil
}

// Close closes the port.
func (s *Stack) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
