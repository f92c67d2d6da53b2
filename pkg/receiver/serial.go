//go:build !tinygo

package receiver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/itohio/emgstream/pkg/frame"
	linkserial "github.com/itohio/emgstream/pkg/link/serial"
)

var _ Device = (*Serial)(nil)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Serial receives preamble-delimited frames from a serial port.
type Serial struct {
	port     string
	baudRate int

	conn      serial.Port
	packets   chan Packet
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
}

// NewSerial creates a Serial receiver for the given port.
func NewSerial(port string, baudRate int, bufSize int) *Serial {
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:     port,
		baudRate: baudRate,
		packets:  make(chan Packet, bufSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect opens the port and starts reading frames.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = port
	d.connected = true

	go d.readPackets(port)

	return nil
}

// Close closes the port and the packets channel.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	d.cancel()
	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			log.Printf("Error closing serial port: %v", err)
		}
		d.conn = nil
	}
	d.connected = false

	return nil
}

// Packets returns the channel of received frames. It is closed when reading stops.
func (d *Serial) Packets() <-chan Packet {
	return d.packets
}

// IsConnected returns whether the port is open.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

func (d *Serial) readPackets(r io.Reader) {
	defer close(d.packets)
	defer func() {
		d.mu.Lock()
		d.connected = false
		d.mu.Unlock()
	}()

	br := bufio.NewReaderSize(r, 4*linkserial.PacketSize)
	for {
		data, err := readPacket(br)
		if err != nil {
			if d.ctx.Err() == nil && !errors.Is(err, io.EOF) {
				log.Printf("Error reading from serial port: %v", err)
			}
			return
		}

		p, _ := newPacket(data[:], time.Now())
		select {
		case d.packets <- p:
		case <-d.ctx.Done():
			return
		default:
			log.Printf("Packets channel full, dropping frame")
		}
	}
}

// readPacket skips bytes up to the next preamble and returns the frame after it.
func readPacket(r *bufio.Reader) ([frame.Size]byte, error) {
	var out [frame.Size]byte

	matched := 0
	for matched < len(linkserial.Preamble) {
		b, err := r.ReadByte()
		if err != nil {
			return out, err
		}
		switch {
		case b == linkserial.Preamble[matched]:
			matched++
		case b == linkserial.Preamble[0]:
			matched = 1
		default:
			matched = 0
		}
	}

	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("short frame: %w", err)
	}
	return out, nil
}
