package receiver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/emgstream/pkg/clock"
	"github.com/itohio/emgstream/pkg/config"
	"github.com/itohio/emgstream/pkg/link"
	"github.com/itohio/emgstream/pkg/pipeline"
	"github.com/itohio/emgstream/pkg/sensor"
)

var _ link.Stack = (*Mock)(nil)

// Mock runs a complete streaming pipeline on a simulated sensor in-process and
// receives its frames, for development without hardware.
type Mock struct {
	cfg *config.Config

	packets   chan Packet
	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	state     link.State
	connected bool
	closed    bool
}

// NewMock creates a Mock streaming with cfg (nil for defaults).
func NewMock(cfg *config.Config) *Mock {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Mock{
		cfg:     cfg,
		packets: make(chan Packet, DefaultBufferSize),
	}
}

// Connect starts the simulated device and connects to it.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	if m.closed {
		return fmt.Errorf("closed")
	}

	s := sensor.NewMock(&m.cfg.Mock)
	p, err := pipeline.New(m.cfg, s, s, m, &m.state)
	if err != nil {
		return err
	}
	p.Gate().Press()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.connected = true
	m.state.Set(true)

	go func() {
		defer close(m.done)
		p.Run(ctx, clock.Monotonic())
	}()

	return nil
}

// Close stops the simulated device and closes the packets channel.
func (m *Mock) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.connected = false
	m.state.Set(false)
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	close(m.packets)
	return nil
}

// Notify receives a frame from the simulated device.
func (m *Mock) Notify(data []byte) error {
	p, ok := newPacket(data, time.Now())
	if !ok {
		return fmt.Errorf("unexpected frame size %d", len(data))
	}
	select {
	case m.packets <- p:
		return nil
	default:
		return fmt.Errorf("packets channel full")
	}
}

// Advertise is a no-op; the simulated peer never goes away on its own.
func (m *Mock) Advertise() error {
	return nil
}

// Packets returns the channel of received frames.
func (m *Mock) Packets() <-chan Packet {
	return m.packets
}

// IsConnected returns whether the simulated device is running.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}
