//go:build !tinygo

package receiver

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/itohio/emgstream/pkg/config"
	"github.com/itohio/emgstream/pkg/frame"
)

var _ Device = (*BLE)(nil)

// BLE subscribes to the frame characteristic of a streaming peripheral.
type BLE struct {
	adapter *bluetooth.Adapter
	cfg     config.BLEConfig
	timeout time.Duration

	service bluetooth.UUID
	char    bluetooth.UUID

	peer       atomic.Pointer[bluetooth.Address]
	disconnect func() error
	idle       time.Duration
	last       atomic.Int64 // unix nanoseconds of the latest notification, 0 before the first
	stop       chan struct{}

	packets   chan Packet
	mu        sync.RWMutex
	connected bool
	closed    bool
}

// NewBLE creates a BLE receiver that looks for the peripheral described by cfg.
func NewBLE(adapter *bluetooth.Adapter, cfg *config.BLEConfig, scanTimeout time.Duration) (*BLE, error) {
	service, err := bluetooth.ParseUUID(cfg.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service uuid %q: %w", cfg.ServiceUUID, err)
	}
	char, err := bluetooth.ParseUUID(cfg.CharacteristicUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic uuid %q: %w", cfg.CharacteristicUUID, err)
	}

	return &BLE{
		adapter: adapter,
		cfg:     *cfg,
		timeout: scanTimeout,
		service: service,
		char:    char,
		idle:    cfg.IdleTimeout,
		packets: make(chan Packet, DefaultBufferSize),
	}, nil
}

// Connect scans for the peripheral, connects and enables notifications.
func (d *BLE) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}
	if d.closed {
		return fmt.Errorf("receiver closed")
	}

	if err := d.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable adapter: %w", err)
	}

	addr, err := d.scan()
	if err != nil {
		return err
	}

	d.adapter.SetConnectHandler(d.onConnect)

	device, err := d.adapter.Connect(addr, bluetooth.ConnectionParams{
		MinInterval: bluetooth.NewDuration(7500 * time.Microsecond),
		MaxInterval: bluetooth.NewDuration(15 * time.Millisecond),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr.String(), err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{d.service})
	if err != nil || len(services) == 0 {
		device.Disconnect()
		return fmt.Errorf("service %s not found: %v", d.service.String(), err)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{d.char})
	if err != nil || len(chars) == 0 {
		device.Disconnect()
		return fmt.Errorf("characteristic %s not found: %v", d.char.String(), err)
	}

	if err := chars[0].EnableNotifications(d.onNotify); err != nil {
		device.Disconnect()
		return fmt.Errorf("failed to enable notifications: %w", err)
	}

	if mtu, err := chars[0].GetMTU(); err != nil {
		log.Printf("Failed to get MTU: %v", err)
	} else if int(mtu)-3 < frame.Size {
		log.Printf("ATT MTU %d is too small for %d-byte frames", mtu, frame.Size)
	} else {
		log.Printf("ATT MTU %d", mtu)
	}

	d.peer.Store(&addr)
	d.disconnect = device.Disconnect
	d.connected = true
	d.start()
	log.Printf("Connected to %s (%s)", d.cfg.LocalName, addr.String())

	return nil
}

// start arms the silence watchdog. The caller holds d.mu.
func (d *BLE) start() {
	d.last.Store(0)
	if d.idle <= 0 {
		return
	}
	d.stop = make(chan struct{})
	go d.watch(d.stop)
}

// watch drops the link once notifications stop for longer than the idle
// timeout. It stays quiet until the first notification, since the sender
// holds frames back until its calibration gate opens.
func (d *BLE) watch(stop <-chan struct{}) {
	ticker := time.NewTicker(max(d.idle/4, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if d.silent(now) {
				d.drop(fmt.Sprintf("no notifications for %v", d.idle))
				return
			}
		}
	}
}

func (d *BLE) silent(now time.Time) bool {
	last := d.last.Load()
	return last != 0 && now.Sub(time.Unix(0, last)) > d.idle
}

// onConnect receives link events from the adapter. Not every platform reports
// a disconnect initiated by the peripheral.
func (d *BLE) onConnect(device bluetooth.Device, connected bool) {
	peer := d.peer.Load()
	if connected || peer == nil || device.Address != *peer {
		return
	}
	d.drop("peripheral disconnected")
}

// drop ends the session after the link was lost. Consumers see the packets
// channel close.
func (d *BLE) drop(reason string) {
	disconnect, ok := d.shutdown()
	if !ok {
		return
	}
	log.Printf("Lost %s: %s", d.cfg.LocalName, reason)
	if disconnect == nil {
		return
	}
	if err := disconnect(); err != nil {
		log.Printf("Error disconnecting: %v", err)
	}
}

// shutdown closes the packets channel once and returns the disconnect
// function when a link was up. It reports false if already shut down.
func (d *BLE) shutdown() (func() error, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, false
	}
	d.closed = true
	close(d.packets)
	if d.stop != nil {
		close(d.stop)
	}

	if !d.connected {
		return nil, true
	}
	d.connected = false
	return d.disconnect, true
}

// scan blocks until a peripheral advertising the name or the service shows up.
func (d *BLE) scan() (bluetooth.Address, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	found := make(chan bluetooth.Address, 1)
	go func() {
		<-ctx.Done()
		d.adapter.StopScan()
	}()

	err := d.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
		if r.LocalName() != d.cfg.LocalName && !r.HasServiceUUID(d.service) {
			return
		}
		select {
		case found <- r.Address:
		default:
		}
		cancel()
	})
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("scan failed: %w", err)
	}

	select {
	case addr := <-found:
		return addr, nil
	default:
		return bluetooth.Address{}, fmt.Errorf("no %q peripheral found within %v", d.cfg.LocalName, d.timeout)
	}
}

// onNotify runs in the stack's context. Frames are dropped when the channel is full.
func (d *BLE) onNotify(buf []byte) {
	now := time.Now()
	d.last.Store(now.UnixNano())

	p, ok := newPacket(buf, now)
	if !ok {
		log.Printf("Ignoring %d-byte notification", len(buf))
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.packets <- p:
	default:
		log.Printf("Packets channel full, dropping frame")
	}
}

// Close disconnects and closes the packets channel.
func (d *BLE) Close() error {
	disconnect, _ := d.shutdown()
	if disconnect == nil {
		return nil
	}
	return disconnect()
}

// Packets returns the channel of received frames. It is closed when the link
// is lost or the receiver is closed.
func (d *BLE) Packets() <-chan Packet {
	return d.packets
}

// IsConnected returns whether notifications are enabled on a connected peer.
func (d *BLE) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}
