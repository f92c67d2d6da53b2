// Package ble exposes frames as notifications of a single GATT characteristic.
package ble

import (
	"errors"
	"fmt"
	"log"

	"tinygo.org/x/bluetooth"

	"github.com/itohio/emgstream/pkg/config"
	"github.com/itohio/emgstream/pkg/frame"
	"github.com/itohio/emgstream/pkg/link"
)

var _ link.Stack = (*Stack)(nil)

// ErrFrameTooLarge is returned when a frame does not fit one notification.
var ErrFrameTooLarge = errors.New("frame exceeds notification payload")

// attHeader is the ATT notification opcode and handle.
const attHeader = 3

// Stack is a BLE peripheral with one discoverable service and one read+notify characteristic.
type Stack struct {
	adv     *bluetooth.Advertisement
	char    bluetooth.Characteristic
	payload int
	unwatch func() error
}

// payloadFor returns the notification payload for an ATT MTU, using the
// platform default for 0.
func payloadFor(mtu int) int {
	if mtu == 0 {
		mtu = defaultATTMTU
	}
	return mtu - attHeader
}

// New enables adapter, registers the service described by cfg and configures
// advertising. onConn is called from the stack's own context on every
// connect and disconnect.
//
// A frame must fit one notification, so New fails when the ATT MTU of the
// platform (or cfg.ATTMTU) is too small for frame.Size.
func New(adapter *bluetooth.Adapter, cfg *config.BLEConfig, onConn func(connected bool)) (*Stack, error) {
	payload := payloadFor(cfg.ATTMTU)
	if payload < frame.Size {
		return nil, fmt.Errorf("%w: %d-byte frames, %d-byte payload", ErrFrameTooLarge, frame.Size, payload)
	}

	svcUUID, err := bluetooth.ParseUUID(cfg.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", cfg.ServiceUUID, err)
	}
	charUUID, err := bluetooth.ParseUUID(cfg.CharacteristicUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", cfg.CharacteristicUUID, err)
	}

	// Must be registered before the adapter starts accepting peers.
	unwatch, err := watchPeers(adapter, onConn)
	if err != nil {
		return nil, fmt.Errorf("failed to watch peer connections: %w", err)
	}
	s := &Stack{payload: payload, unwatch: unwatch}

	if err := adapter.Enable(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to enable BLE adapter: %w", err)
	}

	err = adapter.AddService(&bluetooth.Service{
		UUID: svcUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &s.char,
				UUID:   charUUID,
				Value:  make([]byte, frame.Size),
				Flags:  bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicNotifyPermission,
			},
		},
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to add service: %w", err)
	}

	s.adv = adapter.DefaultAdvertisement()
	err = s.adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    cfg.LocalName,
		ServiceUUIDs: []bluetooth.UUID{svcUUID},
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to configure advertisement: %w", err)
	}

	log.Printf("ble: service %s ready as %q, %d-byte notifications", cfg.ServiceUUID, cfg.LocalName, payload)
	return s, nil
}

// Notify writes frame to the characteristic, which notifies subscribed peers.
// Frames longer than one notification are rejected instead of truncated.
func (s *Stack) Notify(frame []byte) error {
	if len(frame) > s.payload {
		return fmt.Errorf("%w: %d bytes, %d allowed", ErrFrameTooLarge, len(frame), s.payload)
	}
	_, err := s.char.Write(frame)
	return err
}

// Advertise (re)starts advertising so a new peer can connect.
func (s *Stack) Advertise() error {
	// Some stacks keep advertising after a disconnect and refuse a second Start.
	_ = s.adv.Stop()
	if err := s.adv.Start(); err != nil {
		return fmt.Errorf("failed to start advertising: %w", err)
	}
	return nil
}

// Close stops watching peer connections.
func (s *Stack) Close() error {
	if s.unwatch == nil {
		return nil
	}
	err := s.unwatch()
	s.unwatch = nil
	return err
}
