// Package link tracks the peer connection and delivers frames to the wireless stack.
package link

import (
	"errors"
	"sync/atomic"
)

// ErrNotConnected is returned by stacks asked to notify without a peer.
var ErrNotConnected = errors.New("no peer connected")

// ConnState is the peer connection state.
type ConnState uint8

const (
	Disconnected ConnState = iota
	Connected
)

func (s ConnState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// State is the connection state cell shared between the radio callback context
// (writer) and the sampling loop (reader).
//
// The connected flag and a connect generation are packed into one atomic word so a
// reader never sees a torn pair; the generation lets the reader notice a
// disconnect/reconnect that happened entirely between two observations.
type State struct {
	word atomic.Uint64 // generation<<1 | connected
}

// Set records a connect or disconnect event. Every connect starts a new generation.
// Safe to call from any goroutine or interrupt-driven callback.
func (s *State) Set(connected bool) {
	for {
		old := s.word.Load()
		gen := old >> 1
		var next uint64
		if connected {
			next = (gen+1)<<1 | 1
		} else {
			next = gen << 1
		}
		if s.word.CompareAndSwap(old, next) {
			return
		}
	}
}

// Handler adapts Set to the callback shape used by stacks.
func (s *State) Handler() func(connected bool) {
	return s.Set
}

// Get returns the current connection state.
func (s *State) Get() ConnState {
	if s.word.Load()&1 == 1 {
		return Connected
	}
	return Disconnected
}

// Connected reports whether a peer is currently connected.
func (s *State) Connected() bool {
	return s.Get() == Connected
}

func (s *State) load() (connected bool, gen uint64) {
	w := s.word.Load()
	return w&1 == 1, w >> 1
}
