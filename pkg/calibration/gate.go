// Package calibration gates sampling while first-boot calibration runs.
package calibration

import (
	"sync/atomic"

	"github.com/itohio/emgstream/pkg/config"
)

type phase uint8

const (
	waiting  phase = iota // no stored calibration, waiting for the button
	counting              // button pressed, countdown running
	open                  // sampling allowed
)

// Gate suppresses sampling until calibration is available. With stored
// calibration it is open from boot; otherwise it waits for Press and then for a
// fixed countdown.
type Gate struct {
	countdown uint32 // µs
	pressed   atomic.Bool
	phase     phase
	start     uint32
}

// NewGate creates a Gate from cfg.
func NewGate(cfg *config.CalibrationConfig) *Gate {
	g := &Gate{countdown: uint32(cfg.Countdown.Microseconds())}
	if cfg.Calibrated {
		g.phase = open
	}
	return g
}

// Press records the external button signal. Safe to call from an interrupt or another goroutine.
func (g *Gate) Press() {
	g.pressed.Store(true)
}

// Active reports whether sampling must be suppressed at nowMicros.
// Only the sampling loop calls it.
func (g *Gate) Active(nowMicros uint32) bool {
	switch g.phase {
	case waiting:
		if !g.pressed.Load() {
			return true
		}
		g.phase = counting
		g.start = nowMicros
		return g.countdown > 0 || g.Active(nowMicros)
	case counting:
		if nowMicros-g.start < g.countdown {
			return true
		}
		g.phase = open
	}
	return false
}

// Remaining returns the whole seconds left in the countdown, rounded up.
// It is 0 when the gate is open or still waiting for the button.
func (g *Gate) Remaining(nowMicros uint32) int {
	if g.phase != counting {
		return 0
	}
	elapsed := nowMicros - g.start
	if elapsed >= g.countdown {
		return 0
	}
	left := g.countdown - elapsed
	return int((left + 999_999) / 1_000_000)
}

// Waiting reports whether the gate still needs the button press.
func (g *Gate) Waiting() bool {
	return g.phase == waiting
}
