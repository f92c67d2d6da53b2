// Package clock decides when the next sample is due.
package clock

import "time"

// Clock is a free-running sample clock driven by a wrapping microsecond counter.
// A late caller gets exactly one tick; missed periods are absorbed, never replayed.
type Clock struct {
	period  uint32
	last    uint32
	started bool
	late    uint32
}

// New creates a Clock with the given period. Periods below 1µs are raised to 1µs.
func New(period time.Duration) *Clock {
	us := period.Microseconds()
	if us < 1 {
		us = 1
	}
	return &Clock{period: uint32(us)}
}

// Due reports whether a new sample is due at nowMicros and, if so, accepts the tick.
// The first call always fires.
func (c *Clock) Due(nowMicros uint32) bool {
	if !c.started {
		c.started = true
		c.last = nowMicros
		return true
	}

	// Unsigned subtraction stays correct across counter wraparound.
	elapsed := nowMicros - c.last
	if elapsed < c.period {
		return false
	}
	if elapsed >= 2*c.period {
		c.late++
	}
	c.last = nowMicros
	return true
}

// Period returns the sampling period in microseconds.
func (c *Clock) Period() uint32 {
	return c.period
}

// Late returns how many accepted ticks arrived at least one full period late.
func (c *Clock) Late() uint32 {
	return c.late
}

// Monotonic returns a wrapping microsecond counter starting at zero now.
func Monotonic() func() uint32 {
	start := time.Now()
	return func() uint32 {
		return uint32(time.Since(start).Microseconds())
	}
}
