// Package sensor reads the motion and bio-signal channels and converts them to wire units.
package sensor

import (
	"errors"
	"fmt"

	"github.com/itohio/emgstream/pkg/sample"
)

var (
	// ErrUnavailable means no motion sensor was detected. It is fatal at boot.
	ErrUnavailable = errors.New("motion sensor not detected")
	// ErrRead wraps a failed reading; the sample is skipped, never zero-filled.
	ErrRead = errors.New("sensor read failed")
)

// Motion is a 6-axis motion sensor returning calibrated physical values.
type Motion interface {
	Connected() bool
	ReadMotion() (sample.Motion, error)
}

// Analog is a single-channel analog converter returning raw counts (0-4095).
type Analog interface {
	ReadRaw() (uint16, error)
}

// Acquisition pairs one motion reading with one bio-signal conversion per tick.
type Acquisition struct {
	motion    Motion
	analog    Analog
	scaler    *sample.Scaler
	saturated uint32
}

// NewAcquisition returns ErrUnavailable if the motion sensor is missing.
func NewAcquisition(m Motion, a Analog, scaler *sample.Scaler) (*Acquisition, error) {
	if m == nil || !m.Connected() {
		return nil, ErrUnavailable
	}
	if a == nil {
		return nil, fmt.Errorf("bio-signal channel: %w", ErrUnavailable)
	}
	return &Acquisition{motion: m, analog: a, scaler: scaler}, nil
}

// Read takes one sample. Out-of-range values are handled by the scaler's
// saturation policy and counted.
func (a *Acquisition) Read() (sample.Sample, error) {
	m, err := a.motion.ReadMotion()
	if err != nil {
		return sample.Sample{}, fmt.Errorf("%w: motion: %w", ErrRead, err)
	}
	bio, err := a.analog.ReadRaw()
	if err != nil {
		return sample.Sample{}, fmt.Errorf("%w: bio-signal: %w", ErrRead, err)
	}

	s, saturated := a.scaler.Scale(m, bio)
	if saturated {
		a.saturated++
	}
	return s, nil
}

// Saturated returns how many samples had at least one out-of-range channel.
func (a *Acquisition) Saturated() uint32 {
	return a.saturated
}
