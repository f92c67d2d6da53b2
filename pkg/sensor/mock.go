package sensor

import (
	"errors"
	"sync"

	"github.com/chewxy/math32"

	"github.com/itohio/emgstream/pkg/config"
	"github.com/itohio/emgstream/pkg/sample"
)

var (
	_ Motion = (*Mock)(nil)
	_ Analog = (*Mock)(nil)
)

// errMockFault is returned by a Mock told to fail.
var errMockFault = errors.New("mock fault")

// Mock simulates the motion sensor and the bio-signal channel.
type Mock struct {
	mu        sync.Mutex
	cfg       config.MockConfig
	connected bool
	failures  int
	n         uint32 // readings taken, drives the synthetic wobble
}

// NewMock creates a connected Mock reporting the values in cfg.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		cfg = &config.MockConfig{
			Accel: [3]float32{0, 0, 1},
			Bio:   2048,
		}
	}
	return &Mock{cfg: *cfg, connected: true}
}

// SetConnected controls what Connected reports.
func (m *Mock) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

// Set replaces the reported values.
func (m *Mock) Set(accel, gyro [3]float32, bio uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Accel = accel
	m.cfg.Gyro = gyro
	m.cfg.Bio = bio
}

// FailNext makes the next n motion reads fail.
func (m *Mock) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

// Connected reports whether the simulated sensor is present.
func (m *Mock) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// ReadMotion returns the configured motion values plus the synthetic wobble.
func (m *Mock) ReadMotion() (sample.Motion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		return sample.Motion{}, errMockFault
	}

	m.n++
	w := m.wobble()

	var out sample.Motion
	for i := range 3 {
		out.Accel[i] = m.cfg.Accel[i] + w
		out.Gyro[i] = m.cfg.Gyro[i] + w
	}
	return out, nil
}

// ReadRaw returns the configured bio-signal value plus the synthetic wobble, limited to 12 bits.
func (m *Mock) ReadRaw() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := float32(m.cfg.Bio) + m.wobble()*100
	if v < 0 {
		v = 0
	} else if v > 4095 {
		v = 4095
	}
	return uint16(v), nil
}

// wobble is a deterministic ~7 Hz sine at 1 kHz sampling, scaled by the configured noise.
func (m *Mock) wobble() float32 {
	if m.cfg.Noise == 0 {
		return 0
	}
	return m.cfg.Noise * math32.Sin(float32(m.n)*2*math32.Pi/144)
}
