package receiver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/emgstream/pkg/batch"
	"github.com/itohio/emgstream/pkg/config"
	"github.com/itohio/emgstream/pkg/frame"
	"github.com/itohio/emgstream/pkg/sample"
)

// wrapLossWindow is the largest gap ending at sequence 0 that still counts as
// loss rather than a restart.
const wrapLossWindow = 64

// ErrBadFrame is returned for frames that cannot be decoded.
var ErrBadFrame = errors.New("bad frame")

// Reading is one decoded sample in physical units.
type Reading struct {
	Timestamp time.Time
	Seq       uint16
	Index     int        // position within the frame
	Accel     [3]float32 // g
	Gyro      [3]float32 // deg/s
	Bio       uint16     // raw ADC
	Raw       sample.Sample
}

// Stats are receiver-side counters.
type Stats struct {
	Frames    uint64 // frames decoded
	Lost      uint64 // frames missing from the sequence
	Restarts  uint64 // sequence restarts (sender reconnected or rebooted)
	BadFrames uint64 // frames that failed to decode
}

// Tracker decodes frames and accounts for sequence gaps.
type Tracker struct {
	accelScale float32
	gyroScale  float32
	period     time.Duration

	mu      sync.RWMutex
	started bool
	expect  uint16
	stats   Stats

	callbacks []func(readings []Reading, stats Stats)
	cbMu      sync.RWMutex

	shutdown bool
}

// NewTracker creates a Tracker using the sender's scaling and sampling period.
func NewTracker(cfg *config.Config) *Tracker {
	return &Tracker{
		accelScale: cfg.Scaling.AccelScale,
		gyroScale:  cfg.Scaling.GyroScale,
		period:     cfg.Sampling.Period,
	}
}

// Accept decodes one frame received at the given time. Samples are stamped
// backwards from the arrival time, one period apart.
func (t *Tracker) Accept(data []byte, at time.Time) ([]Reading, error) {
	seq, samples, err := frame.Decode(data)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		t.stats.BadFrames++
		return nil, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}

	t.account(seq)

	readings := make([]Reading, batch.Capacity)
	for i, s := range samples {
		m, bio := sample.Physical(s, t.accelScale, t.gyroScale)
		readings[i] = Reading{
			Timestamp: at.Add(-time.Duration(batch.Capacity-1-i) * t.period),
			Seq:       seq,
			Index:     i,
			Accel:     m.Accel,
			Gyro:      m.Gyro,
			Bio:       bio,
			Raw:       s,
		}
	}
	return readings, nil
}

// account updates loss counters for seq. Sequence numbers wrap at 65536.
func (t *Tracker) account(seq uint16) {
	t.stats.Frames++
	defer func() {
		t.started = true
		t.expect = seq + 1
	}()

	if !t.started {
		return
	}

	gap := seq - t.expect
	switch {
	case gap == 0:
	case gap >= 0x8000 || (seq == 0 && gap > wrapLossWindow):
		// Counter went backwards or restarted from zero. Zero shortly after
		// the expected one is ordinary loss across the wrap.
		t.stats.Restarts++
	default:
		t.stats.Lost += uint64(gap)
	}
}

// Reset forgets the expected sequence number, e.g. after reconnecting.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = false
}

// Stats returns the current counters.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// Process decodes packets from input until it closes, notifying callbacks for each frame.
func (t *Tracker) Process(input <-chan Packet) {
	for p := range input {
		readings, err := t.Accept(p.Data[:], p.Timestamp)
		if err != nil {
			continue
		}
		t.notifyCallbacks(readings)
	}

	t.mu.Lock()
	t.shutdown = true
	t.mu.Unlock()
}

// OnUpdate registers a callback called with each decoded frame.
func (t *Tracker) OnUpdate(callback func(readings []Reading, stats Stats)) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.callbacks = append(t.callbacks, callback)
}

func (t *Tracker) notifyCallbacks(readings []Reading) {
	t.mu.RLock()
	if t.shutdown {
		t.mu.RUnlock()
		return
	}
	stats := t.stats
	t.mu.RUnlock()

	t.cbMu.RLock()
	callbacks := make([]func(readings []Reading, stats Stats), len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.cbMu.RUnlock()

	for _, cb := range callbacks {
		cb(readings, stats)
	}
}
