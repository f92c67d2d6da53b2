package receiver

import (
	"sort"
	"time"

	"github.com/chewxy/math32"
)

// Window sizes for derived metrics, in samples.
const (
	bioWindow      = 100
	motionWindow   = 10
	activityWindow = 50

	// activityMargin is how far above the baseline a bio count must be to
	// count as active.
	activityMargin = 50

	// Low-pass coefficients for the filtered values.
	bioAlpha = 0.1
	imuAlpha = 0.05
)

// LossRate returns lost frames as a percentage of all frames sent.
func (s Stats) LossRate() float64 {
	return float64(s.Lost) / float64(max(1, s.Frames+s.Lost)) * 100
}

// RateMeter measures the average sample rate since the first observed sample.
type RateMeter struct {
	every uint64
	first time.Time
	count uint64
}

// NewRateMeter creates a RateMeter that reports once every samples.
func NewRateMeter(every int) *RateMeter {
	if every <= 0 {
		every = 1
	}
	return &RateMeter{every: uint64(every)}
}

// Observe adds n samples received at at. It returns the average rate in Hz
// whenever the running count crosses a multiple of the report interval.
func (r *RateMeter) Observe(n int, at time.Time) (float64, bool) {
	if n <= 0 {
		return 0, false
	}
	if r.count == 0 {
		r.first = at
	}
	before := r.count / r.every
	r.count += uint64(n)
	if r.count/r.every == before {
		return 0, false
	}

	elapsed := at.Sub(r.first).Seconds()
	if elapsed <= 0 {
		return 0, true
	}
	return float64(r.count) / elapsed, true
}

// Count returns the number of samples observed.
func (r *RateMeter) Count() uint64 {
	return r.count
}

// Summary holds metrics derived from the most recent readings. The Has*
// flags are false until enough samples have arrived for the window.
type Summary struct {
	AccelMagnitude float32
	GyroMagnitude  float32

	HasBio   bool
	BioRMS   float32
	BioMean  float32
	BioStd   float32
	BioRange float32

	HasMotion       bool
	MotionIntensity float32

	HasActivity   bool
	ActivityRatio float32

	FilteredAccel [3]float32
	FilteredGyro  [3]float32
	FilteredBio   float32
}

// Metrics keeps sliding windows of recent readings and derives signal metrics.
type Metrics struct {
	bio   []float32
	accel [3][]float32

	filteredAccel [3]float32
	filteredGyro  [3]float32
	filteredBio   float32

	last    Reading
	scratch []float32
}

// NewMetrics creates an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		bio:     make([]float32, 0, bioWindow),
		scratch: make([]float32, 0, activityWindow),
	}
}

// Update adds readings and returns the metrics for the latest one.
func (m *Metrics) Update(readings []Reading) Summary {
	for _, r := range readings {
		m.add(r)
	}
	return m.Summary()
}

// Reset clears all windows and filter state.
func (m *Metrics) Reset() {
	*m = Metrics{bio: m.bio[:0], scratch: m.scratch[:0]}
}

func (m *Metrics) add(r Reading) {
	m.bio = push(m.bio, float32(r.Bio), bioWindow)
	for i := range m.accel {
		m.accel[i] = push(m.accel[i], r.Accel[i], motionWindow)
		m.filteredAccel[i] = imuAlpha*r.Accel[i] + (1-imuAlpha)*m.filteredAccel[i]
		m.filteredGyro[i] = imuAlpha*r.Gyro[i] + (1-imuAlpha)*m.filteredGyro[i]
	}
	m.filteredBio = bioAlpha*float32(r.Bio) + (1-bioAlpha)*m.filteredBio
	m.last = r
}

// Summary returns the metrics for the readings seen so far.
func (m *Metrics) Summary() Summary {
	s := Summary{
		AccelMagnitude: magnitude(m.last.Accel),
		GyroMagnitude:  magnitude(m.last.Gyro),
		FilteredAccel:  m.filteredAccel,
		FilteredGyro:   m.filteredGyro,
		FilteredBio:    m.filteredBio,
	}

	if len(m.bio) >= bioWindow {
		s.HasBio = true
		mean, variance := meanVar(m.bio)
		var sq float32
		lo, hi := m.bio[0], m.bio[0]
		for _, v := range m.bio {
			sq += v * v
			lo = math32.Min(lo, v)
			hi = math32.Max(hi, v)
		}
		s.BioRMS = math32.Sqrt(sq / float32(len(m.bio)))
		s.BioMean = mean
		s.BioStd = math32.Sqrt(variance)
		s.BioRange = hi - lo
	}

	if len(m.accel[0]) >= motionWindow {
		s.HasMotion = true
		for _, axis := range m.accel {
			_, v := meanVar(axis)
			s.MotionIntensity += v
		}
	}

	if len(m.bio) >= activityWindow {
		s.HasActivity = true
		recent := m.bio[len(m.bio)-activityWindow:]
		baseline := percentile(m.scratch[:0], recent, 10)
		active := 0
		for _, v := range recent {
			if v > baseline+activityMargin {
				active++
			}
		}
		s.ActivityRatio = float32(active) / float32(len(recent))
	}

	return s
}

// push appends v, dropping the oldest values beyond size.
func push(window []float32, v float32, size int) []float32 {
	if len(window) < size {
		return append(window, v)
	}
	copy(window, window[1:])
	window[len(window)-1] = v
	return window
}

func magnitude(v [3]float32) float32 {
	return math32.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// meanVar returns the mean and population variance of values.
func meanVar(values []float32) (float32, float32) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float32
	for _, v := range values {
		sum += v
	}
	mean := sum / float32(len(values))

	var ss float32
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return mean, ss / float32(len(values))
}

// percentile returns the p-th percentile of values, interpolating linearly
// between the closest ranks. scratch is reused for sorting.
func percentile(scratch, values []float32, p float32) float32 {
	if len(values) == 0 {
		return 0
	}
	sorted := append(scratch, values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := p / 100 * float32(len(sorted)-1)
	lo := int(math32.Floor(rank))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float32(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
