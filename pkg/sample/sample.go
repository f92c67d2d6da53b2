package sample

import (
	"math"

	"github.com/chewxy/math32"

	"github.com/itohio/emgstream/pkg/config"
)

// Channels is the number of 16-bit values in one Sample.
const Channels = 7

// Size is the wire size of one Sample in bytes.
const Size = Channels * 2

// Sample is one synchronized reading of all channels in fixed-point wire units.
type Sample struct {
	AccelX, AccelY, AccelZ int16 // g * 4096
	GyroX, GyroY, GyroZ    int16 // deg/s * 16.384
	Bio                    int16 // raw ADC, 0-4095
}

// Values returns the channels in wire order.
func (s Sample) Values() [Channels]int16 {
	return [Channels]int16{s.AccelX, s.AccelY, s.AccelZ, s.GyroX, s.GyroY, s.GyroZ, s.Bio}
}

// FromValues builds a Sample from channels in wire order.
func FromValues(v [Channels]int16) Sample {
	return Sample{
		AccelX: v[0], AccelY: v[1], AccelZ: v[2],
		GyroX: v[3], GyroY: v[4], GyroZ: v[5],
		Bio: v[6],
	}
}

// Motion is a calibrated motion reading in physical units as delivered by a sensor driver.
type Motion struct {
	Accel [3]float32 // g
	Gyro  [3]float32 // deg/s
}

// Scaler converts physical readings into fixed-point wire units.
type Scaler struct {
	accel float32
	gyro  float32
	wrap  bool
}

// NewScaler creates a Scaler from the scaling configuration.
func NewScaler(cfg *config.ScalingConfig) *Scaler {
	s := &Scaler{
		accel: cfg.AccelScale,
		gyro:  cfg.GyroScale,
		wrap:  cfg.Saturation == config.SaturationWrap,
	}
	if s.accel == 0 {
		s.accel = 4096
	}
	if s.gyro == 0 {
		s.gyro = 16.384
	}
	return s
}

// Scale converts a motion reading and a raw bio-signal value into a Sample.
// saturated reports whether any channel fell outside the int16 range (or was NaN).
func (s *Scaler) Scale(m Motion, bio uint16) (out Sample, saturated bool) {
	var v [Channels]int16
	for i := range 3 {
		var sat bool
		v[i], sat = s.fixed(m.Accel[i] * s.accel)
		saturated = saturated || sat
		v[3+i], sat = s.fixed(m.Gyro[i] * s.gyro)
		saturated = saturated || sat
	}

	// Bio is stored unmodified; a 12-bit converter never exceeds the int16 range.
	if bio > math.MaxInt16 {
		saturated = true
		if s.wrap {
			v[6] = int16(bio)
		} else {
			v[6] = math.MaxInt16
		}
	} else {
		v[6] = int16(bio)
	}

	return FromValues(v), saturated
}

// fixed truncates x toward zero into an int16 according to the saturation policy.
func (s *Scaler) fixed(x float32) (int16, bool) {
	if math32.IsNaN(x) {
		return 0, true
	}

	x = math32.Trunc(x)
	if x >= math.MinInt16 && x <= math.MaxInt16 {
		return int16(x), false
	}

	if !s.wrap || math32.IsInf(x, 0) {
		if x > 0 {
			return math.MaxInt16, true
		}
		return math.MinInt16, true
	}

	// Two's-complement truncation, matching a C (int16_t) cast.
	return int16(int64(x)), true
}

// Physical converts a Sample back to physical units using the given scales.
func Physical(s Sample, accelScale, gyroScale float32) (Motion, uint16) {
	return Motion{
		Accel: [3]float32{
			float32(s.AccelX) / accelScale,
			float32(s.AccelY) / accelScale,
			float32(s.AccelZ) / accelScale,
		},
		Gyro: [3]float32{
			float32(s.GyroX) / gyroScale,
			float32(s.GyroY) / gyroScale,
			float32(s.GyroZ) / gyroScale,
		},
	}, uint16(s.Bio)
}
