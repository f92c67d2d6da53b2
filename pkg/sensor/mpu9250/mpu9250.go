//go:build !tinygo

// Package mpu9250 reads an MPU9250 over SPI on a Linux host.
package mpu9250

import (
	"fmt"
	"log"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/itohio/emgstream/pkg/config"
	"github.com/itohio/emgstream/pkg/sample"
	"github.com/itohio/emgstream/pkg/sensor"
)

var _ sensor.Motion = (*Sensor)(nil)

// Counts per unit for each full-scale range setting.
var (
	accelLSB = [4]float32{16384, 8192, 4096, 2048} // per g, ±2/4/8/16 g
	gyroLSB  = [4]float32{131, 65.5, 32.8, 16.4}   // per deg/s, ±250/500/1000/2000 deg/s
)

// Sensor is an initialized MPU9250.
type Sensor struct {
	imu      *mpu9250.MPU9250
	accelLSB float32
	gyroLSB  float32
}

// Open initializes the device described by cfg. Any failure to reach the chip
// is reported as sensor.ErrUnavailable.
func Open(cfg *config.SensorConfig) (*Sensor, error) {
	if cfg.AccelRange > 3 || cfg.GyroRange > 3 {
		return nil, fmt.Errorf("mpu9250: range out of bounds (accel=%d gyro=%d)", cfg.AccelRange, cfg.GyroRange)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: periph host init: %w", err)
	}

	cs := gpioreg.ByName(cfg.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("mpu9250: CS pin %q not found: %w", cfg.CSPin, sensor.ErrUnavailable)
	}

	tr, err := mpu9250.NewSpiTransport(cfg.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: SPI transport (%s): %w: %w", cfg.SPIDevice, sensor.ErrUnavailable, err)
	}

	imu, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: device creation: %w: %w", sensor.ErrUnavailable, err)
	}
	if err := imu.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: initialization: %w: %w", sensor.ErrUnavailable, err)
	}

	if err := imu.SetAccelRange(cfg.AccelRange); err != nil {
		return nil, fmt.Errorf("mpu9250: set accel range: %w", err)
	}
	if err := imu.SetGyroRange(cfg.GyroRange); err != nil {
		return nil, fmt.Errorf("mpu9250: set gyro range: %w", err)
	}
	log.Printf("mpu9250: accel range %d, gyro range %d", cfg.AccelRange, cfg.GyroRange)

	// Auto-calibration corrects the offsets in hardware; values read afterwards are corrected.
	if err := imu.Calibrate(); err != nil {
		log.Printf("mpu9250: WARNING: calibration failed: %v", err)
	}

	return &Sensor{
		imu:      imu,
		accelLSB: accelLSB[cfg.AccelRange],
		gyroLSB:  gyroLSB[cfg.GyroRange],
	}, nil
}

// Connected reports true once Open succeeded.
func (s *Sensor) Connected() bool {
	return s != nil && s.imu != nil
}

// ReadMotion reads all six axes.
func (s *Sensor) ReadMotion() (sample.Motion, error) {
	var raw [6]int16
	readers := [6]func() (int16, error){
		s.imu.GetAccelerationX, s.imu.GetAccelerationY, s.imu.GetAccelerationZ,
		s.imu.GetRotationX, s.imu.GetRotationY, s.imu.GetRotationZ,
	}
	for i, read := range readers {
		v, err := read()
		if err != nil {
			return sample.Motion{}, fmt.Errorf("mpu9250 axis %d: %w", i, err)
		}
		raw[i] = v
	}

	var m sample.Motion
	for i := range 3 {
		m.Accel[i] = float32(raw[i]) / s.accelLSB
		m.Gyro[i] = float32(raw[3+i]) / s.gyroLSB
	}
	return m, nil
}
