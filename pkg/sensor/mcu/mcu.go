//go:build tinygo

// Package mcu binds the on-board MPU6886 and an ADC pin to the sensor interfaces.
package mcu

import (
	"machine"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/mpu6886"

	"github.com/itohio/emgstream/pkg/sample"
	"github.com/itohio/emgstream/pkg/sensor"
)

var (
	_ sensor.Motion = (*IMU)(nil)
	_ sensor.Analog = (*ADC)(nil)
)

// IMU is the MPU6886 motion sensor.
type IMU struct {
	dev *mpu6886.Device
}

// NewIMU configures the MPU6886 on bus with the driver's default ranges.
func NewIMU(bus drivers.I2C) (*IMU, error) {
	dev := mpu6886.New(bus)
	if !dev.Connected() {
		return nil, sensor.ErrUnavailable
	}
	if err := dev.Configure(mpu6886.Config{}); err != nil {
		return nil, err
	}
	return &IMU{dev: dev}, nil
}

// Connected probes the chip identity register.
func (s *IMU) Connected() bool {
	return s.dev.Connected()
}

// ReadMotion reads acceleration (µg) and rotation (µ°/s) and converts them to g and deg/s.
func (s *IMU) ReadMotion() (sample.Motion, error) {
	ax, ay, az, err := s.dev.ReadAcceleration()
	if err != nil {
		return sample.Motion{}, err
	}
	gx, gy, gz, err := s.dev.ReadRotation()
	if err != nil {
		return sample.Motion{}, err
	}
	return sample.Motion{
		Accel: [3]float32{float32(ax) / 1e6, float32(ay) / 1e6, float32(az) / 1e6},
		Gyro:  [3]float32{float32(gx) / 1e6, float32(gy) / 1e6, float32(gz) / 1e6},
	}, nil
}

// ADC is the bio-signal input.
type ADC struct {
	adc machine.ADC
}

// NewADC configures pin as a 12-bit analog input.
func NewADC(pin machine.Pin) *ADC {
	pin.Configure(machine.PinConfig{Mode: machine.PinInput})
	a := &ADC{adc: machine.ADC{Pin: pin}}
	a.adc.Configure(machine.ADCConfig{Resolution: 12})
	return a
}

// ReadRaw returns the conversion as 0-4095. TinyGo scales every ADC reading to 16 bits.
func (a *ADC) ReadRaw() (uint16, error) {
	return a.adc.Get() >> 4, nil
}
