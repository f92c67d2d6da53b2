//go:build !tinygo

// Package ads1x15 samples the bio-signal electrode amplifier through an ADS1115 on a Linux host.
package ads1x15

import (
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"

	"github.com/itohio/emgstream/pkg/config"
	"github.com/itohio/emgstream/pkg/sensor"
)

var _ sensor.Analog = (*Channel)(nil)

// fullScale is the 12-bit range the wire format expects.
const fullScale = 4095

// Channel holds the latest conversion of one ADS1115 input.
//
// The ADS1115 tops out at 860 conversions per second, so it runs in continuous
// mode and ReadRaw returns the most recent value instead of blocking the
// sampling loop on a single-shot conversion.
type Channel struct {
	bus    i2c.BusCloser
	pin    ads1x15.PinADC
	vref   float64
	latest atomic.Uint32
	have   atomic.Bool // at least one conversion arrived
	alive  atomic.Bool // conversion goroutine still running
}

// Open starts continuous conversion on the configured channel.
func Open(cfg *config.SensorConfig) (*Channel, error) {
	ch, err := channel(cfg.ADCChannel)
	if err != nil {
		return nil, err
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("ads1x15: periph host init: %w", err)
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("ads1x15: open I2C bus %q: %w", cfg.I2CBus, err)
	}

	adc, err := ads1x15.NewADS1115(bus, &ads1x15.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("ads1x15: %w: %w", sensor.ErrUnavailable, err)
	}

	pin, err := adc.PinForChannel(ch, physic.ElectricPotential(cfg.ADCVRef*float64(physic.Volt)), 860*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("ads1x15: channel %d: %w", cfg.ADCChannel, err)
	}

	c := &Channel{
		bus:  bus,
		pin:  pin,
		vref: cfg.ADCVRef,
	}
	c.start(pin.ReadContinuous())
	return c, nil
}

func channel(i int) (ads1x15.Channel, error) {
	switch i {
	case 0:
		return ads1x15.Channel0, nil
	case 1:
		return ads1x15.Channel1, nil
	case 2:
		return ads1x15.Channel2, nil
	case 3:
		return ads1x15.Channel3, nil
	}
	return 0, fmt.Errorf("ads1x15: channel %d out of range 0-3", i)
}

func (c *Channel) start(samples <-chan analog.Sample) {
	c.alive.Store(true)
	go c.run(samples)
}

func (c *Channel) run(samples <-chan analog.Sample) {
	defer c.alive.Store(false)
	for s := range samples {
		c.latest.Store(uint32(toCounts(float64(s.V)/float64(physic.Volt), c.vref)))
		c.have.Store(true)
	}
}

// toCounts maps a voltage onto the 12-bit range of the wire format.
func toCounts(v, vref float64) uint16 {
	if vref <= 0 || v <= 0 {
		return 0
	}
	counts := v / vref * fullScale
	if counts > fullScale {
		return fullScale
	}
	return uint16(counts)
}

// ReadRaw returns the latest conversion. It fails until the first conversion
// arrives and after continuous conversion has stopped.
func (c *Channel) ReadRaw() (uint16, error) {
	if !c.alive.Load() {
		return 0, fmt.Errorf("ads1x15: %w: conversion stopped", sensor.ErrRead)
	}
	if !c.have.Load() {
		return 0, fmt.Errorf("ads1x15: %w: no conversion yet", sensor.ErrRead)
	}
	return uint16(c.latest.Load()), nil
}

// Close stops conversion and releases the bus.
func (c *Channel) Close() error {
	if err := c.pin.Halt(); err != nil {
		return err
	}
	return c.bus.Close()
}
