//go:build tinygo

//go:generate tinygo flash -target=xiao-ble

package main

import (
	"context"
	"log"
	"machine"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/itohio/emgstream/pkg/clock"
	"github.com/itohio/emgstream/pkg/config"
	"github.com/itohio/emgstream/pkg/display"
	"github.com/itohio/emgstream/pkg/link"
	"github.com/itohio/emgstream/pkg/link/ble"
	"github.com/itohio/emgstream/pkg/link/serial"
	"github.com/itohio/emgstream/pkg/pipeline"
	"github.com/itohio/emgstream/pkg/sensor/mcu"
)

// state is written by the link and read by the sampling loop.
var state link.State

func main() {
	PIN_LED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_BUTTON.Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	cfg := config.Default()
	cfg.Calibration.Calibrated = STORED_CALIBRATION

	bus := machine.I2C0
	if err := bus.Configure(machine.I2CConfig{Frequency: I2C_FREQUENCY}); err != nil {
		halt("i2c", err)
	}

	imu, err := mcu.NewIMU(bus)
	if err != nil {
		halt("motion sensor", err)
	}
	bio := mcu.NewADC(PIN_BIO_ADC)

	stack, err := openLink(cfg)
	if err != nil {
		halt("link", err)
	}

	p, err := pipeline.New(cfg, imu, bio, stack, &state)
	if err != nil {
		halt("pipeline", err)
	}

	if err := PIN_BUTTON.SetInterrupt(machine.PinFalling, func(machine.Pin) {
		p.Gate().Press()
	}); err != nil {
		log.Printf("button interrupt unavailable: %v", err)
	}

	if err := stack.Advertise(); err != nil {
		halt("advertise", err)
	}

	go display.Log(context.Background(), p.Feed(), time.Second)

	p.Run(context.Background(), clock.Monotonic())
}

// openLink picks the frame transport. The SoftDevice caps notifications at
// 20 bytes, so frames go out over the UART to a bridge module unless the BLE
// link is selected and configured with a larger ATT MTU.
func openLink(cfg *config.Config) (link.Stack, error) {
	if !USE_UART_BRIDGE {
		cfg.Transport.Kind = config.TransportBLE
		return ble.New(&bluetooth.DefaultAdapter, &cfg.BLE, state.Handler())
	}

	cfg.Transport.Kind = config.TransportSerial
	uart := machine.UART0
	if err := uart.Configure(machine.UARTConfig{BaudRate: uint32(cfg.Serial.BaudRate)}); err != nil {
		return nil, err
	}
	log.Printf("streaming frames on UART0 at %d baud", cfg.Serial.BaudRate)
	return serial.NewStream(uart, state.Handler()), nil
}

// halt reports a fatal boot error and blinks the LED forever. Sampling never starts.
func halt(what string, err error) {
	for {
		log.Printf("%s: %v", what, err)
		for range 5 {
			PIN_LED.High()
			time.Sleep(FATAL_BLINK_MS * time.Millisecond)
			PIN_LED.Low()
			time.Sleep(FATAL_BLINK_MS * time.Millisecond)
		}
	}
}
