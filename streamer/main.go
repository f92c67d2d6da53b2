//go:build !tinygo

// Command streamer runs the sampling pipeline on a host with periph-supported
// sensors, or on a simulated sensor, and streams frames over BLE or a serial port.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/itohio/emgstream/pkg/clock"
	"github.com/itohio/emgstream/pkg/config"
	"github.com/itohio/emgstream/pkg/display"
	"github.com/itohio/emgstream/pkg/link"
	"github.com/itohio/emgstream/pkg/link/ble"
	"github.com/itohio/emgstream/pkg/link/serial"
	"github.com/itohio/emgstream/pkg/link/stub"
	"github.com/itohio/emgstream/pkg/pipeline"
	"github.com/itohio/emgstream/pkg/sensor"
	"github.com/itohio/emgstream/pkg/sensor/ads1x15"
	"github.com/itohio/emgstream/pkg/sensor/mpu9250"
)

func main() {
	var (
		configFlag    = flag.String("config", "config.yaml", "Configuration file path")
		transportFlag = flag.String("transport", "", "Transport override (ble, serial or stub)")
		portFlag      = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		mockFlag      = flag.Bool("mock", false, "Use the simulated sensor")
		writeFlag     = flag.Bool("write-config", false, "Write the effective configuration to -config and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *transportFlag != "" {
		cfg.Transport.Kind = *transportFlag
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *mockFlag {
		cfg.Sensor.Kind = config.SensorMock
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *writeFlag {
		if err := cfg.Save(*configFlag); err != nil {
			log.Fatalf("Failed to save configuration: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	motion, analog, closeSensors, err := openSensors(cfg)
	if err != nil {
		return err
	}
	defer closeSensors()

	state := &link.State{}
	stack, err := openTransport(cfg, state)
	if err != nil {
		return err
	}
	if c, ok := stack.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				log.Printf("Error closing transport: %v", err)
			}
		}()
	}

	p, err := pipeline.New(cfg, motion, analog, stack, state)
	if err != nil {
		return err
	}

	if !cfg.Calibration.Calibrated {
		log.Printf("Keep the sensor still and press Enter to calibrate")
		go pressOnEnter(p)
	}

	go display.Log(ctx, p.Feed(), time.Second)

	log.Printf("Streaming at %v per sample over %s", cfg.Sampling.Period, cfg.Transport.Kind)
	return p.Run(ctx, clock.Monotonic())
}

func openSensors(cfg *config.Config) (sensor.Motion, sensor.Analog, func(), error) {
	switch cfg.Sensor.Kind {
	case config.SensorMock:
		m := sensor.NewMock(&cfg.Mock)
		return m, m, func() {}, nil
	case config.SensorMPU9250:
		imu, err := mpu9250.Open(&cfg.Sensor)
		if err != nil {
			return nil, nil, nil, err
		}
		adc, err := ads1x15.Open(&cfg.Sensor)
		if err != nil {
			return nil, nil, nil, err
		}
		return imu, adc, func() {
			if err := adc.Close(); err != nil {
				log.Printf("Error closing ADC: %v", err)
			}
		}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown sensor kind %q", cfg.Sensor.Kind)
	}
}

func openTransport(cfg *config.Config, state *link.State) (link.Stack, error) {
	switch cfg.Transport.Kind {
	case config.TransportBLE:
		s, err := ble.New(&bluetooth.DefaultAdapter, &cfg.BLE, state.Handler())
		if err != nil {
			return nil, err
		}
		if err := s.Advertise(); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case config.TransportSerial:
		return serial.Open(&cfg.Serial, state.Handler())
	default:
		s := stub.New(state.Handler())
		s.Connect()
		return s, nil
	}
}

// pressOnEnter stands in for the calibration button.
func pressOnEnter(p *pipeline.Pipeline) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		log.Printf("Calibration requested")
		p.Gate().Press()
	}
}
