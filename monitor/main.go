//go:build !tinygo

// Command monitor receives frames from a streaming device, reports sequence loss
// and forwards readings to MQTT and InfluxDB.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/itohio/emgstream/pkg/config"
	"github.com/itohio/emgstream/pkg/receiver"
)

const (
	// statsEvery is how many frames pass between stats log lines.
	statsEvery = 100
	// rateEvery is how many samples pass between data rate log lines,
	// about once a second at 1 kHz.
	rateEvery = 1000
)

func main() {
	var (
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		sourceFlag = flag.String("source", "", "Source override (ble, serial or mock)")
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		listFlag   = flag.Bool("list", false, "List serial ports and exit")
		mqttFlag   = flag.String("mqtt", "", "MQTT broker override (e.g., tcp://localhost:1883)")
		influxFlag = flag.String("influx", "", "InfluxDB URL override")
		scanFlag   = flag.Duration("scan-timeout", 30*time.Second, "How long to scan for the BLE peripheral")
	)
	flag.Parse()

	if *listFlag {
		ports, err := receiver.Ports()
		if err != nil {
			log.Fatal(err)
		}
		for _, p := range ports {
			fmt.Printf("%s\t%s\n", p.Name, p.Description)
		}
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *sourceFlag != "" {
		cfg.Monitor.Source = *sourceFlag
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *mqttFlag != "" {
		cfg.Monitor.MQTTBroker = *mqttFlag
	}
	if *influxFlag != "" {
		cfg.Monitor.InfluxURL = *influxFlag
	}

	device, err := openDevice(cfg, *scanFlag)
	if err != nil {
		log.Fatal(err)
	}

	sinks, err := openSinks(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				log.Printf("Error closing sink: %v", err)
			}
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := device.Connect(); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	tracker := receiver.NewTracker(cfg)
	metrics := receiver.NewMetrics()
	rate := receiver.NewRateMeter(rateEvery)
	var frames uint64
	tracker.OnUpdate(func(readings []receiver.Reading, stats receiver.Stats) {
		for _, s := range sinks {
			if err := s.Write(ctx, readings); err != nil {
				log.Printf("Sink error: %v", err)
			}
		}

		last := readings[len(readings)-1]
		summary := metrics.Update(readings)
		if hz, ok := rate.Observe(len(readings), last.Timestamp); ok {
			log.Printf("Data count: %d, rate: %.1f Hz", rate.Count(), hz)
		}

		frames++
		if frames%statsEvery != 0 {
			return
		}

		log.Printf("seq=%d frames=%d lost=%d (%.1f%%) restarts=%d bad=%d acc=(%.3f,%.3f,%.3f) gyro=(%.1f,%.1f,%.1f) bio=%d",
			last.Seq, stats.Frames, stats.Lost, stats.LossRate(), stats.Restarts, stats.BadFrames,
			last.Accel[0], last.Accel[1], last.Accel[2],
			last.Gyro[0], last.Gyro[1], last.Gyro[2], last.Bio)
		logSummary(summary)

		for _, s := range sinks {
			mw, ok := s.(receiver.MetricsWriter)
			if !ok {
				continue
			}
			if err := mw.WriteMetrics(ctx, last.Timestamp, summary, stats); err != nil {
				log.Printf("Sink error: %v", err)
			}
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		tracker.Process(device.Packets())
	}()

	select {
	case <-ctx.Done():
	case <-done:
		log.Printf("Device stopped sending")
	}

	if err := device.Close(); err != nil {
		log.Printf("Error closing device: %v", err)
	}
	<-done

	st := tracker.Stats()
	log.Printf("Received %d frames, lost %d (%.1f%%), %d restarts, %d bad",
		st.Frames, st.Lost, st.LossRate(), st.Restarts, st.BadFrames)
}

func logSummary(s receiver.Summary) {
	log.Printf("|acc|=%.3f g |gyro|=%.1f deg/s filtered bio=%.1f", s.AccelMagnitude, s.GyroMagnitude, s.FilteredBio)
	if s.HasBio {
		log.Printf("bio rms=%.1f mean=%.1f std=%.1f range=%.0f", s.BioRMS, s.BioMean, s.BioStd, s.BioRange)
	}
	if s.HasMotion && s.HasActivity {
		log.Printf("motion=%.4f activity=%.0f%%", s.MotionIntensity, s.ActivityRatio*100)
	}
}

func openDevice(cfg *config.Config, scanTimeout time.Duration) (receiver.Device, error) {
	switch cfg.Monitor.Source {
	case config.SourceBLE:
		return receiver.NewBLE(&bluetooth.DefaultAdapter, &cfg.BLE, scanTimeout)
	case config.SourceSerial:
		return receiver.NewSerial(cfg.Serial.Port, cfg.Serial.BaudRate, 0), nil
	case config.SourceMock:
		return receiver.NewMock(cfg), nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Monitor.Source)
	}
}

func openSinks(cfg *config.Config) ([]receiver.Sink, error) {
	var sinks []receiver.Sink

	if cfg.Monitor.MQTTBroker != "" {
		s, err := receiver.NewMQTT(&cfg.Monitor)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Monitor.InfluxURL != "" {
		sinks = append(sinks, receiver.NewInflux(&cfg.Monitor, cfg.BLE.LocalName))
	}

	return sinks, nil
}
