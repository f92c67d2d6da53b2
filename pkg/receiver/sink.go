package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/itohio/emgstream/pkg/config"
)

// Sink forwards decoded readings somewhere else.
type Sink interface {
	Write(ctx context.Context, readings []Reading) error
	Close() error
}

// MetricsWriter is implemented by sinks that also forward derived metrics.
type MetricsWriter interface {
	WriteMetrics(ctx context.Context, at time.Time, summary Summary, stats Stats) error
}

var (
	_ Sink          = (*MQTT)(nil)
	_ Sink          = (*Influx)(nil)
	_ MetricsWriter = (*MQTT)(nil)
	_ MetricsWriter = (*Influx)(nil)
)

const publishTimeout = 2 * time.Second

// MQTT publishes each frame as one JSON message.
type MQTT struct {
	client mqtt.Client
	topic  string
}

// NewMQTT connects to the broker in cfg.
func NewMQTT(cfg *config.MonitorConfig) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClient).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.MQTTBroker, token.Error())
	}

	return &MQTT{client: client, topic: cfg.MQTTTopic}, nil
}

// Write publishes readings with QoS 0.
func (s *MQTT) Write(_ context.Context, readings []Reading) error {
	payload, err := encodeMessage(readings)
	if err != nil {
		return err
	}

	return s.publish(s.topic, payload)
}

// WriteMetrics publishes derived metrics to the "metrics" subtopic.
func (s *MQTT) WriteMetrics(_ context.Context, at time.Time, summary Summary, stats Stats) error {
	payload, err := json.Marshal(metricsFields(at, summary, stats))
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return s.publish(s.topic+"/metrics", payload)
}

func (s *MQTT) publish(topic string, payload []byte) error {
	token := s.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *MQTT) Close() error {
	s.client.Disconnect(250)
	return nil
}

type messageSample struct {
	Time  string     `json:"time"`
	Accel [3]float32 `json:"accel"`
	Gyro  [3]float32 `json:"gyro"`
	Bio   uint16     `json:"bio"`
}

type message struct {
	Seq     uint16          `json:"seq"`
	Samples []messageSample `json:"samples"`
}

func encodeMessage(readings []Reading) ([]byte, error) {
	if len(readings) == 0 {
		return nil, fmt.Errorf("no readings")
	}

	msg := message{
		Seq:     readings[0].Seq,
		Samples: make([]messageSample, len(readings)),
	}
	for i, r := range readings {
		msg.Samples[i] = messageSample{
			Time:  r.Timestamp.UTC().Format(time.RFC3339Nano),
			Accel: r.Accel,
			Gyro:  r.Gyro,
			Bio:   r.Bio,
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return payload, nil
}

// Influx writes one point per reading.
type Influx struct {
	client    influxdb2.Client
	write     api.WriteAPIBlocking
	device    string
	maxPoints int
	buf       []Reading
}

// NewInflux creates an Influx sink. Points are tagged with device.
func NewInflux(cfg *config.MonitorConfig, device string) *Influx {
	client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	return &Influx{
		client:    client,
		write:     client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBkt),
		device:    device,
		maxPoints: cfg.InfluxPointsPerFrame,
	}
}

// Write sends readings as "emg" points, decimated to the configured points per frame.
func (s *Influx) Write(ctx context.Context, readings []Reading) error {
	s.buf = Downsample(s.buf, readings, s.maxPoints)
	if err := s.write.WritePoint(ctx, points(s.device, s.buf)...); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

// WriteMetrics sends one "emg_metrics" point.
func (s *Influx) WriteMetrics(ctx context.Context, at time.Time, summary Summary, stats Stats) error {
	fields := metricsFields(at, summary, stats)
	delete(fields, "time")
	p := influxdb2.NewPoint("emg_metrics", map[string]string{"device": s.device}, fields, at)
	if err := s.write.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *Influx) Close() error {
	s.client.Close()
	return nil
}

func points(device string, readings []Reading) []*write.Point {
	out := make([]*write.Point, 0, len(readings))
	for _, r := range readings {
		out = append(out, influxdb2.NewPoint(
			"emg",
			map[string]string{"device": device},
			map[string]interface{}{
				"seq": int(r.Seq),
				"ax":  r.Accel[0],
				"ay":  r.Accel[1],
				"az":  r.Accel[2],
				"gx":  r.Gyro[0],
				"gy":  r.Gyro[1],
				"gz":  r.Gyro[2],
				"bio": r.Bio,
			},
			r.Timestamp,
		))
	}
	return out
}

// metricsFields flattens a summary and the loss counters. Windowed metrics
// are left out until their window has filled.
func metricsFields(at time.Time, summary Summary, stats Stats) map[string]interface{} {
	fields := map[string]interface{}{
		"time":           at.UTC().Format(time.RFC3339Nano),
		"frames":         stats.Frames,
		"lost":           stats.Lost,
		"loss_rate":      stats.LossRate(),
		"restarts":       stats.Restarts,
		"acc_magnitude":  summary.AccelMagnitude,
		"gyro_magnitude": summary.GyroMagnitude,
		"filtered_emg":   summary.FilteredBio,
	}
	if summary.HasBio {
		fields["emg_rms"] = summary.BioRMS
		fields["emg_mean"] = summary.BioMean
		fields["emg_std"] = summary.BioStd
		fields["emg_range"] = summary.BioRange
	}
	if summary.HasMotion {
		fields["motion_intensity"] = summary.MotionIntensity
	}
	if summary.HasActivity {
		fields["muscle_activity_ratio"] = summary.ActivityRatio
	}
	return fields
}
