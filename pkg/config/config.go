package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Saturation policies for fixed-point scaling.
const (
	SaturationClamp = "clamp"
	SaturationWrap  = "wrap"
)

// Sequence counter policies.
const (
	SequenceOnAttempt = "attempt" // advance after every attempted send
	SequenceOnSuccess = "success" // advance only when the stack accepted the frame
)

// Transport kinds.
const (
	TransportBLE    = "ble"
	TransportSerial = "serial"
	TransportStub   = "stub"
)

// Monitor sources.
const (
	SourceBLE    = "ble"
	SourceSerial = "serial"
	SourceMock   = "mock"
)

// Sensor kinds.
const (
	SensorMock    = "mock"
	SensorMPU9250 = "mpu9250"
)

// Config represents the application configuration.
type Config struct {
	Sampling    SamplingConfig    `yaml:"sampling"`
	Scaling     ScalingConfig     `yaml:"scaling"`
	Transport   TransportConfig   `yaml:"transport"`
	BLE         BLEConfig         `yaml:"ble"`
	Serial      SerialConfig      `yaml:"serial"`
	Sensor      SensorConfig      `yaml:"sensor"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Display     DisplayConfig     `yaml:"display"`
	Mock        MockConfig        `yaml:"mock"`
	Monitor     MonitorConfig     `yaml:"monitor"`
}

// SamplingConfig contains sample clock parameters.
type SamplingConfig struct {
	Period time.Duration `yaml:"period"` // 1ms = 1000 Hz
}

// ScalingConfig contains fixed-point conversion parameters.
type ScalingConfig struct {
	Saturation string  `yaml:"saturation"`  // "clamp" or "wrap"
	AccelScale float32 `yaml:"accel_scale"` // counts per g
	GyroScale  float32 `yaml:"gyro_scale"`  // counts per deg/s
}

// TransportConfig contains transport and connection lifecycle parameters.
type TransportConfig struct {
	Kind           string        `yaml:"kind"`            // "ble", "serial" or "stub"
	SequencePolicy string        `yaml:"sequence_policy"` // "attempt" or "success"
	SettleDelay    time.Duration `yaml:"settle_delay"`    // delay before re-advertising after disconnect
}

// BLEConfig contains the advertised service description.
type BLEConfig struct {
	LocalName          string `yaml:"local_name"`
	ServiceUUID        string `yaml:"service_uuid"`
	CharacteristicUUID string `yaml:"characteristic_uuid"`

	// ATTMTU is the negotiated ATT MTU of the link. Notifications longer than
	// ATTMTU-3 are rejected. 0 uses the platform default.
	ATTMTU int `yaml:"att_mtu"`
	// IdleTimeout is how long a streaming peripheral may stay silent before
	// the receiver treats the link as lost.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// SensorConfig selects and configures the motion and bio-signal sensors.
type SensorConfig struct {
	Kind       string  `yaml:"kind"` // "mock" or "mpu9250"
	SPIDevice  string  `yaml:"spi_device"`
	CSPin      string  `yaml:"cs_pin"`
	AccelRange byte    `yaml:"accel_range"` // 0=±2g, 1=±4g, 2=±8g, 3=±16g
	GyroRange  byte    `yaml:"gyro_range"`  // 0=±250, 1=±500, 2=±1000, 3=±2000 deg/s
	I2CBus     string  `yaml:"i2c_bus"`
	ADCChannel int     `yaml:"adc_channel"`
	ADCVRef    float64 `yaml:"adc_vref"` // full scale of the bio-signal channel (V)
}

// CalibrationConfig contains the first-boot calibration gate parameters.
type CalibrationConfig struct {
	Countdown  time.Duration `yaml:"countdown"`
	Calibrated bool          `yaml:"calibrated"` // stored calibration present, gate open at boot
}

// DisplayConfig contains display feed parameters.
type DisplayConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// MockConfig contains mock sensor configuration.
type MockConfig struct {
	Accel [3]float32 `yaml:"accel"` // g
	Gyro  [3]float32 `yaml:"gyro"`  // deg/s
	Bio   uint16     `yaml:"bio"`   // raw ADC
	Noise float32    `yaml:"noise"` // amplitude of the synthetic wobble on every channel
}

// MonitorConfig contains receiver-side configuration.
type MonitorConfig struct {
	Source      string `yaml:"source"` // "ble", "serial" or "mock"
	MQTTBroker  string `yaml:"mqtt_broker"`
	MQTTTopic   string `yaml:"mqtt_topic"`
	MQTTClient  string `yaml:"mqtt_client_id"`
	InfluxURL   string `yaml:"influx_url"`
	InfluxToken string `yaml:"influx_token"`
	InfluxOrg   string `yaml:"influx_org"`
	InfluxBkt   string `yaml:"influx_bucket"`

	InfluxPointsPerFrame int `yaml:"influx_points_per_frame"` // 0 writes every sample
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Sampling: SamplingConfig{
			Period: time.Millisecond,
		},
		Scaling: ScalingConfig{
			Saturation: SaturationClamp,
			AccelScale: 4096,   // ±8g full scale
			GyroScale:  16.384, // ±2000 deg/s full scale
		},
		Transport: TransportConfig{
			Kind:           TransportBLE,
			SequencePolicy: SequenceOnAttempt,
			SettleDelay:    500 * time.Millisecond,
		},
		BLE: BLEConfig{
			LocalName:          "M5-IMU-EMG-1000Hz",
			ServiceUUID:        "12345678-1234-1234-1234-123456789abc",
			CharacteristicUUID: "87654321-4321-4321-4321-cba987654321",
			IdleTimeout:        2 * time.Second,
		},
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 921600,
		},
		Sensor: SensorConfig{
			Kind:       SensorMock,
			SPIDevice:  "/dev/spidev0.0",
			CSPin:      "GPIO8",
			AccelRange: 2,
			GyroRange:  3,
			I2CBus:     "",
			ADCChannel: 0,
			ADCVRef:    3.3,
		},
		Calibration: CalibrationConfig{
			Countdown:  3 * time.Second,
			Calibrated: true,
		},
		Display: DisplayConfig{
			RefreshInterval: 100 * time.Millisecond,
		},
		Mock: MockConfig{
			Accel: [3]float32{0, 0, 1},
			Gyro:  [3]float32{0, 0, 0},
			Bio:   2048,
			Noise: 0,
		},
		Monitor: MonitorConfig{
			Source:     SourceBLE,
			MQTTTopic:  "emgstream/samples",
			MQTTClient: "emgstream-monitor",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects policy values the core does not know.
func (c *Config) Validate() error {
	switch c.Scaling.Saturation {
	case SaturationClamp, SaturationWrap:
	default:
		return fmt.Errorf("invalid scaling.saturation %q (want %q or %q)", c.Scaling.Saturation, SaturationClamp, SaturationWrap)
	}

	switch c.Transport.SequencePolicy {
	case SequenceOnAttempt, SequenceOnSuccess:
	default:
		return fmt.Errorf("invalid transport.sequence_policy %q (want %q or %q)", c.Transport.SequencePolicy, SequenceOnAttempt, SequenceOnSuccess)
	}

	switch c.Transport.Kind {
	case TransportBLE, TransportSerial, TransportStub:
	default:
		return fmt.Errorf("invalid transport.kind %q", c.Transport.Kind)
	}

	if c.BLE.ATTMTU < 0 || (c.BLE.ATTMTU > 0 && c.BLE.ATTMTU < 23) {
		return fmt.Errorf("invalid ble.att_mtu %d: the minimum is 23", c.BLE.ATTMTU)
	}

	switch c.Monitor.Source {
	case SourceBLE, SourceSerial, SourceMock:
	default:
		return fmt.Errorf("invalid monitor.source %q", c.Monitor.Source)
	}

	if c.Sampling.Period < time.Microsecond {
		return fmt.Errorf("sampling.period %v is below 1µs", c.Sampling.Period)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Sampling.Period == 0 {
		c.Sampling.Period = def.Sampling.Period
	}

	if c.Scaling.Saturation == "" {
		c.Scaling.Saturation = def.Scaling.Saturation
	}
	if c.Scaling.AccelScale == 0 {
		c.Scaling.AccelScale = def.Scaling.AccelScale
	}
	if c.Scaling.GyroScale == 0 {
		c.Scaling.GyroScale = def.Scaling.GyroScale
	}

	if c.Transport.Kind == "" {
		c.Transport.Kind = def.Transport.Kind
	}
	if c.Transport.SequencePolicy == "" {
		c.Transport.SequencePolicy = def.Transport.SequencePolicy
	}
	if c.Transport.SettleDelay == 0 {
		c.Transport.SettleDelay = def.Transport.SettleDelay
	}

	if c.BLE.LocalName == "" {
		c.BLE.LocalName = def.BLE.LocalName
	}
	if c.BLE.ServiceUUID == "" {
		c.BLE.ServiceUUID = def.BLE.ServiceUUID
	}
	if c.BLE.CharacteristicUUID == "" {
		c.BLE.CharacteristicUUID = def.BLE.CharacteristicUUID
	}
	if c.BLE.IdleTimeout == 0 {
		c.BLE.IdleTimeout = def.BLE.IdleTimeout
	}

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Sensor.Kind == "" {
		c.Sensor.Kind = def.Sensor.Kind
	}
	if c.Sensor.SPIDevice == "" {
		c.Sensor.SPIDevice = def.Sensor.SPIDevice
	}
	if c.Sensor.CSPin == "" {
		c.Sensor.CSPin = def.Sensor.CSPin
	}
	if c.Sensor.ADCVRef == 0 {
		c.Sensor.ADCVRef = def.Sensor.ADCVRef
	}

	if c.Calibration.Countdown == 0 {
		c.Calibration.Countdown = def.Calibration.Countdown
	}

	if c.Display.RefreshInterval == 0 {
		c.Display.RefreshInterval = def.Display.RefreshInterval
	}

	if c.Monitor.Source == "" {
		c.Monitor.Source = def.Monitor.Source
	}
	if c.Monitor.MQTTTopic == "" {
		c.Monitor.MQTTTopic = def.Monitor.MQTTTopic
	}
	if c.Monitor.MQTTClient == "" {
		c.Monitor.MQTTClient = def.Monitor.MQTTClient
	}
}
