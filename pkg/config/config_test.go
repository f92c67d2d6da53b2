package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, time.Millisecond, cfg.Sampling.Period)
	assert.Equal(t, SaturationClamp, cfg.Scaling.Saturation)
	assert.Equal(t, float32(4096), cfg.Scaling.AccelScale)
	assert.Equal(t, float32(16.384), cfg.Scaling.GyroScale)
	assert.Equal(t, TransportBLE, cfg.Transport.Kind)
	assert.Equal(t, SequenceOnAttempt, cfg.Transport.SequencePolicy)
	assert.Equal(t, 500*time.Millisecond, cfg.Transport.SettleDelay)
	assert.Equal(t, "M5-IMU-EMG-1000Hz", cfg.BLE.LocalName)
	assert.Equal(t, "12345678-1234-1234-1234-123456789abc", cfg.BLE.ServiceUUID)
	assert.Equal(t, "87654321-4321-4321-4321-cba987654321", cfg.BLE.CharacteristicUUID)
	assert.Equal(t, 3*time.Second, cfg.Calibration.Countdown)
	assert.True(t, cfg.Calibration.Calibrated)
	assert.Equal(t, 100*time.Millisecond, cfg.Display.RefreshInterval)
	assert.Equal(t, SourceBLE, cfg.Monitor.Source)
	assert.Equal(t, 2*time.Second, cfg.BLE.IdleTimeout)
	assert.Zero(t, cfg.BLE.ATTMTU)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "M5-IMU-EMG-1000Hz", cfg.BLE.LocalName)
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
sampling:
  period: 2ms

scaling:
  saturation: wrap

transport:
  kind: serial
  sequence_policy: success
  settle_delay: 250ms

serial:
  port: "/dev/ttyUSB1"
  baud_rate: 460800

sensor:
  kind: mpu9250
  accel_range: 3

calibration:
  countdown: 5s
  calibrated: false

mock:
  accel: [1, 0, -1]
  gyro: [0, 0, 0]
  bio: 1000
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, 2*time.Millisecond, cfg.Sampling.Period)
	assert.Equal(t, SaturationWrap, cfg.Scaling.Saturation)
	assert.Equal(t, TransportSerial, cfg.Transport.Kind)
	assert.Equal(t, SequenceOnSuccess, cfg.Transport.SequencePolicy)
	assert.Equal(t, 250*time.Millisecond, cfg.Transport.SettleDelay)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Port)
	assert.Equal(t, 460800, cfg.Serial.BaudRate)
	assert.Equal(t, SensorMPU9250, cfg.Sensor.Kind)
	assert.Equal(t, byte(3), cfg.Sensor.AccelRange)
	assert.Equal(t, 5*time.Second, cfg.Calibration.Countdown)
	assert.False(t, cfg.Calibration.Calibrated)
	assert.Equal(t, [3]float32{1, 0, -1}, cfg.Mock.Accel)
	assert.Equal(t, uint16(1000), cfg.Mock.Bio)
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.WriteString("invalid: yaml: content: [")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_UnknownPolicy(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "saturation",
			content: "scaling:\n  saturation: bounce\n",
		},
		{
			name:    "sequence policy",
			content: "transport:\n  sequence_policy: sometimes\n",
		},
		{
			name:    "transport kind",
			content: "transport:\n  kind: carrier-pigeon\n",
		},
		{
			name:    "att mtu",
			content: "ble:\n  att_mtu: 20\n",
		},
		{
			name:    "monitor source",
			content: "monitor:\n  source: stub\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
			require.NoError(t, err)
			defer os.Remove(tmpfile.Name())

			_, err = tmpfile.WriteString(tt.content)
			require.NoError(t, err)
			require.NoError(t, tmpfile.Close())

			cfg, err := Load(tmpfile.Name())
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestLoad_PartialYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
serial:
  port: "/dev/ttyUSB0"
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// Should use defaults for missing fields
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 921600, cfg.Serial.BaudRate)
	assert.Equal(t, time.Millisecond, cfg.Sampling.Period)
	assert.Equal(t, SequenceOnAttempt, cfg.Transport.SequencePolicy)
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Transport.SettleDelay = time.Second

	tmpfile, err := os.CreateTemp("", "test_save_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	err = cfg.Save(tmpfile.Name())
	require.NoError(t, err)

	loaded, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", loaded.Serial.Port)
	assert.Equal(t, time.Second, loaded.Transport.SettleDelay)
	assert.Equal(t, cfg.Mock.Accel, loaded.Mock.Accel)
}
