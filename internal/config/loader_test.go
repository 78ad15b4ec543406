package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "/dev/ttyS0", cfg.Device)
	require.Equal(t, 115200, cfg.BaudRate)
	require.Equal(t, 256, cfg.BufferCapacity)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "text", cfg.Log.Format)
	require.Equal(t, "/metrics", cfg.Metrics.Path)
	require.False(t, cfg.MetricsEnabled())
	require.False(t, cfg.MirrorEnabled())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
device: /dev/ttyUSB1
baud_rate: 9600
buffer_capacity: 64
echo:
  suffix: "\r\n"
  skip_empty: true
log:
  level: debug
  format: json
metrics:
  listen: ":9100"
mirror:
  broker: tcp://localhost:1883
  topic: lab/echo
  qos: 1
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/dev/ttyUSB1", cfg.Device)
	require.Equal(t, 9600, cfg.BaudRate)
	require.Equal(t, 64, cfg.BufferCapacity)
	require.Equal(t, "\r\n", cfg.Echo.Suffix)
	require.True(t, cfg.Echo.SkipEmpty)
	require.Equal(t, "json", cfg.Log.Format)
	require.True(t, cfg.MetricsEnabled())
	require.True(t, cfg.MirrorEnabled())
	require.Equal(t, "lab/echo", cfg.Mirror.Topic)
	require.Equal(t, byte(1), cfg.Mirror.QoS)
	require.Equal(t, "serial-echo", cfg.Mirror.ClientID)
	require.Equal(t, 10*time.Second, cfg.Mirror.ConnectTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "device: /dev/ttyUSB1\nbaud_rate: 9600\n")
	t.Setenv("SERIAL_ECHO_BAUD_RATE", "57600")
	t.Setenv("SERIAL_ECHO_LOG_LEVEL", "warn")
	t.Setenv("SERIAL_ECHO_MIRROR_BROKER", "tcp://broker:1883")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyUSB1", cfg.Device)
	require.Equal(t, 57600, cfg.BaudRate)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, "tcp://broker:1883", cfg.Mirror.Broker)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "reading config file")
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "device: [unclosed"))
	require.ErrorContains(t, err, "parsing config file")
}

func TestLoad_UnsupportedBaudRate(t *testing.T) {
	_, err := Load(writeConfig(t, "baud_rate: 12345\n"))
	require.ErrorContains(t, err, "baud_rate 12345 is not supported")

	t.Setenv("SERIAL_ECHO_BAUD_RATE", "-9600")
	_, err = Load("")
	require.ErrorContains(t, err, "baud_rate")
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, "buffer_capacity: 1\nlog:\n  format: xml\nmirror:\n  qos: 3\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "buffer_capacity")
	require.ErrorContains(t, err, "log.format")
	require.ErrorContains(t, err, "mirror.qos")
}
