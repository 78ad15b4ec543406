// Package config loads the serial-echo daemon configuration from YAML and
// the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	serial "github.com/luhtfiimanal/go-serial-echo"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SERIAL_ECHO_"

const (
	defaultDevice         = "/dev/ttyS0"
	defaultBaudRate       = 115200
	defaultBufferCapacity = 256
	defaultMetricsPath    = "/metrics"
	defaultMirrorTopic    = "serial-echo/lines"
	defaultMirrorClientID = "serial-echo"
)

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Device == "" {
		cfg.Device = defaultDevice
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = defaultBaudRate
	}
	if cfg.BufferCapacity == 0 {
		cfg.BufferCapacity = defaultBufferCapacity
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
	if cfg.Mirror.Topic == "" {
		cfg.Mirror.Topic = defaultMirrorTopic
	}
	if cfg.Mirror.ClientID == "" {
		cfg.Mirror.ClientID = defaultMirrorClientID
	}
	if cfg.Mirror.ConnectTimeout == 0 {
		cfg.Mirror.ConnectTimeout = 10 * time.Second
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if !serial.SupportedBaudRate(c.BaudRate) {
		errs = append(errs, fmt.Errorf("baud_rate %d is not supported", c.BaudRate))
	}
	if c.BufferCapacity < 2 {
		errs = append(errs, fmt.Errorf("buffer_capacity must be at least 2, got %d", c.BufferCapacity))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Mirror.QoS > 2 {
		errs = append(errs, fmt.Errorf("mirror.qos must be 0, 1 or 2, got %d", c.Mirror.QoS))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
