package config

import "time"

// Config is the daemon configuration. YAML keys mirror the env variable
// names below, which take the SERIAL_ECHO_ prefix.
type Config struct {
	Device         string        `yaml:"device" env:"DEVICE"`
	BaudRate       int           `yaml:"baud_rate" env:"BAUD_RATE"`
	BufferCapacity int           `yaml:"buffer_capacity" env:"BUFFER_CAPACITY"`

	Echo    EchoConfig    `yaml:"echo" envPrefix:"ECHO_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
	Mirror  MirrorConfig  `yaml:"mirror" envPrefix:"MIRROR_"`
}

// EchoConfig controls what is written back to the device.
type EchoConfig struct {
	Suffix    string `yaml:"suffix" env:"SUFFIX"`
	SkipEmpty bool   `yaml:"skip_empty" env:"SKIP_EMPTY"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen" env:"LISTEN"`
	Path   string `yaml:"path" env:"PATH"`
}

// MirrorConfig enables publishing echoed lines to an MQTT broker when Broker is set.
type MirrorConfig struct {
	Broker         string        `yaml:"broker" env:"BROKER"`
	Topic          string        `yaml:"topic" env:"TOPIC"`
	ClientID       string        `yaml:"client_id" env:"CLIENT_ID"`
	Username       string        `yaml:"username" env:"USERNAME"`
	Password       string        `yaml:"password" env:"PASSWORD"`
	QoS            byte          `yaml:"qos" env:"QOS"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// MetricsEnabled reports whether the metrics endpoint should be served.
func (c Config) MetricsEnabled() bool { return c.Metrics.Listen != "" }

// MirrorEnabled reports whether lines are mirrored to MQTT.
func (c Config) MirrorEnabled() bool { return c.Mirror.Broker != "" }
