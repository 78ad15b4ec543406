// Package mirror publishes echoed lines to an MQTT broker.
package mirror

import (
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Options configures the MQTT mirror.
// Broker: tcp://host:port
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	QoS            byte
	Retain         bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// ErrPublishTimeout is returned when the broker does not acknowledge a publish in time.
var ErrPublishTimeout = errors.New("mqtt publish timeout")

// MQTT publishes each line as the raw payload of one message on a fixed topic.
type MQTT struct {
	client paho.Client
	opts   Options
}

// Dial connects to the broker described by opts.
func Dial(opts Options) (*MQTT, error) {
	if opts.KeepAlive == 0 {
		opts.KeepAlive = 60 * time.Second
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	p := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetKeepAlive(opts.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(true)
	if opts.Username != "" {
		p.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		p.SetPassword(opts.Password)
	}

	client := paho.NewClient(p)
	tok := client.Connect()
	if !tok.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect timeout after %s", opts.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.Broker, err)
	}
	return New(client, opts), nil
}

// New wraps an already connected client.
func New(client paho.Client, opts Options) *MQTT {
	if opts.PublishTimeout == 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	return &MQTT{client: client, opts: opts}
}

// Publish sends line to the configured topic and waits for the broker.
func (m *MQTT) Publish(line []byte) error {
	payload := append([]byte{}, line...)
	tok := m.client.Publish(m.opts.Topic, m.opts.QoS, m.opts.Retain, payload)
	if !tok.WaitTimeout(m.opts.PublishTimeout) {
		return fmt.Errorf("topic %s: %w", m.opts.Topic, ErrPublishTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.opts.Topic, err)
	}
	return nil
}

// Close disconnects, waiting up to quiesce milliseconds for in-flight work.
func (m *MQTT) Close(quiesce uint) {
	m.client.Disconnect(quiesce)
}
