// Package bus wraps the MQTT connection shared by the tariff and sensor
// subscribers and the schedule publisher.
package bus

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// ErrConnectTimeout is returned when the broker does not answer in time
var ErrConnectTimeout = errors.New("mqtt connect timed out")

// Config defines the broker connection and topics
type Config struct {
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	UseTLS         bool          `mapstructure:"use_tls"`
	QoS            byte          `mapstructure:"qos"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	TariffTopic    string        `mapstructure:"tariff_topic"`
	SensorTopic    string        `mapstructure:"sensor_topic"`
	ScheduleTopic  string        `mapstructure:"schedule_topic"`
}

// Handler receives the topic and payload of one message
type Handler func(topic string, payload []byte)

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Conn is a connected MQTT client that resubscribes after reconnects
type Conn struct {
	cli     pahoClient
	qos     byte
	timeout time.Duration
	log     zerolog.Logger

	mu   sync.Mutex
	subs map[string]Handler
}

// Dial connects to the broker described by cfg
func Dial(cfg Config, log zerolog.Logger) (*Conn, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Conn{qos: cfg.QoS, timeout: timeout, log: log, subs: make(map[string]Handler)}

	opts := NewClientOptions(cfg)
	opts.OnConnect = func(paho.Client) {
		c.log.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
		c.resubscribe()
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		c.log.Error().Err(err).Msg("mqtt connection lost")
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		c.log.Warn().Msg("reconnecting to mqtt broker")
	}

	cli := newClient(opts)
	token := cli.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("%w after %s", ErrConnectTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, err)
	}
	c.mu.Lock()
	c.cli = cli
	c.mu.Unlock()
	return c, nil
}

// resubscribe restores every registered subscription after a reconnect.
// The first connect has no client yet and nothing to restore.
func (c *Conn) resubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli == nil {
		return
	}
	for topic, h := range c.subs {
		if token := c.cli.Subscribe(topic, c.qos, wrap(h)); token.Wait() && token.Error() != nil {
			c.log.Error().Err(token.Error()).Str("topic", topic).Msg("resubscribe failed")
		}
	}
}

// NewClientOptions builds paho options from cfg
func NewClientOptions(cfg Config) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

func wrap(h Handler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		h(msg.Topic(), msg.Payload())
	}
}

// Subscribe registers h for topic. The subscription survives reconnects.
func (c *Conn) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = h
	c.mu.Unlock()

	token := c.cli.Subscribe(topic, c.qos, wrap(h))
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("subscribing to %s: %w", topic, ErrConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	c.log.Info().Str("topic", topic).Msg("subscribed")
	return nil
}

// Publish sends payload to topic
func (c *Conn) Publish(topic string, payload []byte) error {
	token := c.cli.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("publishing to %s: %w", topic, ErrConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker
func (c *Conn) Close() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
}
