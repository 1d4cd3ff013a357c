package mqtt

import (
	"errors"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

// DefaultTopics are the device telemetry patterns subscribed on every connect.
var DefaultTopics = []string{
	"devices/+/status",
	"devices/+/energy",
	"devices/+/reading",
	"devices/+/online",
}

var (
	// ErrDegraded is returned by Connect once every attempt has failed.
	ErrDegraded = errors.New("mqtt: broker unreachable, running degraded")
	// ErrEmptyTopic rejects publishes without a topic.
	ErrEmptyTopic = errors.New("mqtt: empty topic")
)

const (
	disconnectQuiesce = 250 // milliseconds
	keepAlive         = 60 * time.Second
)

// Options configures the transport client
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	RetryInterval  time.Duration
	MaxRetries     int
	ConnectTimeout time.Duration
	QoS            byte
	Topics         []string

	// OnStatusChange is notified whenever connectivity flips.
	OnStatusChange func(connected bool)
}

func (o Options) withDefaults() Options {
	if o.RetryInterval <= 0 {
		o.RetryInterval = 5 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.Topics == nil {
		o.Topics = DefaultTopics
	}
	return o
}

// buildClientOptions translates Options into paho options. Initial connect
// retries are driven by Client.Connect; paho only handles reconnects after a
// session was established.
func buildClientOptions(o Options, onConnect MQTT.OnConnectHandler, onLost MQTT.ConnectionLostHandler) *MQTT.ClientOptions {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(o.RetryInterval)
	opts.SetConnectTimeout(o.ConnectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(onConnect)
	opts.SetConnectionLostHandler(onLost)
	return opts
}

// NewMQTTClient creates the underlying paho client without connecting it.
func NewMQTTClient(opts *MQTT.ClientOptions) MQTT.Client {
	return MQTT.NewClient(opts)
}
