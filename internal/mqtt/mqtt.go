package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"buildingops/internal/utils"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

// Handler receives every inbound message on a subscribed topic.
type Handler func(topic string, payload []byte)

// PublishOptions overrides delivery settings for one publish.
type PublishOptions struct {
	QoS    byte
	Retain bool
}

// Client owns the single broker connection. It retries the initial connect on
// a fixed interval and degrades to logged no-ops once the attempts run out.
type Client struct {
	opts      Options
	logger    *slog.Logger
	newClient func(*MQTT.ClientOptions) MQTT.Client

	mu        sync.RWMutex
	client    MQTT.Client
	connected bool
	degraded  bool
	extra     map[string]byte
	handler   Handler

	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates an unconnected transport client
func NewClient(opts Options, logger *slog.Logger) *Client {
	return &Client{
		opts:      opts.withDefaults(),
		logger:    utils.Component(logger, "mqtt"),
		newClient: NewMQTTClient,
		extra:     make(map[string]byte),
	}
}

// SetMessageHandler installs the inbound dispatch target. Call before Init.
func (c *Client) SetMessageHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Init starts connecting in the background and returns immediately.
func (c *Client) Init(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		if err := c.Connect(ctx); err != nil {
			c.logger.Warn("MQTT: initial connection abandoned", "error", err)
		}
	}()
}

// Connect blocks until the broker accepts the connection, retrying every
// RetryInterval for at most MaxRetries further attempts.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.client == nil {
		c.client = c.newClient(buildClientOptions(c.opts, c.onConnect, c.onConnectionLost))
	}
	client := c.client
	c.degraded = false
	c.mu.Unlock()

	c.logger.Info("MQTT: connecting", "broker", c.opts.Broker, "client_id", c.opts.ClientID)
	for attempt := 1; ; attempt++ {
		err := c.connectOnce(client)
		if err == nil {
			return nil
		}
		c.logger.Warn("MQTT: connection attempt failed", "attempt", attempt, "max_retries", c.opts.MaxRetries, "error", err)
		if attempt > c.opts.MaxRetries {
			c.mu.Lock()
			c.degraded = true
			c.mu.Unlock()
			c.logger.Error("MQTT: giving up, publish and subscribe are now no-ops", "attempts", attempt)
			return fmt.Errorf("%w after %d attempts: %v", ErrDegraded, attempt, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.RetryInterval):
		}
	}
}

func (c *Client) connectOnce(client MQTT.Client) error {
	token := client.Connect()
	if !token.WaitTimeout(c.opts.ConnectTimeout) {
		return fmt.Errorf("connect timed out after %s", c.opts.ConnectTimeout)
	}
	return token.Error()
}

// onConnect runs on the initial connect and on every paho reconnect.
func (c *Client) onConnect(client MQTT.Client) {
	c.setConnected(true)
	c.logger.Info("MQTT: connected", "broker", c.opts.Broker)

	c.mu.RLock()
	filters := make(map[string]byte, len(c.opts.Topics)+len(c.extra))
	for _, t := range c.opts.Topics {
		filters[t] = c.opts.QoS
	}
	for t, qos := range c.extra {
		filters[t] = qos
	}
	c.mu.RUnlock()
	if len(filters) == 0 {
		return
	}

	token := client.SubscribeMultiple(filters, c.dispatch)
	if !token.WaitTimeout(c.opts.ConnectTimeout) || token.Error() != nil {
		c.logger.Error("MQTT: failed to subscribe", "topics", len(filters), "error", token.Error())
		return
	}
	c.logger.Info("MQTT: subscribed", "topics", len(filters))
}

func (c *Client) onConnectionLost(_ MQTT.Client, err error) {
	c.setConnected(false)
	c.logger.Warn("MQTT: connection lost, paho will reconnect", "error", err)
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	changed := c.connected != v
	c.connected = v
	c.mu.Unlock()
	if changed && c.opts.OnStatusChange != nil {
		c.opts.OnStatusChange(v)
	}
}

func (c *Client) dispatch(_ MQTT.Client, msg MQTT.Message) {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("MQTT: handler panicked", "topic", msg.Topic(), "panic", r)
		}
	}()
	h(msg.Topic(), msg.Payload())
}

// IsConnected reports current connectivity
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Degraded reports whether the client gave up connecting
func (c *Client) Degraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.degraded
}

// Encode serialises a payload: strings and byte slices pass through, anything else becomes JSON.
func Encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}

// Publish hands a message to the broker without waiting for acknowledgement.
// When disconnected it logs a warning and drops the message.
func (c *Client) Publish(topic string, payload any, opts ...PublishOptions) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	data, err := Encode(payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", topic, err)
	}
	po := PublishOptions{QoS: c.opts.QoS}
	if len(opts) > 0 {
		po = opts[0]
	}

	c.mu.RLock()
	client, connected := c.client, c.connected
	c.mu.RUnlock()
	if !connected || client == nil {
		c.logger.Warn("MQTT: not connected, dropping publish", "topic", topic)
		return nil
	}

	token := client.Publish(topic, po.QoS, po.Retain, data)
	go func() {
		if !token.WaitTimeout(c.opts.ConnectTimeout) {
			c.logger.Warn("MQTT: publish not acknowledged in time", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			c.logger.Error("MQTT: publish failed", "topic", topic, "error", err)
		}
	}()
	c.logger.Debug("MQTT: published", "topic", topic, "bytes", len(data))
	return nil
}

// Subscribe adds topics to the live subscription set
func (c *Client) Subscribe(qos byte, topics ...string) {
	c.mu.Lock()
	client, connected := c.client, c.connected
	if connected {
		for _, t := range topics {
			c.extra[t] = qos
		}
	}
	c.mu.Unlock()
	if !connected || client == nil {
		c.logger.Warn("MQTT: not connected, ignoring subscribe", "topics", topics)
		return
	}

	filters := make(map[string]byte, len(topics))
	for _, t := range topics {
		filters[t] = qos
	}
	token := client.SubscribeMultiple(filters, c.dispatch)
	go c.await(token, "subscribe", topics)
}

// Unsubscribe removes topics from the live subscription set
func (c *Client) Unsubscribe(topics ...string) {
	c.mu.Lock()
	client, connected := c.client, c.connected
	if connected {
		for _, t := range topics {
			delete(c.extra, t)
		}
	}
	c.mu.Unlock()
	if !connected || client == nil {
		c.logger.Warn("MQTT: not connected, ignoring unsubscribe", "topics", topics)
		return
	}
	token := client.Unsubscribe(topics...)
	go c.await(token, "unsubscribe", topics)
}

func (c *Client) await(token MQTT.Token, op string, topics []string) {
	if !token.WaitTimeout(c.opts.ConnectTimeout) {
		c.logger.Warn("MQTT: "+op+" timed out", "topics", topics)
		return
	}
	if err := token.Error(); err != nil {
		c.logger.Error("MQTT: "+op+" failed", "topics", topics, "error", err)
	}
}

// Shutdown stops any pending connect loop and closes the connection.
func (c *Client) Shutdown() {
	c.mu.Lock()
	cancel, done, client := c.cancel, c.done, c.client
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(disconnectQuiesce)
	}
	c.setConnected(false)
	c.logger.Info("MQTT: client shut down")
}
