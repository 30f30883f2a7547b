package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/epitome-sim/reverie-core/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang with reconnect-aware subscriptions and a
// retained online/offline status.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are restored on reconnection.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the optional logging interface.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives a message's topic (wildcards expanded) and raw
// payload. A returned error is logged; it does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// newClient builds an unconnected client.
func newClient(cfg config.MQTTConfig) *Client {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)

	c := &Client{
		cfg:           cfg,
		options:       opts,
		subscriptions: make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	return c
}

// Connect connects to the broker and publishes a retained "online" status.
// The broker publishes "offline" on our behalf if the connection is lost
// without Close.
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	connectCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-connectCtx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, connectCtx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg), err)
	}

	// The OnConnect handler runs asynchronously; mark connected now so
	// callers can publish straight away.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.restoreSubscriptions()
	c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, //nolint:gosec // QoS validated by config
		statusPayload(c.cfg.Broker.ClientID, "online", ""))

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Close publishes a retained graceful "offline" status and disconnects.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, //nolint:gosec // QoS validated by config
			statusPayload(c.cfg.Broker.ClientID, "offline", "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck reports whether the client is connected.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	if c == nil || c.client == nil {
		return false
	}
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetOnConnect sets a callback run on every (re)connect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for handler errors and connection loss.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adapts handler to paho, recovering panics and logging errors.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT handler panic recovered", "topic", topic, "panic", r)
			}
		}
	}()

	if err := handler(topic, payload); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT handler returned error", "topic", topic, "error", err)
		}
	}
}
