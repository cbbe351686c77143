// Package dcccomms provides the byte channels DCC providers talk over: a
// pub/sub transport with per-DCC messaging attributes, or a direct WebSocket
// session.
package dcccomms

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/metric"
	"github.com/sanket-mindstix/liota/transport"
)

// ReceiveFunc handles one inbound DCC message.
type ReceiveFunc func(payload []byte)

// Comms is a DCC-facing channel. Send publishes one message; attrs overrides
// the channel's default attributes where the channel supports topics and may
// be nil. Receive installs the handler for inbound messages; calling it again
// replaces the handler.
type Comms interface {
	Send(ctx context.Context, payload []byte, attrs *transport.MessagingAttributes) error
	Receive(ctx context.Context, fn ReceiveFunc) error
	Close(ctx context.Context) error
}

// Option configures a TransportComms.
type Option func(*TransportComms)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *TransportComms) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records received messages.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *TransportComms) {
		c.metrics = m
	}
}

// TransportComms runs a DCC over a connected transport.PubSub. Outbound
// messages go to PubTopic; the subscription on SubTopic is made on the first
// Receive call.
type TransportComms struct {
	ps      transport.PubSub
	attrs   transport.MessagingAttributes
	name    string
	logger  *slog.Logger
	metrics *metric.Metrics

	mu         sync.RWMutex
	handler    ReceiveFunc
	subscribed bool
}

// NewTransportComms binds ps to attrs. name labels metrics and logs, for
// example "mqtt".
func NewTransportComms(ps transport.PubSub, attrs *transport.MessagingAttributes, name string, opts ...Option) (*TransportComms, error) {
	if ps == nil {
		return nil, errors.Configf("TransportComms", "New", "transport is nil")
	}
	if attrs == nil {
		return nil, errors.Configf("TransportComms", "New", "messaging attributes are nil")
	}
	if attrs.PubTopic == "" || attrs.SubTopic == "" {
		return nil, errors.Configf("TransportComms", "New", "publish and subscribe topics are required")
	}

	c := &TransportComms{
		ps:     ps,
		attrs:  *attrs,
		name:   name,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "dcccomms", "transport", name)
	return c, nil
}

// Attributes returns the default attributes.
func (c *TransportComms) Attributes() transport.MessagingAttributes {
	return c.attrs
}

// Send publishes payload on attrs.PubTopic, or on the default topic when
// attrs is nil or has no publish topic.
func (c *TransportComms) Send(ctx context.Context, payload []byte, attrs *transport.MessagingAttributes) error {
	topic, qos, retain := c.attrs.PubTopic, c.attrs.PubQoS, c.attrs.PubRetain
	if attrs != nil && attrs.PubTopic != "" {
		topic, qos, retain = attrs.PubTopic, attrs.PubQoS, attrs.PubRetain
	}

	if err := c.ps.Publish(ctx, topic, payload, qos, retain); err != nil {
		return errors.WrapTransient(err, "TransportComms", "Send", "publish to "+topic)
	}
	return nil
}

// Receive installs fn and subscribes to the response topic once. The
// attributes' SubCallback, if any, also sees every message.
func (c *TransportComms) Receive(ctx context.Context, fn ReceiveFunc) error {
	c.mu.Lock()
	c.handler = fn
	subscribed := c.subscribed
	c.mu.Unlock()

	if subscribed {
		return nil
	}

	err := c.ps.Subscribe(ctx, c.attrs.SubTopic, c.attrs.SubQoS, c.dispatch)
	if err != nil {
		return errors.WrapTransient(err, "TransportComms", "Receive", "subscribe to "+c.attrs.SubTopic)
	}

	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()

	c.logger.Debug("subscribed", "topic", c.attrs.SubTopic, "qos", c.attrs.SubQoS)
	return nil
}

func (c *TransportComms) dispatch(ctx context.Context, msg transport.Message) {
	c.metrics.RecordMessageReceived(c.name)

	if c.attrs.SubCallback != nil {
		c.attrs.SubCallback(ctx, msg)
	}

	c.mu.RLock()
	fn := c.handler
	c.mu.RUnlock()

	if fn == nil {
		c.logger.Debug("dropping message with no handler", "topic", msg.Topic)
		return
	}
	fn(msg.Payload)
}

// Close drops the subscription. The transport itself stays connected; its
// owner disconnects it.
func (c *TransportComms) Close(ctx context.Context) error {
	c.mu.Lock()
	subscribed := c.subscribed
	c.subscribed = false
	c.handler = nil
	c.mu.Unlock()

	if !subscribed {
		return nil
	}
	if err := c.ps.Unsubscribe(ctx, c.attrs.SubTopic); err != nil {
		return errors.WrapTransient(err, "TransportComms", "Close", "unsubscribe")
	}
	return nil
}
