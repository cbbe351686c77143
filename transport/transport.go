// Package transport defines the publish/subscribe contract the gateway runs
// on, its connection state machine, and per-DCC messaging attributes.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/sanket-mindstix/liota/errors"
)

// QoS is the delivery guarantee level of a publish or subscription.
type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2
)

// Validate rejects levels outside 0..2.
func (q QoS) Validate() error {
	if q > ExactlyOnce {
		return errors.Configf("transport", "QoS", "qos must be 0, 1 or 2, got %d", q)
	}
	return nil
}

// QoSDetails bounds resources spent on unacknowledged messages.
type QoSDetails struct {
	// MaxInFlight caps publishes awaiting acknowledgement; zero is unlimited.
	MaxInFlight int `json:"max_in_flight"`
	// QueueSize caps publishes waiting for an in-flight slot; zero is unlimited.
	QueueSize int `json:"queue_size"`
	// RetryInterval is how long an acknowledgement may be outstanding before it
	// is reported overdue.
	RetryInterval time.Duration `json:"retry_interval"`
}

// DefaultQoSDetails mirrors common broker client defaults.
func DefaultQoSDetails() QoSDetails {
	return QoSDetails{MaxInFlight: 20, QueueSize: 0, RetryInterval: 5 * time.Second}
}

// Validate rejects negative bounds.
func (d QoSDetails) Validate() error {
	if d.MaxInFlight < 0 || d.QueueSize < 0 || d.RetryInterval < 0 {
		return errors.Configf("transport", "QoSDetails", "qos details must not be negative: %+v", d)
	}
	return nil
}

// Message is one inbound message.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      QoS
	Retained bool
}

// Handler receives inbound messages on the transport's receive goroutine.
type Handler func(ctx context.Context, msg Message)

// PubSub is a publish/subscribe client. Connect and Disconnect block until
// the broker answers or the configured timeout elapses and fail with a
// *errors.ConnectionError. Publish and Subscribe do not wait for delivery
// acknowledgements.
type PubSub interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte, qos QoS, retain bool) error
	Subscribe(ctx context.Context, topic string, qos QoS, handler Handler) error
	Unsubscribe(ctx context.Context, topics ...string) error
	Status() Status
	// OnDisconnect registers a hook run whenever the connection ends. err is
	// nil for a requested disconnect.
	OnDisconnect(fn func(err error))
}

// ConnectTimeoutError builds the error returned when a connect or disconnect
// deadline passes without a broker answer.
func ConnectTimeoutError(op string, timeout time.Duration) error {
	return errors.NewConnectionError(op, 0, fmt.Errorf("%w after %v", errors.ErrConnectionTimeout, timeout))
}
