package testutil

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/transport"
)

// Broker is an in-memory transport.PubSub for tests. Published messages are
// recorded per topic and delivered synchronously to matching subscriptions.
// Thread-safe for concurrent use from multiple goroutines.
type Broker struct {
	sm *transport.StateMachine

	mu         sync.RWMutex
	messages   map[string][][]byte
	subs       map[string][]transport.Handler
	responder  func(topic string, payload []byte)
	publishErr error
	connectErr error
	connects   int
}

var _ transport.PubSub = (*Broker)(nil)

// NewBroker creates a disconnected broker.
func NewBroker() *Broker {
	return &Broker{
		sm:       transport.NewStateMachine(),
		messages: make(map[string][][]byte),
		subs:     make(map[string][]transport.Handler),
	}
}

// NewConnectedBroker creates a broker and connects it.
func NewConnectedBroker(t testing.TB) *Broker {
	t.Helper()
	b := NewBroker()
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect broker: %v", err)
	}
	return b
}

// Connect moves the broker to Connected unless FailConnect was set.
func (b *Broker) Connect(_ context.Context) error {
	if b.sm.Status() == transport.StatusConnected {
		return nil
	}
	if err := b.sm.Transition(transport.StatusDisconnected, transport.StatusConnecting); err != nil {
		return err
	}
	b.mu.Lock()
	b.connects++
	connectErr := b.connectErr
	b.mu.Unlock()
	if connectErr != nil {
		_ = b.sm.Transition(transport.StatusConnecting, transport.StatusDisconnected)
		return connectErr
	}
	return b.sm.Transition(transport.StatusConnecting, transport.StatusConnected)
}

// Disconnect moves the broker to Disconnected.
func (b *Broker) Disconnect(_ context.Context) error {
	if err := b.sm.Transition(transport.StatusConnected, transport.StatusDisconnecting); err != nil {
		return nil
	}
	b.sm.Closed()
	return nil
}

// Status returns the connection state.
func (b *Broker) Status() transport.Status { return b.sm.Status() }

// OnDisconnect registers a disconnect hook.
func (b *Broker) OnDisconnect(fn func(error)) { b.sm.OnDisconnect(fn) }

// Publish records the message, delivers it to matching subscriptions, and
// hands it to the responder on its own goroutine.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte, qos transport.QoS, _ bool) error {
	if b.sm.Status() != transport.StatusConnected {
		return errors.WrapTransient(errors.ErrNoConnection, "Broker", "Publish", "check connection")
	}

	b.mu.Lock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}
	data := append([]byte(nil), payload...)
	b.messages[topic] = append(b.messages[topic], data)
	handlers := b.matching(topic)
	responder := b.responder
	b.mu.Unlock()

	for _, h := range handlers {
		h(ctx, transport.Message{Topic: topic, Payload: data, QoS: qos})
	}
	if responder != nil {
		go responder(topic, data)
	}
	return nil
}

// Subscribe registers handler for an MQTT-style topic filter.
func (b *Broker) Subscribe(ctx context.Context, filter string, _ transport.QoS, handler transport.Handler) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if b.sm.Status() != transport.StatusConnected {
		return errors.WrapTransient(errors.ErrNoConnection, "Broker", "Subscribe", "check connection")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[filter] = append(b.subs[filter], handler)
	return nil
}

// Unsubscribe removes all handlers for the filters.
func (b *Broker) Unsubscribe(_ context.Context, filters ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range filters {
		delete(b.subs, f)
	}
	return nil
}

// Deliver injects an inbound message as if the broker had received it from
// another client.
func (b *Broker) Deliver(topic string, payload []byte) {
	b.mu.RLock()
	handlers := b.matching(topic)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(context.Background(), transport.Message{Topic: topic, Payload: payload, QoS: transport.AtLeastOnce})
	}
}

// SetResponder installs fn to observe every publish, typically to answer
// requests with Deliver.
func (b *Broker) SetResponder(fn func(topic string, payload []byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responder = fn
}

// FailPublish makes every publish return err; nil restores normal behavior.
func (b *Broker) FailPublish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// FailConnect makes Connect return err; nil restores normal behavior.
func (b *Broker) FailConnect(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectErr = err
}

// ConnectAttempts returns how many times Connect got past the status check.
func (b *Broker) ConnectAttempts() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connects
}

// Drop simulates a network failure while connected.
func (b *Broker) Drop(err error) bool {
	return b.sm.Lost(err)
}

// Messages returns a copy of the payloads published on topic.
func (b *Broker) Messages(topic string) [][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msgs := b.messages[topic]
	if msgs == nil {
		return nil
	}
	result := make([][]byte, len(msgs))
	copy(result, msgs)
	return result
}

// MessageCount returns the number of messages published on topic.
func (b *Broker) MessageCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages[topic])
}

// Topics returns every topic that has received a publish.
func (b *Broker) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	topics := make([]string, 0, len(b.messages))
	for t := range b.messages {
		topics = append(topics, t)
	}
	return topics
}

// ClearAll forgets recorded messages.
func (b *Broker) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = make(map[string][][]byte)
}

func (b *Broker) matching(topic string) []transport.Handler {
	var handlers []transport.Handler
	for filter, hs := range b.subs {
		if MatchTopic(filter, topic) {
			handlers = append(handlers, hs...)
		}
	}
	return handlers
}

// MatchTopic reports whether an MQTT topic filter matches topic.
func MatchTopic(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, level := range fl {
		if level == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if level != "+" && level != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}

// WaitForMessageCount waits until count messages were published on topic
// and returns them.
func WaitForMessageCount(t testing.TB, b *Broker, topic string, count int, timeout time.Duration) [][]byte {
	t.Helper()

	deadline := time.After(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if msgs := b.Messages(topic); len(msgs) >= count {
			return msgs
		}
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %d messages on topic %s (got %d)", count, topic, b.MessageCount(topic))
			return nil
		case <-ticker.C:
		}
	}
}

// WaitForMessage waits for a message on topic and returns the latest one.
func WaitForMessage(t testing.TB, b *Broker, topic string, timeout time.Duration) []byte {
	t.Helper()
	msgs := WaitForMessageCount(t, b, topic, 1, timeout)
	return msgs[len(msgs)-1]
}
