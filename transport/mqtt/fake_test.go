package mqtt

import (
	"errors"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	paho.Token
	done chan struct{}
	once sync.Once
	err  error
	code byte
}

func newToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func doneToken(err error) *fakeToken {
	t := newToken()
	t.complete(err)
	return t
}

func (t *fakeToken) complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *fakeToken) Wait() bool { <-t.done; return true }

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }
func (t *fakeToken) ReturnCode() byte      { return t.code }

type fakeMessage struct {
	paho.Message
	topic   string
	payload []byte
	qos     byte
}

func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Qos() byte         { return m.qos }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Ack()              {}

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
	token   *fakeToken
}

type connectMode int

const (
	acceptConnect connectMode = iota
	rejectConnect
	hangConnect
)

// fakePaho stands in for a broker connection. Unimplemented paho.Client
// methods panic through the nil embedded interface.
type fakePaho struct {
	paho.Client

	opts *paho.ClientOptions
	mode connectMode
	// holdPublishes leaves QoS>0 tokens incomplete until acked.
	holdPublishes   bool
	blockDisconnect chan struct{}

	mu          sync.Mutex
	published   []published
	subs        map[string]paho.MessageHandler
	disconnects int
}

func (f *fakePaho) factory(opts *paho.ClientOptions) paho.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = opts
	if f.subs == nil {
		f.subs = make(map[string]paho.MessageHandler)
	}
	return f
}

func (f *fakePaho) Connect() paho.Token {
	switch f.mode {
	case rejectConnect:
		t := newToken()
		t.code = 5
		t.complete(errors.New("not authorized"))
		return t
	case hangConnect:
		return newToken()
	default:
		go f.opts.OnConnect(f)
		return doneToken(nil)
	}
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.disconnects++
	block := f.blockDisconnect
	f.mu.Unlock()
	if block != nil {
		<-block
	}
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	t := newToken()
	if qos == 0 || !f.holdPublishes {
		t.complete(nil)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, qos: qos, retain: retained, payload: payload.([]byte), token: t})
	return t
}

func (f *fakePaho) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = cb
	return doneToken(nil)
}

func (f *fakePaho) Unsubscribe(topics ...string) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range topics {
		delete(f.subs, t)
	}
	return doneToken(nil)
}

func (f *fakePaho) deliver(topic string, payload []byte) {
	f.mu.Lock()
	cb := f.subs[topic]
	f.mu.Unlock()
	if cb != nil {
		cb(f, &fakeMessage{topic: topic, payload: payload, qos: 1})
	}
}

func (f *fakePaho) loseConnection(err error) {
	f.opts.OnConnectionLost(f, err)
}

func (f *fakePaho) publishes() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func (f *fakePaho) subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[topic]
	return ok
}
