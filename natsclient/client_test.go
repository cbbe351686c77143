package natsclient

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/metric"
	"github.com/sanket-mindstix/liota/pkg/promise"
	"github.com/sanket-mindstix/liota/pkg/tlsutil"
	"github.com/sanket-mindstix/liota/testutil"
	"github.com/sanket-mindstix/liota/transport"
)

func TestSubjectMapping(t *testing.T) {
	tests := []struct {
		topic, subject string
	}{
		{"liota/edge-1/request", "liota.edge-1.request"},
		{"/liota/edge-1/response/", "liota.edge-1.response"},
		{"liota/+/response", "liota.*.response"},
		{"liota/#", "liota.>"},
		{"liota/Edge 1.local/request", "liota.Edge_1_local.request"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.subject, Subject(tt.topic), tt.topic)
	}
	assert.Equal(t, "liota/edge-1/request", Topic("liota.edge-1.request"))
	assert.Equal(t, "edge-1_liota_any_response", durableName("edge-1", "liota.*.response"))
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, transport.StatusDisconnected, c.Status())

	_, err = NewClient("nats://localhost:4222", WithCleanSession(false))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = NewClient("nats://localhost:4222", WithFs(afero.NewMemMapFs()),
		WithIdentity(tlsutil.Identity{RootCACert: "/missing/ca.pem"}, tlsutil.DefaultTLSConf()))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = NewClient("nats://localhost:4222", WithQoS(transport.QoSDetails{MaxInFlight: -1}))
	assert.Error(t, err)
}

func TestConnect_NoServer(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:1",
		WithTimeouts(500*time.Millisecond, 500*time.Millisecond),
		WithMaxReconnects(0))
	require.NoError(t, err)

	err = c.Connect(context.Background())
	var ce *errors.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.ReasonCode)
	assert.Equal(t, transport.StatusDisconnected, c.Status())
	assert.Equal(t, int32(1), c.Failures())
}

func TestCorePublishSubscribe(t *testing.T) {
	_, url := testutil.StartNATSServer(t)
	registry := metric.NewMetricsRegistry()

	c, err := NewClient(url, WithName("edge-1"), WithMetrics(registry))
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, transport.StatusConnected, c.Status())

	got := make(chan transport.Message, 1)
	require.NoError(t, c.Subscribe(context.Background(), "liota/edge-1/response", transport.AtMostOnce,
		func(_ context.Context, m transport.Message) { got <- m }))
	require.NoError(t, c.Publish(context.Background(), "liota/edge-1/response", []byte("hi"), transport.AtMostOnce, false))

	select {
	case m := <-got:
		assert.Equal(t, "liota/edge-1/response", m.Topic)
		assert.Equal(t, []byte("hi"), m.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	rtt, err := c.RTT()
	require.NoError(t, err)
	assert.Positive(t, rtt)

	var hookCalled atomic.Bool
	c.OnDisconnect(func(err error) {
		assert.NoError(t, err)
		hookCalled.Store(true)
	})
	require.NoError(t, c.Disconnect(context.Background()))
	assert.Equal(t, transport.StatusDisconnected, c.Status())
	assert.True(t, hookCalled.Load())

	err = c.Publish(context.Background(), "x", nil, transport.AtMostOnce, false)
	assert.ErrorIs(t, err, errors.ErrNoConnection)

	_, err = c.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestJetStreamPublish(t *testing.T) {
	_, url := testutil.StartNATSServer(t)

	c, err := NewClient(url, WithStream("LIOTA", "liota.>"), WithQoS(transport.QoSDetails{MaxInFlight: 8}))
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	defer func() { _ = c.Disconnect(context.Background()) }()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Publish(context.Background(), "liota/edge-1/request", []byte("m"), transport.AtLeastOnce, false))
	}

	js, err := c.JetStream()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		stream, err := js.Stream(context.Background(), "LIOTA")
		if err != nil {
			return false
		}
		info, err := stream.Info(context.Background())
		return err == nil && info.State.Msgs == 3
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDurableSubscriptionSurvivesRestart(t *testing.T) {
	_, url := testutil.StartNATSServer(t)
	ctx := context.Background()
	opts := []ClientOption{WithName("edge-1"), WithCleanSession(false), WithStream("LIOTA", "liota.>")}

	first, err := NewClient(url, opts...)
	require.NoError(t, err)
	require.NoError(t, first.Connect(ctx))
	require.NoError(t, first.Subscribe(ctx, "liota/edge-1/response", transport.AtLeastOnce,
		func(context.Context, transport.Message) {}))
	require.NoError(t, first.Disconnect(ctx))

	// published while the gateway is away
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()
	require.NoError(t, nc.Publish("liota.edge-1.response", []byte("queued")))
	require.NoError(t, nc.Flush())

	second, err := NewClient(url, opts...)
	require.NoError(t, err)
	require.NoError(t, second.Connect(ctx))
	defer func() { _ = second.Disconnect(ctx) }()

	got := make(chan []byte, 1)
	require.NoError(t, second.Subscribe(ctx, "liota/edge-1/response", transport.AtLeastOnce,
		func(_ context.Context, m transport.Message) { got <- m.Payload }))

	select {
	case payload := <-got:
		assert.Equal(t, []byte("queued"), payload)
	case <-time.After(5 * time.Second):
		t.Fatal("queued message not delivered to durable consumer")
	}
}

func TestConnectionLostRunsHook(t *testing.T) {
	srv, url := testutil.StartNATSServer(t)

	lost := make(chan error, 1)
	c, err := NewClient(url, WithReconnectWait(50*time.Millisecond), WithDisconnectCallback(func(err error) {
		select {
		case lost <- err:
		default:
		}
	}))
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))

	srv.Shutdown()

	select {
	case err := <-lost:
		assert.ErrorIs(t, err, errors.ErrConnectionLost)
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect hook not called")
	}
	assert.NotEqual(t, transport.StatusConnected, c.Status())
}

func TestDiscardedConnectionDoesNotAffectState(t *testing.T) {
	_, url := testutil.StartNATSServer(t)

	var hookCalls atomic.Int32
	c, err := NewClient(url, WithDisconnectCallback(func(error) { hookCalls.Add(1) }))
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	defer func() { _ = c.Disconnect(context.Background()) }()

	// a dial that completed after its Connect call gave up
	late := c.dial(c.natsOptions(promise.New[struct{}]()))
	require.NoError(t, late.err)
	late.conn.Close()

	assert.Never(t, func() bool {
		return c.Status() != transport.StatusConnected
	}, 300*time.Millisecond, 20*time.Millisecond)
	assert.Zero(t, hookCalls.Load())

	require.NoError(t, c.Publish(context.Background(), "liota/edge-1/request", []byte("m"), transport.AtMostOnce, false))
}
