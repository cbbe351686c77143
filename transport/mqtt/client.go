// Package mqtt implements transport.PubSub on the Eclipse Paho MQTT client.
package mqtt

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/afero"

	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/metric"
	"github.com/sanket-mindstix/liota/pkg/promise"
	"github.com/sanket-mindstix/liota/pkg/tlsutil"
	"github.com/sanket-mindstix/liota/transport"
)

const (
	transportName = "mqtt"
	// acknowledgement checks before an in-flight slot is reclaimed
	maxOverdueChecks = 3
)

// ErrPublishQueueFull is returned when MaxInFlight and QueueSize are both exhausted.
var ErrPublishQueueFull = errors.New("publish queue full")

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records transport metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithFs sets the filesystem used to read TLS material.
func WithFs(fs afero.Fs) Option {
	return func(c *Client) {
		c.fs = fs
	}
}

// withFactory replaces the paho client constructor.
func withFactory(fn func(*paho.ClientOptions) paho.Client) Option {
	return func(c *Client) {
		c.newClient = fn
	}
}

type subscription struct {
	qos     transport.QoS
	handler transport.Handler
}

// Client is an MQTT transport.
type Client struct {
	cfg       Config
	tlsConfig *tls.Config
	logger    *slog.Logger
	metrics   *metric.Metrics
	fs        afero.Fs
	newClient func(*paho.ClientOptions) paho.Client

	sm *transport.StateMachine

	mu             sync.Mutex
	client         paho.Client
	pendingConnect *promise.Cell[struct{}]
	subs           map[string]subscription
	runCtx         context.Context
	cancelRun      context.CancelFunc

	inflight chan struct{}
	queued   atomic.Int64
	overdue  atomic.Int64
	trackers sync.WaitGroup
}

var _ transport.PubSub = (*Client)(nil)

// NewClient validates cfg, including the TLS identity for secure URLs, and
// returns a disconnected client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:       cfg,
		logger:    slog.Default(),
		fs:        afero.NewOsFs(),
		newClient: paho.NewClient,
		sm:        transport.NewStateMachine(),
		subs:      make(map[string]subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("transport", transportName, "url", cfg.URL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Secure() {
		tlsConfig, err := tlsutil.LoadClientConfig(c.fs, cfg.Identity, cfg.TLS)
		if err != nil {
			return nil, err
		}
		c.tlsConfig = tlsConfig
	}
	if cfg.QoS.MaxInFlight > 0 {
		c.inflight = make(chan struct{}, cfg.QoS.MaxInFlight)
	}

	c.sm.OnChange(func(s transport.Status) {
		c.metrics.RecordTransportStatus(transportName, int(s))
	})
	return c, nil
}

// Status returns the connection state.
func (c *Client) Status() transport.Status {
	return c.sm.Status()
}

// OnDisconnect registers a hook run when the connection ends.
func (c *Client) OnDisconnect(fn func(error)) {
	c.sm.OnDisconnect(fn)
}

// Connect opens the session and blocks until the broker accepts it, rejects
// it, or ConnectTimeout passes.
func (c *Client) Connect(ctx context.Context) error {
	if c.sm.Status() == transport.StatusConnected {
		return nil
	}
	if err := c.sm.Transition(transport.StatusDisconnected, transport.StatusConnecting); err != nil {
		return errors.WrapTransient(err, "mqtt", "Connect", "begin connect")
	}

	cell := promise.New[struct{}]()
	client := c.newClient(c.clientOptions())
	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.client = client
	c.pendingConnect = cell
	c.runCtx, c.cancelRun = runCtx, cancel
	c.mu.Unlock()

	c.logger.Info("Connecting to broker", "client_id", c.cfg.ClientID, "clean_session", c.cfg.CleanSession)

	token := client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			cell.Reject(errors.NewConnectionError("connect", reasonCode(token), err))
		}
	}()

	_, err := cell.WaitTimeout(ctx, c.cfg.ConnectTimeout)
	if err == nil {
		return nil
	}

	c.mu.Lock()
	c.pendingConnect = nil
	c.mu.Unlock()
	cancel()
	client.Disconnect(0)
	_ = c.sm.Transition(transport.StatusConnecting, transport.StatusDisconnected)

	var connErr *errors.ConnectionError
	switch {
	case errors.As(err, &connErr):
	case errors.Is(err, context.Canceled):
		err = errors.NewConnectionError("connect", 0, err)
	default:
		err = transport.ConnectTimeoutError("connect", c.cfg.ConnectTimeout)
	}
	c.logger.Error("Connect failed", "error", err)
	return err
}

// Disconnect ends the session and blocks until the client has closed or
// DisconnectTimeout passes. The state ends in Disconnected either way.
func (c *Client) Disconnect(ctx context.Context) error {
	if err := c.sm.Transition(transport.StatusConnected, transport.StatusDisconnecting); err != nil {
		if c.sm.Status() == transport.StatusDisconnected {
			return nil
		}
		return errors.WrapTransient(err, "mqtt", "Disconnect", "begin disconnect")
	}

	c.mu.Lock()
	client := c.client
	cancel := c.cancelRun
	c.mu.Unlock()

	done := promise.New[struct{}]()
	quiesce := uint(c.cfg.DisconnectTimeout / time.Millisecond / 2)
	go func() {
		client.Disconnect(quiesce)
		done.Resolve(struct{}{})
	}()

	_, err := done.WaitTimeout(ctx, c.cfg.DisconnectTimeout)
	if cancel != nil {
		cancel()
	}
	c.sm.Closed()

	if err != nil {
		err = transport.ConnectTimeoutError("disconnect", c.cfg.DisconnectTimeout)
		c.logger.Warn("Disconnect did not complete in time", "error", err)
		return err
	}
	c.logger.Info("Disconnected from broker")
	return nil
}

// Publish sends payload without waiting for delivery. For QoS 1 and 2 the
// call waits for an in-flight slot when MaxInFlight is reached, bounded by ctx
// and QueueSize.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos transport.QoS, retain bool) error {
	if err := qos.Validate(); err != nil {
		return err
	}
	client, err := c.connected("Publish")
	if err != nil {
		return err
	}

	if qos == transport.AtMostOnce {
		client.Publish(topic, byte(qos), retain, payload)
		c.metrics.RecordMessagePublished(transportName, byte(qos))
		return nil
	}

	if err := c.acquire(ctx); err != nil {
		return err
	}
	token := client.Publish(topic, byte(qos), retain, payload)
	c.metrics.RecordMessagePublished(transportName, byte(qos))

	c.trackers.Add(1)
	go c.track(topic, token)
	return nil
}

// Subscribe registers handler for topic. The subscription is acknowledged in
// the background; failures are logged.
func (c *Client) Subscribe(_ context.Context, topic string, qos transport.QoS, handler transport.Handler) error {
	if err := qos.Validate(); err != nil {
		return err
	}
	if handler == nil {
		return errors.Configf("mqtt", "Subscribe", "handler is required for topic %q", topic)
	}
	client, err := c.connected("Subscribe")
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	c.subscribe(client, topic, qos, handler)
	return nil
}

// Unsubscribe removes subscriptions without waiting for the broker.
func (c *Client) Unsubscribe(_ context.Context, topics ...string) error {
	client, err := c.connected("Unsubscribe")
	if err != nil {
		return err
	}
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()
	client.Unsubscribe(topics...)
	return nil
}

// Overdue returns how many acknowledgements exceeded the retry interval.
func (c *Client) Overdue() int64 {
	return c.overdue.Load()
}

func (c *Client) subscribe(client paho.Client, topic string, qos transport.QoS, handler transport.Handler) {
	token := client.Subscribe(topic, byte(qos), func(_ paho.Client, m paho.Message) {
		c.metrics.RecordMessageReceived(transportName)
		handler(c.handlerContext(), transport.Message{
			Topic:    m.Topic(),
			Payload:  m.Payload(),
			QoS:      transport.QoS(m.Qos()),
			Retained: m.Retained(),
		})
	})
	go func() {
		if !token.WaitTimeout(c.cfg.ConnectTimeout) {
			c.logger.Warn("Subscription not acknowledged", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			c.logger.Error("Subscription failed", "topic", topic,
				"error", errors.Wrap(errors.Join(errors.ErrSubscriptionFailed, err), "mqtt", "Subscribe", "subscribe"))
		}
	}()
}

func (c *Client) connected(method string) (paho.Client, error) {
	if c.sm.Status() != transport.StatusConnected {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "mqtt", method, "check connection")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client, nil
}

func (c *Client) handlerContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCtx == nil {
		return context.Background()
	}
	return c.runCtx
}

func (c *Client) acquire(ctx context.Context) error {
	if c.inflight == nil {
		return nil
	}
	select {
	case c.inflight <- struct{}{}:
		return nil
	default:
	}

	if limit := c.cfg.QoS.QueueSize; limit > 0 && c.queued.Load() >= int64(limit) {
		return errors.WrapTransient(ErrPublishQueueFull, "mqtt", "Publish", "reserve in-flight slot")
	}
	c.queued.Add(1)
	defer c.queued.Add(-1)

	select {
	case c.inflight <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() {
	if c.inflight == nil {
		return
	}
	select {
	case <-c.inflight:
	default:
	}
}

func (c *Client) track(topic string, token paho.Token) {
	defer c.trackers.Done()
	defer c.release()

	interval := c.cfg.QoS.RetryInterval
	if interval <= 0 {
		token.Wait()
	} else {
		for check := 1; !token.WaitTimeout(interval); check++ {
			c.overdue.Add(1)
			if check >= maxOverdueChecks {
				c.logger.Error("Publish never acknowledged, releasing slot", "topic", topic, "waited", interval*maxOverdueChecks)
				return
			}
			c.logger.Warn("Publish acknowledgement overdue", "topic", topic, "waited", interval*time.Duration(check))
		}
	}

	if err := token.Error(); err != nil {
		c.logger.Error("Publish failed", "topic", topic, "error", err)
	}
}

func (c *Client) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(c.cfg.URL).
		SetClientID(c.cfg.ClientID).
		SetCleanSession(c.cfg.CleanSession).
		SetProtocolVersion(c.cfg.ProtocolVersion).
		SetKeepAlive(c.cfg.KeepAlive).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetAutoReconnect(c.cfg.AutoReconnect).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetReconnectingHandler(c.onReconnecting)

	if c.cfg.MaxReconnectInterval > 0 {
		opts.SetMaxReconnectInterval(c.cfg.MaxReconnectInterval)
	}
	if c.tlsConfig != nil {
		opts.SetTLSConfig(c.tlsConfig)
	}
	if c.cfg.Identity.HasCredentials() {
		opts.SetUsername(c.cfg.Identity.Username)
		opts.SetPassword(c.cfg.Identity.Password)
	}
	if !c.cfg.CleanSession && c.cfg.StoreDir != "" {
		opts.SetStore(paho.NewFileStore(c.cfg.StoreDir))
	}
	return opts
}

func (c *Client) onConnect(client paho.Client) {
	c.mu.Lock()
	cell := c.pendingConnect
	c.pendingConnect = nil
	resubscribe := make(map[string]subscription, len(c.subs))
	if cell == nil && c.cfg.CleanSession {
		for topic, sub := range c.subs {
			resubscribe[topic] = sub
		}
	}
	c.mu.Unlock()

	if err := c.sm.Transition(transport.StatusConnecting, transport.StatusConnected); err != nil {
		c.logger.Debug("Ignoring connect callback", "reason", err)
		return
	}
	if cell != nil {
		cell.Resolve(struct{}{})
		c.logger.Info("Connected to broker")
		return
	}

	c.logger.Info("Reconnected to broker", "resubscribing", len(resubscribe))
	for topic, sub := range resubscribe {
		c.subscribe(client, topic, sub.qos, sub.handler)
	}
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	if c.sm.Lost(errors.Join(errors.ErrConnectionLost, err)) {
		c.metrics.RecordConnectionLost(transportName)
		c.logger.Warn("Connection lost", "error", err)
	}
}

func (c *Client) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	if err := c.sm.Transition(transport.StatusDisconnected, transport.StatusConnecting); err == nil {
		c.logger.Info("Reconnecting to broker")
	}
}

func reasonCode(t paho.Token) int {
	if ct, ok := t.(interface{ ReturnCode() byte }); ok {
		return int(ct.ReturnCode())
	}
	return 0
}
