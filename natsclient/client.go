package natsclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/afero"

	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/metric"
	"github.com/sanket-mindstix/liota/pkg/promise"
	"github.com/sanket-mindstix/liota/pkg/tlsutil"
	"github.com/sanket-mindstix/liota/transport"
)

const (
	transportName = "nats"
	// acknowledgement checks before a pending publish is reported lost
	maxOverdueChecks = 3
)

// ErrNotConnected is returned by operations that need an open connection.
var ErrNotConnected = errors.New("not connected to NATS")

// Client is a NATS transport.
type Client struct {
	url      string
	sm       *transport.StateMachine
	failures atomic.Int32
	logger   Logger
	metrics  *metric.Metrics

	conn   *nats.Conn
	js     jetstream.JetStream
	subs   map[string]*nats.Subscription
	closed *promise.Cell[struct{}]

	consumers   map[string]jetstream.ConsumeContext
	consumersMu sync.RWMutex

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	clientName     string
	cleanSession   bool
	qos            transport.QoSDetails
	stream         string
	streamSubjects []string

	identity  tlsutil.Identity
	tlsConf   tlsutil.TLSConf
	tlsConfig *tls.Config
	fs        afero.Fs

	jsMetrics       *jetstreamMetrics
	metricsCancel   context.CancelFunc
	metricsInterval time.Duration

	acks sync.WaitGroup
	mu   sync.RWMutex
}

var _ transport.PubSub = (*Client)(nil)

// NewClient builds a disconnected client for url. TLS material named by the
// identity is loaded here so a bad certificate fails before any dial.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:             url,
		sm:              transport.NewStateMachine(),
		logger:          NewSlogLogger(nil),
		fs:              afero.NewOsFs(),
		maxReconnects:   -1,
		reconnectWait:   2 * time.Second,
		pingInterval:    30 * time.Second,
		timeout:         5 * time.Second,
		drainTimeout:    10 * time.Second,
		metricsInterval: 30 * time.Second,
		cleanSession:    true,
		qos:             transport.DefaultQoSDetails(),
		streamSubjects:  []string{"liota.>"},
		subs:            make(map[string]*nats.Subscription),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	if !c.cleanSession && c.clientName == "" {
		return nil, errors.Configf("Client", "NewClient", "client name is required when clean session is disabled")
	}
	if c.identity.RootCACert != "" {
		tlsConfig, err := tlsutil.LoadClientConfig(c.fs, c.identity, c.tlsConf)
		if err != nil {
			return nil, err
		}
		c.tlsConfig = tlsConfig
	}

	c.sm.OnChange(func(s transport.Status) {
		c.metrics.RecordTransportStatus(transportName, int(s))
	})

	c.logger.Debugf("Created NATS client for %s", url)
	return c, nil
}

func (c *Client) URL() string {
	return c.url
}

func (c *Client) Status() transport.Status {
	return c.sm.Status()
}

// OnDisconnect registers a hook run when the connection ends.
func (c *Client) OnDisconnect(fn func(error)) {
	c.sm.OnDisconnect(fn)
}

// Failures returns how many connect attempts have failed.
func (c *Client) Failures() int32 {
	return c.failures.Load()
}

// natsOptions maps the client settings onto nats.Options. closed resolves when
// the connection is finally closed.
func (c *Client) natsOptions(closed *promise.Cell[struct{}]) []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(func(conn *nats.Conn) { c.handleClosed(conn, closed) }),
		nats.ErrorHandler(c.handleError),
	}

	if c.identity.HasCredentials() {
		opts = append(opts, nats.UserInfo(c.identity.Username, c.identity.Password))
	}
	if c.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.tlsConfig))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	return opts
}

type connectResult struct {
	conn *nats.Conn
	js   jetstream.JetStream
	err  error
}

// Connect establishes the connection and, when a stream is configured,
// ensures it exists. It blocks until the server accepts the connection or the
// connect timeout passes.
func (c *Client) Connect(ctx context.Context) error {
	if c.sm.Status() == transport.StatusConnected {
		return nil
	}
	if err := c.sm.Transition(transport.StatusDisconnected, transport.StatusConnecting); err != nil {
		return errors.WrapTransient(err, "Client", "Connect", "begin connect")
	}

	c.logger.Printf("Connecting to NATS at %s", c.url)

	closed := promise.New[struct{}]()
	opts := c.natsOptions(closed)

	connectDone := make(chan connectResult, 1)
	go func() { connectDone <- c.dial(opts) }()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	var res connectResult
	received := false
	select {
	case res = <-connectDone:
		received = true
	case <-timer.C:
		res.err = transport.ConnectTimeoutError("connect", c.timeout)
	case <-ctx.Done():
		res.err = errors.NewConnectionError("connect", 0, ctx.Err())
	}

	if res.err == nil && c.stream != "" {
		res.err = c.ensureStream(ctx, res.js)
		if res.err != nil {
			res.conn.Close()
		}
	}

	if res.err != nil {
		c.failures.Add(1)
		_ = c.sm.Transition(transport.StatusConnecting, transport.StatusDisconnected)
		if !received {
			// a connection that lands after the deadline is discarded
			go func() {
				if late := <-connectDone; late.conn != nil {
					late.conn.Close()
				}
			}()
		}
		var connErr *errors.ConnectionError
		if !errors.As(res.err, &connErr) {
			res.err = errors.NewConnectionError("connect", reasonCode(res.err), res.err)
		}
		c.logger.Errorf("Connect to %s failed: %v", c.url, res.err)
		return res.err
	}

	c.mu.Lock()
	c.conn = res.conn
	c.js = res.js
	c.closed = closed
	c.mu.Unlock()

	if err := c.sm.Transition(transport.StatusConnecting, transport.StatusConnected); err != nil {
		res.conn.Close()
		return errors.WrapTransient(err, "Client", "Connect", "complete connect")
	}
	c.failures.Store(0)
	c.logger.Printf("Successfully connected to NATS at %s", c.url)

	if c.jsMetrics != nil && c.metricsInterval > 0 {
		c.metricsCancel = c.jsMetrics.startPoller(context.Background(), c.metricsInterval, res.js)
	}
	return nil
}

func (c *Client) dial(opts []nats.Option) connectResult {
	conn, err := nats.Connect(c.url, opts...)
	if err != nil {
		return connectResult{err: err}
	}

	var jsOpts []jetstream.JetStreamOpt
	if c.qos.MaxInFlight > 0 {
		jsOpts = append(jsOpts, jetstream.WithPublishAsyncMaxPending(c.qos.MaxInFlight))
	}
	js, err := jetstream.New(conn, jsOpts...)
	if err != nil {
		conn.Close()
		return connectResult{err: err}
	}
	return connectResult{conn: conn, js: js}
}

func (c *Client) ensureStream(ctx context.Context, js jetstream.JetStream) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      c.stream,
		Subjects:  c.streamSubjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
	})
	if err != nil {
		c.jsMetrics.recordError("create_stream")
		return errors.WrapTransient(err, "Client", "Connect", fmt.Sprintf("ensure stream %s", c.stream))
	}
	c.jsMetrics.trackStream(c.stream, stream)
	return nil
}

// Disconnect drains subscriptions and pending publishes and closes the
// connection. It blocks until the close callback fires or the drain timeout
// passes; the state ends in Disconnected either way.
func (c *Client) Disconnect(ctx context.Context) error {
	if err := c.sm.Transition(transport.StatusConnected, transport.StatusDisconnecting); err != nil {
		if c.sm.Status() == transport.StatusDisconnected {
			return nil
		}
		return errors.WrapTransient(err, "Client", "Disconnect", "begin disconnect")
	}

	if c.metricsCancel != nil {
		c.metricsCancel()
	}

	c.consumersMu.Lock()
	for name, consumer := range c.consumers {
		consumer.Stop()
		c.logger.Debugf("Stopped consumer: %s", name)
	}
	c.consumers = nil
	c.consumersMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.conn = nil
	c.js = nil
	c.subs = make(map[string]*nats.Subscription)
	c.mu.Unlock()

	drainTimeout := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
			drainTimeout = remaining
		}
	}

	var drainErr error
	if err := conn.Drain(); err != nil {
		c.logger.Errorf("Drain error: %v", err)
		conn.Close()
	}

	select {
	case <-closed.Done():
	case <-time.After(drainTimeout):
		drainErr = transport.ConnectTimeoutError("disconnect", drainTimeout)
		c.logger.Errorf("Drain timeout after %v, force closing", drainTimeout)
		conn.Close()
	case <-ctx.Done():
		drainErr = errors.NewConnectionError("disconnect", 0, ctx.Err())
		c.logger.Errorf("Context cancelled during drain, force closing")
		conn.Close()
	}

	c.sm.Closed()
	return drainErr
}

// Publish sends payload to the subject derived from topic. QoS 0, or a client
// without a stream, uses core NATS. QoS 1 and 2 publish to JetStream
// asynchronously; acknowledgements are tracked in the background. NATS has no
// retained messages, so retain is ignored.
func (c *Client) Publish(_ context.Context, topic string, payload []byte, qos transport.QoS, _ bool) error {
	if err := qos.Validate(); err != nil {
		return err
	}
	conn, js, err := c.connected("Publish")
	if err != nil {
		return err
	}
	subject := Subject(topic)

	if qos == transport.AtMostOnce || c.stream == "" {
		if err := conn.Publish(subject, payload); err != nil {
			return errors.WrapTransient(err, "Client", "Publish", "publish "+subject)
		}
		c.metrics.RecordMessagePublished(transportName, byte(qos))
		return nil
	}

	future, err := js.PublishAsync(subject, payload)
	if err != nil {
		c.jsMetrics.recordError("publish")
		return errors.WrapTransient(err, "Client", "Publish", "publish async "+subject)
	}
	c.metrics.RecordMessagePublished(transportName, byte(qos))

	c.acks.Add(1)
	go c.trackAck(subject, future)
	return nil
}

func (c *Client) trackAck(subject string, future jetstream.PubAckFuture) {
	defer c.acks.Done()

	wait := c.qos.RetryInterval
	if wait <= 0 {
		wait = c.timeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for check := 1; ; check++ {
		select {
		case <-future.Ok():
			return
		case err := <-future.Err():
			c.jsMetrics.recordError("publish_ack")
			c.logger.Errorf("Publish to %s not acknowledged: %v", subject, err)
			return
		case <-timer.C:
			if check >= maxOverdueChecks {
				c.jsMetrics.recordError("publish_ack_timeout")
				c.logger.Errorf("Publish to %s never acknowledged after %v", subject, wait*maxOverdueChecks)
				return
			}
			c.logger.Printf("Publish acknowledgement overdue on %s", subject)
			timer.Reset(wait)
		}
	}
}

// Subscribe delivers messages on topic to handler. Each message handler
// receives a context with a 30-second timeout for message processing. QoS 1
// and 2 subscriptions with clean session off use a durable JetStream consumer
// so messages published while the gateway was away are delivered on return.
func (c *Client) Subscribe(ctx context.Context, topic string, qos transport.QoS, handler transport.Handler) error {
	if err := qos.Validate(); err != nil {
		return err
	}
	if handler == nil {
		return errors.Configf("Client", "Subscribe", "handler is required for topic %q", topic)
	}
	conn, js, err := c.connected("Subscribe")
	if err != nil {
		return err
	}
	subject := Subject(topic)

	deliver := func(subj string, data []byte) {
		msgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c.metrics.RecordMessageReceived(transportName)
		handler(msgCtx, transport.Message{Topic: Topic(subj), Payload: data, QoS: qos})
	}

	if qos == transport.AtMostOnce || c.cleanSession || c.stream == "" {
		sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
			deliver(msg.Subject, msg.Data)
		})
		if err != nil {
			return errors.WrapTransient(errors.Join(errors.ErrSubscriptionFailed, err), "Client", "Subscribe", "subscribe "+subject)
		}
		c.mu.Lock()
		c.subs[topic] = sub
		c.mu.Unlock()
		return nil
	}

	return c.consume(ctx, js, topic, subject, deliver)
}

func (c *Client) consume(ctx context.Context, js jetstream.JetStream, topic, subject string, deliver func(string, []byte)) error {
	consumer, err := js.CreateOrUpdateConsumer(ctx, c.stream, jetstream.ConsumerConfig{
		Durable:       durableName(c.clientName, subject),
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		c.jsMetrics.recordError("create_consumer")
		return errors.WrapTransient(errors.Join(errors.ErrSubscriptionFailed, err), "Client", "Subscribe", "create consumer")
	}

	if info, err := consumer.Info(ctx); err == nil {
		c.jsMetrics.trackConsumer(c.stream, info.Name, consumer)
	}

	consumeContext, err := consumer.Consume(func(msg jetstream.Msg) {
		deliver(msg.Subject(), msg.Data())
		if err := msg.Ack(); err != nil {
			c.logger.Errorf("Ack on %s failed: %v", msg.Subject(), err)
		}
	})
	if err != nil {
		return errors.WrapTransient(errors.Join(errors.ErrSubscriptionFailed, err), "Client", "Subscribe", "consume")
	}

	c.consumersMu.Lock()
	defer c.consumersMu.Unlock()
	if c.consumers == nil {
		c.consumers = make(map[string]jetstream.ConsumeContext)
	}
	if existing, ok := c.consumers[topic]; ok {
		existing.Stop()
		c.logger.Debugf("Replaced existing consumer for %s", topic)
	}
	c.consumers[topic] = consumeContext
	return nil
}

// Unsubscribe removes core subscriptions and stops durable consumers. Durable
// consumer state stays on the server.
func (c *Client) Unsubscribe(_ context.Context, topics ...string) error {
	var errs []error
	for _, topic := range topics {
		c.mu.Lock()
		sub, ok := c.subs[topic]
		delete(c.subs, topic)
		c.mu.Unlock()
		if ok {
			if err := sub.Unsubscribe(); err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Unsubscribe", topic))
			}
		}

		c.consumersMu.Lock()
		if cc, ok := c.consumers[topic]; ok {
			cc.Stop()
			delete(c.consumers, topic)
		}
		c.consumersMu.Unlock()
	}
	return errors.Join(errs...)
}

// RTT measures a ping round trip.
func (c *Client) RTT() (time.Duration, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

// JetStream returns the JetStream handle of the current connection.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// CreateKeyValueBucket opens the bucket named by cfg, creating it on first use.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		c.logger.Debugf("Using existing KV bucket: %s", cfg.Bucket)
		return bucket, nil
	}

	bucket, err = js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if isAlreadyExistsError(err) {
			bucket, err = js.KeyValue(ctx, cfg.Bucket)
			if err != nil {
				return nil, errors.Wrap(err, "Client", "CreateKeyValueBucket",
					fmt.Sprintf("access existing bucket %s", cfg.Bucket))
			}
			return bucket, nil
		}
		c.jsMetrics.recordError("create_kv")
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "create bucket "+cfg.Bucket)
	}

	c.logger.Printf("Created new KV bucket: %s", cfg.Bucket)
	return bucket, nil
}

func (c *Client) connected(method string) (*nats.Conn, jetstream.JetStream, error) {
	if c.sm.Status() != transport.StatusConnected {
		return nil, nil, errors.WrapTransient(errors.ErrNoConnection, "Client", method, "check connection")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil, nil, errors.WrapTransient(errors.ErrNoConnection, "Client", method, "check connection")
	}
	return c.conn, c.js, nil
}

// current reports whether conn is the connection the client is using. Events
// from connections discarded by a timed out Connect are ignored.
func (c *Client) current(conn *nats.Conn) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return conn != nil && conn == c.conn
}

func (c *Client) handleDisconnect(conn *nats.Conn, err error) {
	if c.sm.Status() != transport.StatusConnected || !c.current(conn) {
		return
	}
	cause := errors.ErrConnectionLost
	if err != nil {
		cause = errors.Join(errors.ErrConnectionLost, err)
	}
	if c.sm.Lost(cause) {
		c.metrics.RecordConnectionLost(transportName)
		c.logger.Printf("Disconnected from %s: %v", c.url, err)
	}
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	if !c.current(conn) {
		return
	}
	if c.sm.Transition(transport.StatusDisconnected, transport.StatusConnecting) != nil {
		return
	}
	if err := c.sm.Transition(transport.StatusConnecting, transport.StatusConnected); err != nil {
		c.logger.Errorf("Reconnect state change failed: %v", err)
		return
	}
	c.logger.Printf("Reconnected to %s", c.url)
}

func (c *Client) handleClosed(conn *nats.Conn, closed *promise.Cell[struct{}]) {
	closed.Resolve(struct{}{})
	// closed without a Disconnect call: reconnects were exhausted
	if c.sm.Status() == transport.StatusConnected && c.current(conn) {
		c.sm.Lost(errors.ErrConnectionLost)
	}
}

func (c *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	c.logger.Errorf("NATS error: %v", err)
}

// reasonCode maps NATS connect errors onto MQTT CONNACK codes so callers see
// one vocabulary across transports.
func reasonCode(err error) int {
	switch {
	case errors.Is(err, nats.ErrAuthorization), errors.Is(err, nats.ErrAuthExpired):
		return 5
	case errors.Is(err, nats.ErrNoServers):
		return 3
	default:
		return 0
	}
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, jetstream.ErrBucketExists) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "bucket name already in use") ||
		strings.Contains(errStr, "already exists") ||
		strings.Contains(errStr, "stream name already in use")
}
