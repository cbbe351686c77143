package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/sanket-mindstix/liota/metric"
	"github.com/sanket-mindstix/liota/pkg/tlsutil"
	"github.com/sanket-mindstix/liota/transport"
)

// Logger interface for injecting custom loggers
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
	Debugf(format string, v ...any)
}

// slogLogger adapts a *slog.Logger to Logger.
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps l; a nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l.With("transport", "nats")}
}

func (s *slogLogger) Printf(format string, v ...any) { s.l.Info(fmt.Sprintf(format, v...)) }
func (s *slogLogger) Errorf(format string, v ...any) { s.l.Error(fmt.Sprintf(format, v...)) }
func (s *slogLogger) Debugf(format string, v ...any) { s.l.Debug(fmt.Sprintf(format, v...)) }

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client) error

// WithMaxReconnects sets the maximum number of reconnection attempts (-1 for infinite)
func WithMaxReconnects(max int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = max
		return nil
	}
}

// WithReconnectWait sets the wait time between reconnection attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.reconnectWait = d
		return nil
	}
}

// WithPingInterval sets the ping interval for connection health checks
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.pingInterval = d
		return nil
	}
}

// WithLogger sets a custom logger for the client
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			logger = NewSlogLogger(nil)
		}
		c.logger = logger
		return nil
	}
}

// WithDisconnectCallback registers a hook run when the connection ends.
func WithDisconnectCallback(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.sm.OnDisconnect(fn)
		return nil
	}
}

// WithIdentity presents the credential bundle. TLS is used when a root CA is set.
func WithIdentity(id tlsutil.Identity, conf tlsutil.TLSConf) ClientOption {
	return func(c *Client) error {
		c.identity = id
		c.tlsConf = conf
		return nil
	}
}

// WithFs sets the filesystem TLS material is read from.
func WithFs(fs afero.Fs) ClientOption {
	return func(c *Client) error {
		c.fs = fs
		return nil
	}
}

// WithName sets the client name for identification. It also names durable
// consumers when clean session is off.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithCleanSession controls whether QoS 1/2 subscriptions use durable consumers.
func WithCleanSession(clean bool) ClientOption {
	return func(c *Client) error {
		c.cleanSession = clean
		return nil
	}
}

// WithQoS bounds unacknowledged JetStream publishes.
func WithQoS(details transport.QoSDetails) ClientOption {
	return func(c *Client) error {
		if err := details.Validate(); err != nil {
			return err
		}
		c.qos = details
		return nil
	}
}

// WithStream sets the JetStream stream backing QoS 1/2 traffic. An empty
// name disables JetStream delivery and every publish uses core NATS.
func WithStream(name string, subjects ...string) ClientOption {
	return func(c *Client) error {
		c.stream = name
		if len(subjects) > 0 {
			c.streamSubjects = subjects
		}
		return nil
	}
}

// WithTimeouts sets the connect and disconnect deadlines.
func WithTimeouts(connect, disconnect time.Duration) ClientOption {
	return func(c *Client) error {
		if connect <= 0 || disconnect <= 0 {
			return fmt.Errorf("timeouts must be positive: connect=%v disconnect=%v", connect, disconnect)
		}
		c.timeout = connect
		c.drainTimeout = disconnect
		return nil
	}
}

// WithMetrics records transport counters and enables JetStream metrics
// collection for the streams and consumers this client uses.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry == nil {
			return nil
		}

		metrics, err := newJetStreamMetrics(registry)
		if err != nil {
			return err
		}

		c.jsMetrics = metrics
		c.metrics = registry.CoreMetrics()
		return nil
	}
}

// WithMetricsInterval sets how often JetStream stats are polled.
func WithMetricsInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.metricsInterval = d
		return nil
	}
}
