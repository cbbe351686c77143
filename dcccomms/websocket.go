package dcccomms

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/afero"

	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/pkg/tlsutil"
	"github.com/sanket-mindstix/liota/transport"
)

// WebSocketConfig describes a direct DCC session.
type WebSocketConfig struct {
	URL              string        `json:"url"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	PingInterval     time.Duration `json:"ping_interval"`
	WriteTimeout     time.Duration `json:"write_timeout"`

	// Identity is only consulted for wss:// URLs.
	Identity tlsutil.Identity `json:"identity"`
	TLS      tlsutil.TLSConf  `json:"tls"`
}

// DefaultWebSocketConfig returns timeouts suited to a long-lived session.
func DefaultWebSocketConfig(url string) WebSocketConfig {
	return WebSocketConfig{
		URL:              url,
		HandshakeTimeout: 45 * time.Second,
		PingInterval:     30 * time.Second,
		WriteTimeout:     10 * time.Second,
		TLS:              tlsutil.DefaultTLSConf(),
	}
}

// WebSocketOption configures a WebSocket.
type WebSocketOption func(*WebSocket)

// WithWebSocketLogger sets the logger.
func WithWebSocketLogger(logger *slog.Logger) WebSocketOption {
	return func(w *WebSocket) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWebSocketFs sets the filesystem TLS material is read from.
func WithWebSocketFs(fs afero.Fs) WebSocketOption {
	return func(w *WebSocket) {
		w.fs = fs
	}
}

// WithTLSConfig uses cfg instead of building one from the identity.
func WithTLSConfig(cfg *tls.Config) WebSocketOption {
	return func(w *WebSocket) {
		w.tlsConfig = cfg
	}
}

// WebSocket is a Comms over one WebSocket connection. Messages are text
// frames; attributes passed to Send are ignored since there are no topics.
type WebSocket struct {
	cfg       WebSocketConfig
	fs        afero.Fs
	tlsConfig *tls.Config
	logger    *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.RWMutex
	handler ReceiveFunc

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// DialWebSocket validates the identity for secure URLs, connects, and starts
// the read and keep-alive loops.
func DialWebSocket(ctx context.Context, cfg WebSocketConfig, opts ...WebSocketOption) (*WebSocket, error) {
	if cfg.URL == "" {
		return nil, errors.Configf("WebSocket", "Dial", "url is empty")
	}

	w := &WebSocket{
		cfg:    cfg,
		fs:     afero.NewOsFs(),
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "dcccomms", "transport", "websocket")

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	if strings.HasPrefix(cfg.URL, "wss://") {
		if w.tlsConfig == nil {
			tlsConfig, err := tlsutil.LoadClientConfig(w.fs, cfg.Identity, cfg.TLS)
			if err != nil {
				return nil, err
			}
			w.tlsConfig = tlsConfig
		}
		dialer.TLSClientConfig = w.tlsConfig
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		code := 0
		if resp != nil {
			code = resp.StatusCode
		}
		return nil, errors.NewConnectionError("websocket connect", code, err)
	}
	w.conn = conn

	w.wg.Add(1)
	go w.readLoop()

	if cfg.PingInterval > 0 {
		w.wg.Add(1)
		go w.pingLoop()
	}

	w.logger.Info("websocket connected", "url", cfg.URL)
	return w, nil
}

// Send writes payload as one text frame.
func (w *WebSocket) Send(_ context.Context, payload []byte, _ *transport.MessagingAttributes) error {
	select {
	case <-w.done:
		return errors.WrapTransient(errors.ErrNoConnection, "WebSocket", "Send", "write message")
	default:
	}

	if err := w.write(websocket.TextMessage, payload); err != nil {
		return errors.WrapTransient(err, "WebSocket", "Send", "write message")
	}
	return nil
}

// Receive installs fn for inbound frames.
func (w *WebSocket) Receive(_ context.Context, fn ReceiveFunc) error {
	w.mu.Lock()
	w.handler = fn
	w.mu.Unlock()
	return nil
}

// Done is closed when the session ends, locally or remotely.
func (w *WebSocket) Done() <-chan struct{} {
	return w.done
}

// Close sends a close frame and waits for the loops to exit.
func (w *WebSocket) Close(ctx context.Context) error {
	var err error
	w.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		w.writeMu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		w.writeMu.Unlock()

		close(w.done)
		err = w.conn.Close()
	})

	stopped := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err != nil && !isClosedErr(err) {
		return errors.WrapTransient(err, "WebSocket", "Close", "close connection")
	}
	return nil
}

func (w *WebSocket) write(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if w.cfg.WriteTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	}
	return w.conn.WriteMessage(messageType, data)
}

func (w *WebSocket) readLoop() {
	defer w.wg.Done()

	for {
		_, payload, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
			default:
				w.logger.Warn("websocket read failed", "error", err)
				w.closeOnce.Do(func() {
					close(w.done)
					_ = w.conn.Close()
				})
			}
			return
		}

		w.mu.RLock()
		fn := w.handler
		w.mu.RUnlock()

		if fn != nil {
			fn(payload)
		}
	}
}

func (w *WebSocket) pingLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.cfg.PingInterval/2))
			w.writeMu.Unlock()
			if err != nil {
				w.logger.Debug("websocket ping failed", "error", err)
			}
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || websocket.IsCloseError(err, websocket.CloseNormalClosure)
}
