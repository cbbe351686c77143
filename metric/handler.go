package metric

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/health"
)

// Server exposes the metrics registry and the aggregate gateway health over HTTP
type Server struct {
	addr     string
	path     string
	registry *MetricsRegistry
	monitor  *health.Monitor
	system   string

	mu       sync.Mutex // protects server and listener
	server   *http.Server
	listener net.Listener
}

// NewServer creates a new metrics server. An empty addr listens on :9090 and
// an empty path serves /metrics.
func NewServer(addr, path string, registry *MetricsRegistry, monitor *health.Monitor) *Server {
	if path == "" {
		path = "/metrics"
	}
	if addr == "" {
		addr = ":9090"
	}

	return &Server{
		addr:     addr,
		path:     path,
		registry: registry,
		monitor:  monitor,
		system:   "liota-gateway",
	}
}

// Handler builds the HTTP handler serving metrics and health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		status := health.NewHealthy(s.system, "no monitor configured")
		if s.monitor != nil {
			status = s.monitor.AggregateHealth(s.system)
		}

		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})

	return mux
}

// Start binds the listener and serves until Stop is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("server already running"),
			"Server", "Start", "cannot start server that is already running")
	}
	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(fmt.Errorf("nil registry"), "Server", "Start", "metrics registry not provided")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on %s", s.addr))
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "Server", "Start", "serve metrics")
	}
	return nil
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

// Shutdown stops the server, waiting for in-flight scrapes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Shutdown", "stop HTTP server")
	}
	return nil
}

// Address returns the bound address, or the configured one before Start.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Sprintf("http://%s%s", s.listener.Addr().String(), s.path)
	}
	return fmt.Sprintf("http://%s%s", s.addr, s.path)
}
