package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/afero"

	"github.com/sanket-mindstix/liota/agent"
	"github.com/sanket-mindstix/liota/config"
	"github.com/sanket-mindstix/liota/dcc"
	"github.com/sanket-mindstix/liota/dcc/awsiot"
	"github.com/sanket-mindstix/liota/dcc/iotcc"
	"github.com/sanket-mindstix/liota/dcccomms"
	"github.com/sanket-mindstix/liota/entity"
	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/health"
	"github.com/sanket-mindstix/liota/identity"
	"github.com/sanket-mindstix/liota/localstore"
	"github.com/sanket-mindstix/liota/metric"
	"github.com/sanket-mindstix/liota/natsclient"
	"github.com/sanket-mindstix/liota/pkg/buffer"
	"github.com/sanket-mindstix/liota/pkg/cache"
	"github.com/sanket-mindstix/liota/pkg/retry"
	"github.com/sanket-mindstix/liota/pkg/timestamp"
	"github.com/sanket-mindstix/liota/transport"
	"github.com/sanket-mindstix/liota/transport/mqtt"
)

const (
	cacheBucket     = "resources"
	recordCacheSize = 256
)

// gateway owns every long-lived component of one edge system.
type gateway struct {
	cfg      *config.Config
	logger   *slog.Logger
	fs       afero.Fs
	registry *metric.MetricsRegistry
	monitor  *health.Monitor
	connect  retry.Config

	ps       transport.PubSub
	comms    dcccomms.Comms
	provider dcc.DCC
	cache    *localstore.Store
	ids      identity.Store
	agent    *agent.Agent

	edge    *entity.Registered
	devices []*entity.Registered
	metrics []*entity.Registered
}

func newGateway(cfg *config.Config, logger *slog.Logger, fs afero.Fs) *gateway {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	registry := metric.NewMetricsRegistry()
	core := registry.CoreMetrics()
	return &gateway{
		cfg:      cfg,
		logger:   logger,
		fs:       fs,
		registry: registry,
		monitor:  health.NewMonitor(core.RecordHealthStatus),
		connect:  retry.Startup(),
	}
}

// start connects, registers the configured resources and schedules every
// metric. It does not start sampling.
func (g *gateway) start(ctx context.Context) error {
	if err := g.connectTransport(ctx); err != nil {
		return err
	}
	if err := g.openIdentity(ctx); err != nil {
		return err
	}
	if err := g.openCache(); err != nil {
		return err
	}
	if err := g.openComms(ctx); err != nil {
		return err
	}
	if err := g.openProvider(ctx); err != nil {
		return err
	}
	if err := g.registerResources(ctx); err != nil {
		return err
	}
	return g.scheduleMetrics()
}

// needsTransport reports whether any component publishes through the broker.
func (g *gateway) needsTransport() bool {
	return g.cfg.DCC.Comms == config.CommsTransport || g.cfg.Identity.Store == "nats"
}

func (g *gateway) connectTransport(ctx context.Context) error {
	if !g.needsTransport() {
		return nil
	}
	if g.ps == nil {
		ps, err := g.buildTransport()
		if err != nil {
			return err
		}
		g.ps = ps
	}

	name := g.cfg.Transport.Kind
	g.ps.OnDisconnect(func(err error) {
		if err == nil {
			g.monitor.UpdateDegraded(name, "disconnected")
			return
		}
		g.monitor.UpdateUnhealthy(name, err.Error())
	})

	policy := g.connect
	policy.OnRetry = func(attempt int, err error) {
		g.monitor.UpdateDegraded(name, err.Error())
		g.logger.Warn("transport connect failed, retrying", "kind", name, "attempt", attempt, "error", err)
	}
	err := retry.Do(ctx, policy, func() error {
		err := g.ps.Connect(ctx)
		var connErr *errors.ConnectionError
		if errors.As(err, &connErr) && connErr.Refused() {
			return retry.NonRetryable(err)
		}
		return err
	})
	if err != nil {
		g.monitor.UpdateUnhealthy(name, err.Error())
		return err
	}
	detail := connectedDetail(g.ps)
	g.monitor.UpdateHealthy(name, detail)
	g.logger.Info("transport connected", "kind", name, "detail", detail)
	return nil
}

// pinger is implemented by transports that can measure a round trip.
type pinger interface {
	RTT() (time.Duration, error)
}

func connectedDetail(ps transport.PubSub) string {
	if p, ok := ps.(pinger); ok {
		if rtt, err := p.RTT(); err == nil {
			return fmt.Sprintf("connected, rtt %s", rtt)
		}
	}
	return "connected"
}

func (g *gateway) buildTransport() (transport.PubSub, error) {
	t := g.cfg.Transport
	switch t.Kind {
	case config.TransportNATS:
		n := t.NATS
		name := n.Name
		if name == "" {
			name = g.cfg.EdgeSystem.Name
		}
		opts := []natsclient.ClientOption{
			natsclient.WithName(name),
			natsclient.WithCleanSession(n.CleanSession),
			natsclient.WithMaxReconnects(n.MaxReconnects),
			natsclient.WithReconnectWait(n.ReconnectWait),
			natsclient.WithPingInterval(n.PingInterval),
			natsclient.WithTimeouts(n.ConnectTimeout, n.DisconnectTimeout),
			natsclient.WithQoS(n.QoS),
			natsclient.WithIdentity(n.Identity, n.TLS),
			natsclient.WithFs(g.fs),
			natsclient.WithLogger(natsclient.NewSlogLogger(g.logger)),
			natsclient.WithMetrics(g.registry),
		}
		if n.Stream != "" {
			opts = append(opts, natsclient.WithStream(n.Stream))
		}
		return natsclient.NewClient(n.URL, opts...)
	default:
		return mqtt.NewClient(t.MQTT,
			mqtt.WithLogger(g.logger),
			mqtt.WithMetrics(g.registry.CoreMetrics()),
			mqtt.WithFs(g.fs))
	}
}

// openIdentity opens the identity store. Only IoTCC persists identities.
func (g *gateway) openIdentity(ctx context.Context) error {
	if g.cfg.DCC.Kind != config.DCCIoTCC {
		return nil
	}

	ic := g.cfg.Identity
	switch ic.Store {
	case "nats":
		nc, ok := g.ps.(*natsclient.Client)
		if !ok {
			return errors.Configf("gateway", "openIdentity", "nats identity store needs the nats transport")
		}
		bucket, err := nc.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      ic.Bucket,
			Description: "liota edge system identity",
			History:     1,
		})
		if err != nil {
			return err
		}
		store, err := identity.NewKVStore(nc.NewKVStore(bucket), ic.Key)
		if err != nil {
			return err
		}
		g.ids = store
	default:
		store, err := identity.NewFileStore(g.fs, ic.Path)
		if err != nil {
			return err
		}
		g.ids = store
	}

	id, ok, err := identity.Resume(ctx, g.ids, g.cfg.EdgeSystem.Name)
	if err != nil {
		g.logger.Warn("stored identity unreadable, registering fresh", "error", err)
		return nil
	}
	if ok {
		g.cfg.DCC.IoTCC.EdgeSystemID = id.ID
		g.logger.Info("resuming edge system identity", "identity", id.String())
	}
	return nil
}

// openCache opens the local resource cache. AWS IoT keeps no resource state.
func (g *gateway) openCache() error {
	cc := g.cfg.Cache
	if !cc.Enabled || g.cfg.DCC.Kind != config.DCCIoTCC {
		return nil
	}

	var backend localstore.Backend
	switch cc.Backend {
	case "bolt":
		if err := g.fs.MkdirAll(cc.Dir, 0o755); err != nil {
			return errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrLocalStorage, err),
				"gateway", "openCache", "create "+cc.Dir)
		}
		b, err := localstore.OpenBoltBackend(filepath.Join(cc.Dir, "cache.db"), cacheBucket)
		if err != nil {
			return err
		}
		backend = b
	default:
		b, err := localstore.NewFileBackend(g.fs, cc.Dir)
		if err != nil {
			return err
		}
		backend = b
	}

	records, err := cache.NewLRU[localstore.Record](recordCacheSize,
		cache.WithMetrics[localstore.Record](g.registry, "localstore"))
	if err != nil {
		_ = backend.Close()
		return err
	}

	opts := []localstore.Option{
		localstore.WithLogger(g.logger),
		localstore.WithMetrics(g.registry.CoreMetrics()),
		localstore.WithRecordCache(records),
	}
	if cc.SideFileDir != "" {
		opts = append(opts, localstore.WithSideFiles(g.fs, cc.SideFileDir))
	}
	store, err := localstore.New(iotcc.Name, backend, opts...)
	if err != nil {
		_ = backend.Close()
		return err
	}
	g.cache = store
	return nil
}

func (g *gateway) openComms(ctx context.Context) error {
	if g.cfg.DCC.Comms == config.CommsWebSocket {
		ws, err := dcccomms.DialWebSocket(ctx, g.cfg.DCC.WebSocket,
			dcccomms.WithWebSocketLogger(g.logger),
			dcccomms.WithWebSocketFs(g.fs))
		if err != nil {
			g.monitor.UpdateUnhealthy("dcc_comms", err.Error())
			return err
		}
		g.monitor.UpdateHealthy("dcc_comms", "websocket open")
		go func() {
			select {
			case <-ws.Done():
				g.monitor.UpdateUnhealthy("dcc_comms", "websocket closed")
			case <-ctx.Done():
			}
		}()
		g.comms = ws
		return nil
	}

	t := g.cfg.Transport
	attrs, err := transport.NewMessagingAttributes(g.cfg.EdgeSystem.Name,
		transport.WithTopics(t.PubTopic, t.SubTopic),
		transport.WithQoS(t.PubQoS, t.SubQoS),
		transport.WithRetain(t.Retain))
	if err != nil {
		return err
	}
	comms, err := dcccomms.NewTransportComms(g.ps, attrs, t.Kind,
		dcccomms.WithLogger(g.logger),
		dcccomms.WithMetrics(g.registry.CoreMetrics()))
	if err != nil {
		return err
	}
	g.comms = comms
	return nil
}

func (g *gateway) openProvider(ctx context.Context) error {
	base := []dcc.Option{dcc.WithLogger(g.logger), dcc.WithMetricsRegistry(g.registry)}

	switch g.cfg.DCC.Kind {
	case config.DCCAWSIoT:
		p, err := awsiot.New(g.comms, g.cfg.DCC.AWSIoT, base...)
		if err != nil {
			return err
		}
		g.provider = p
	default:
		opts := []iotcc.Option{iotcc.WithBaseOptions(base...)}
		if g.cache != nil {
			opts = append(opts, iotcc.WithCache(g.cache))
		}
		if g.ids != nil {
			opts = append(opts, iotcc.WithIdentityStore(g.ids))
		}
		p, err := iotcc.New(ctx, g.comms, g.cfg.DCC.IoTCC, opts...)
		if err != nil {
			return err
		}
		g.provider = p
		if err := p.Login(ctx); err != nil {
			g.monitor.UpdateUnhealthy(iotcc.Name, err.Error())
			return err
		}
	}
	g.monitor.UpdateHealthy(g.provider.Name(), "ready")
	return nil
}

func (g *gateway) registerResources(ctx context.Context) error {
	es := g.cfg.EdgeSystem
	edge, err := entity.NewEdgeSystem(es.Name)
	if err != nil {
		return err
	}
	if g.edge, err = g.provider.Register(ctx, edge); err != nil {
		return err
	}
	g.logger.Info("edge system registered", "edge_system", es.Name, "reg_id", g.edge.RegID())
	g.setProperties(ctx, g.edge, es.Properties)

	if err := g.registerMetrics(ctx, g.edge, es.Metrics); err != nil {
		return err
	}

	for _, dc := range g.cfg.Devices {
		dev, err := entity.NewDevice(dc.Name, dc.Type)
		if err != nil {
			return err
		}
		reg, err := g.provider.Register(ctx, dev)
		if err != nil {
			return err
		}
		if err := g.provider.CreateRelationship(ctx, g.edge, reg); err != nil {
			return err
		}
		g.devices = append(g.devices, reg)
		g.logger.Info("device registered", "device", dc.Name, "reg_id", reg.RegID())
		g.setProperties(ctx, reg, dc.Properties)

		if err := g.registerMetrics(ctx, reg, dc.Metrics); err != nil {
			return err
		}
	}
	return nil
}

// setProperties logs failures; properties are descriptive and never block
// sampling.
func (g *gateway) setProperties(ctx context.Context, target *entity.Registered, props map[string]string) {
	if len(props) == 0 {
		return
	}
	err := g.provider.SetProperties(ctx, target, props)
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrNotSupported):
		g.logger.Debug("provider does not store properties", "target", target.Name())
	default:
		g.logger.Warn("set properties failed", "target", target.Name(), "error", err)
	}
}

func (g *gateway) registerMetrics(ctx context.Context, owner *entity.Registered, metrics []config.MetricConfig) error {
	for _, mc := range metrics {
		sampler, err := mc.Sampler.Sampler(timestamp.SystemClock)
		if err != nil {
			return err
		}
		m, err := entity.NewMetric(mc.Name, entity.MetricSpec{
			Unit:            mc.Unit,
			Interval:        mc.Interval,
			AggregationSize: mc.AggregationSize,
			Sampler:         sampler,
			QueueCapacity:   mc.QueueCapacity,
			OverflowPolicy:  buffer.ParseOverflowPolicy(mc.Overflow),
		})
		if err != nil {
			return err
		}
		reg, err := g.provider.Register(ctx, m)
		if err != nil {
			return err
		}
		if mc.Topic != "" {
			attrs, err := transport.NewMessagingAttributes(g.cfg.EdgeSystem.Name,
				transport.WithTopics(mc.Topic, g.cfg.Transport.SubTopic),
				transport.WithQoS(g.cfg.Transport.PubQoS, g.cfg.Transport.SubQoS),
				transport.WithRetain(g.cfg.Transport.Retain))
			if err != nil {
				return err
			}
			g.provider.SetMetricAttributes(m, attrs)
		}
		if err := g.provider.CreateRelationship(ctx, owner, reg); err != nil {
			return err
		}
		g.metrics = append(g.metrics, reg)
	}
	return nil
}

func (g *gateway) scheduleMetrics() error {
	a, err := agent.New(g.provider, g.cfg.Agent,
		agent.WithLogger(g.logger),
		agent.WithMetricsRegistry(g.registry))
	if err != nil {
		return err
	}
	for _, m := range g.metrics {
		if err := a.Schedule(m); err != nil {
			return err
		}
	}
	g.agent = a
	g.logger.Info("gateway ready",
		"edge_system", g.cfg.EdgeSystem.Name,
		"devices", len(g.devices),
		"metrics", len(g.metrics))
	return nil
}

// close releases components in reverse start order. Errors are logged.
func (g *gateway) close(ctx context.Context) {
	if g.provider != nil {
		if err := g.provider.Close(ctx); err != nil {
			g.logger.Warn("provider close failed", "error", err)
		}
	} else if g.comms != nil {
		_ = g.comms.Close(ctx)
	}
	if g.cache != nil {
		if err := g.cache.Close(); err != nil {
			g.logger.Warn("cache close failed", "error", err)
		}
	}
	if g.ps != nil && g.ps.Status() == transport.StatusConnected {
		if err := g.ps.Disconnect(ctx); err != nil {
			g.logger.Warn("transport disconnect failed", "error", err)
		}
	}
}
