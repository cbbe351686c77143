package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sanket-mindstix/liota/agent"
	"github.com/sanket-mindstix/liota/dcc/awsiot"
	"github.com/sanket-mindstix/liota/dcc/iotcc"
	"github.com/sanket-mindstix/liota/dcccomms"
	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/pkg/tlsutil"
	"github.com/sanket-mindstix/liota/transport"
	"github.com/sanket-mindstix/liota/transport/mqtt"
)

// Transport kinds.
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

// DCC kinds.
const (
	DCCIoTCC  = "iotcc"
	DCCAWSIoT = "awsiot"
)

// DCC comms kinds.
const (
	CommsTransport = "transport"
	CommsWebSocket = "websocket"
)

// Config is the gateway configuration.
type Config struct {
	EdgeSystem EdgeSystemConfig `json:"edge_system"`
	Devices    []DeviceConfig   `json:"devices" validate:"dive"`

	Log       LogConfig       `json:"log"`
	Metrics   MetricsConfig   `json:"metrics"`
	Transport TransportConfig `json:"transport"`
	DCC       DCCConfig       `json:"dcc"`
	Cache     CacheConfig     `json:"cache"`
	Identity  IdentityConfig  `json:"identity"`
	Agent     agent.Config    `json:"agent"`
}

// EdgeSystemConfig names the gateway and lists metrics sampled on it directly.
type EdgeSystemConfig struct {
	Name       string            `json:"name" validate:"required"`
	Properties map[string]string `json:"properties,omitempty"`
	Metrics    []MetricConfig    `json:"metrics,omitempty" validate:"dive"`
}

// DeviceConfig is one device attached to the edge system.
type DeviceConfig struct {
	Name       string            `json:"name" validate:"required"`
	Type       string            `json:"type" validate:"required"`
	Properties map[string]string `json:"properties,omitempty"`
	Metrics    []MetricConfig    `json:"metrics,omitempty" validate:"dive"`
}

// MetricConfig is one sampled metric.
type MetricConfig struct {
	Name            string        `json:"name" validate:"required"`
	Unit            string        `json:"unit,omitempty"`
	Interval        time.Duration `json:"interval" validate:"gte=1s"`
	AggregationSize int           `json:"aggregation_size" validate:"gte=0"`
	QueueCapacity   int           `json:"queue_capacity,omitempty" validate:"gte=0"`
	Overflow        string        `json:"overflow,omitempty" validate:"omitempty,oneof=drop_oldest drop_newest block"`
	// Topic overrides the DCC publish topic for this metric.
	Topic   string           `json:"topic,omitempty"`
	Sampler agent.Simulation `json:"sampler"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `json:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" validate:"oneof=json text"`
	// File, when set, tees output to a rotated log file.
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `json:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `json:"max_age_days" validate:"gte=0"`
	Compress   bool   `json:"compress"`
}

// MetricsConfig configures the Prometheus and health endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr" validate:"required_if=Enabled true"`
	Path    string `json:"path" validate:"omitempty,startswith=/"`
}

// TransportConfig selects and configures the pub/sub transport.
type TransportConfig struct {
	Kind string      `json:"kind" validate:"oneof=mqtt nats"`
	MQTT mqtt.Config `json:"mqtt"`
	NATS NATSConfig  `json:"nats"`

	// Topics default to liota/<edge>/request and liota/<edge>/response.
	PubTopic string        `json:"pub_topic,omitempty"`
	SubTopic string        `json:"sub_topic,omitempty"`
	PubQoS   transport.QoS `json:"pub_qos" validate:"lte=2"`
	SubQoS   transport.QoS `json:"sub_qos" validate:"lte=2"`
	Retain   bool          `json:"retain"`
}

// NATSConfig configures the NATS transport.
type NATSConfig struct {
	URL               string               `json:"url"`
	Name              string               `json:"name,omitempty"`
	CleanSession      bool                 `json:"clean_session"`
	Stream            string               `json:"stream,omitempty"`
	MaxReconnects     int                  `json:"max_reconnects"`
	ReconnectWait     time.Duration        `json:"reconnect_wait"`
	PingInterval      time.Duration        `json:"ping_interval"`
	ConnectTimeout    time.Duration        `json:"connect_timeout"`
	DisconnectTimeout time.Duration        `json:"disconnect_timeout"`
	QoS               transport.QoSDetails `json:"qos"`
	Identity          tlsutil.Identity     `json:"identity"`
	TLS               tlsutil.TLSConf      `json:"tls"`
}

// DCCConfig selects and configures the data center component.
type DCCConfig struct {
	Kind string `json:"kind" validate:"oneof=iotcc awsiot"`
	// Comms is how DCC messages travel: over the transport, or over a
	// dedicated WebSocket session.
	Comms     string                   `json:"comms" validate:"oneof=transport websocket"`
	WebSocket dcccomms.WebSocketConfig `json:"websocket"`
	IoTCC     iotcc.Config             `json:"iotcc"`
	AWSIoT    awsiot.Config            `json:"awsiot"`
}

// CacheConfig configures the local resource cache.
type CacheConfig struct {
	Enabled bool   `json:"enabled"`
	Backend string `json:"backend" validate:"oneof=file bolt"`
	// Dir holds file records, or the bolt database file.
	Dir string `json:"dir" validate:"required_if=Enabled true"`
	// SideFileDir, when set, receives per-resource attribute files for
	// external agents.
	SideFileDir string `json:"side_file_dir,omitempty"`
}

// IdentityConfig configures where the edge system identity persists.
type IdentityConfig struct {
	Store string `json:"store" validate:"oneof=file nats"`
	Path  string `json:"path" validate:"required_if=Store file"`
	// Bucket and Key locate the record in a NATS KV bucket.
	Bucket string `json:"bucket" validate:"required_if=Store nats"`
	Key    string `json:"key,omitempty"`
}

// Defaults returns the configuration every layer is merged onto.
func Defaults() *Config {
	wsCfg := dcccomms.DefaultWebSocketConfig("")
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Transport: TransportConfig{
			Kind:   TransportMQTT,
			MQTT:   mqtt.DefaultConfig(),
			PubQoS: transport.AtLeastOnce,
			SubQoS: transport.AtLeastOnce,
			NATS: NATSConfig{
				URL:               "nats://localhost:4222",
				CleanSession:      true,
				MaxReconnects:     -1,
				ReconnectWait:     2 * time.Second,
				PingInterval:      30 * time.Second,
				ConnectTimeout:    5 * time.Second,
				DisconnectTimeout: 10 * time.Second,
				QoS:               transport.DefaultQoSDetails(),
				TLS:               tlsutil.DefaultTLSConf(),
			},
		},
		DCC: DCCConfig{
			Kind:      DCCIoTCC,
			Comms:     CommsTransport,
			WebSocket: wsCfg,
			IoTCC:     iotcc.DefaultConfig(),
			AWSIoT:    awsiot.DefaultConfig(),
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: "file",
			Dir:     "/var/lib/liota/cache",
		},
		Identity: IdentityConfig{
			Store: "file",
			Path:  "/var/lib/liota/identity.yaml",
		},
		Agent: agent.DefaultConfig(),
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints, then rules spanning sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fieldErrors(err)
	}

	switch c.Transport.Kind {
	case TransportMQTT:
		if err := c.Transport.MQTT.Validate(); err != nil {
			return err
		}
		if c.Transport.MQTT.Secure() && c.Transport.MQTT.Identity.RootCACert == "" {
			return errors.Configf("config", "Validate", "transport.mqtt.identity.root_ca_cert is required for %s", c.Transport.MQTT.URL)
		}
	case TransportNATS:
		if c.Transport.NATS.URL == "" {
			return errors.Configf("config", "Validate", "transport.nats.url is required")
		}
		if !c.Transport.NATS.CleanSession && c.Transport.NATS.Name == "" {
			return errors.Configf("config", "Validate", "transport.nats.name is required when clean_session is false")
		}
		if err := c.Transport.NATS.QoS.Validate(); err != nil {
			return err
		}
	}

	switch c.DCC.Kind {
	case DCCIoTCC:
		if err := c.DCC.IoTCC.Validate(); err != nil {
			return err
		}
	case DCCAWSIoT:
		if c.DCC.Comms == CommsWebSocket {
			return errors.Configf("config", "Validate", "dcc.comms websocket is only supported by iotcc")
		}
	}
	if c.DCC.Comms == CommsWebSocket && c.DCC.WebSocket.URL == "" {
		return errors.Configf("config", "Validate", "dcc.websocket.url is required")
	}

	if c.Identity.Store == "nats" && c.Transport.Kind != TransportNATS {
		return errors.Configf("config", "Validate", "identity.store nats requires transport.kind nats")
	}

	if err := c.Agent.Validate(); err != nil {
		return err
	}
	return c.validateResources()
}

func (c *Config) validateResources() error {
	devices := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if devices[d.Name] {
			return errors.Configf("config", "Validate", "duplicate device %q", d.Name)
		}
		devices[d.Name] = true
		if err := validateMetrics(d.Name, d.Metrics); err != nil {
			return err
		}
	}
	return validateMetrics(c.EdgeSystem.Name, c.EdgeSystem.Metrics)
}

func validateMetrics(owner string, metrics []MetricConfig) error {
	seen := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		if seen[m.Name] {
			return errors.Configf("config", "Validate", "duplicate metric %q on %q", m.Name, owner)
		}
		seen[m.Name] = true
		if err := m.Sampler.Validate(); err != nil {
			return fmt.Errorf("metric %q on %q: %w", m.Name, owner, err)
		}
	}
	return nil
}

func fieldErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.WrapInvalid(err, "config", "Validate", "validate struct")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
	return errors.Configf("config", "Validate", "%s", strings.Join(msgs, "; "))
}

// String returns the configuration as indented JSON with secrets masked.
func (c *Config) String() string {
	redacted := *c
	redacted.Transport.MQTT.Identity = maskIdentity(c.Transport.MQTT.Identity)
	redacted.Transport.NATS.Identity = maskIdentity(c.Transport.NATS.Identity)
	redacted.DCC.WebSocket.Identity = maskIdentity(c.DCC.WebSocket.Identity)
	if redacted.DCC.IoTCC.Password != "" {
		redacted.DCC.IoTCC.Password = "*****"
	}
	data, _ := json.MarshalIndent(&redacted, "", "  ")
	return string(data)
}

func maskIdentity(id tlsutil.Identity) tlsutil.Identity {
	if id.Password != "" {
		id.Password = "*****"
	}
	return id
}
