package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanket-mindstix/liota/agent"
	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/transport"
)

const baseConfig = `{
	"edge_system": {
		"name": "EdgeA",
		"metrics": [
			{"name": "CPU", "unit": "percent", "interval": "10s", "aggregation_size": 6,
			 "sampler": {"kind": "random_walk", "value": 20, "step": 2, "min": 0, "max": 100}}
		]
	},
	"devices": [
		{"name": "Sensor", "type": "SimulatedDevice", "properties": {"location": "lab"},
		 "metrics": [
			{"name": "Temp", "unit": "degC", "interval": "5s",
			 "sampler": {"kind": "sine", "value": 20, "amplitude": 5, "period": "10m"}}
		 ]}
	],
	"transport": {
		"kind": "mqtt",
		"mqtt": {"url": "tcp://broker:1883", "client_id": "edge-a", "keep_alive": "30s",
		         "qos": {"max_in_flight": 10, "retry_interval": "2s"}}
	},
	"dcc": {
		"kind": "iotcc",
		"iotcc": {"username": "admin", "password": "secret",
		          "registration": {"max_attempts": 5, "backoff": "1s", "response_timeout": "3s"}}
	},
	"cache": {"dir": "/var/lib/liota/cache", "side_file_dir": "/var/lib/liota/devices"}
}`

func writeLayer(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func newTestLoader(t *testing.T, env map[string]string, layers ...string) *Loader {
	t.Helper()
	fs := afero.NewMemMapFs()
	l := NewLoader(fs)
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	for i, layer := range layers {
		path := "/etc/liota/layer" + string(rune('0'+i)) + ".json"
		writeLayer(t, fs, path, layer)
		l.AddLayer(path)
	}
	return l
}

func TestLoader_LoadJSON(t *testing.T) {
	cfg, err := newTestLoader(t, nil, baseConfig).Load()
	require.NoError(t, err)

	assert.Equal(t, "EdgeA", cfg.EdgeSystem.Name)
	require.Len(t, cfg.EdgeSystem.Metrics, 1)
	cpu := cfg.EdgeSystem.Metrics[0]
	assert.Equal(t, 10*time.Second, cpu.Interval)
	assert.Equal(t, 6, cpu.AggregationSize)
	assert.Equal(t, agent.SimRandomWalk, cpu.Sampler.Kind)

	require.Len(t, cfg.Devices, 1)
	dev := cfg.Devices[0]
	assert.Equal(t, "SimulatedDevice", dev.Type)
	assert.Equal(t, map[string]string{"location": "lab"}, dev.Properties)
	assert.Equal(t, 10*time.Minute, dev.Metrics[0].Sampler.Period)

	assert.Equal(t, "tcp://broker:1883", cfg.Transport.MQTT.URL)
	assert.Equal(t, 30*time.Second, cfg.Transport.MQTT.KeepAlive)
	assert.Equal(t, 10, cfg.Transport.MQTT.QoS.MaxInFlight)
	assert.Equal(t, 2*time.Second, cfg.Transport.MQTT.QoS.RetryInterval)

	reg := cfg.DCC.IoTCC.Registration
	assert.Equal(t, 5, reg.MaxAttempts)
	assert.Equal(t, time.Second, reg.Backoff)
	assert.Equal(t, 3*time.Second, reg.ResponseTimeout)
}

func TestLoader_Defaults(t *testing.T) {
	cfg, err := newTestLoader(t, nil, `{"edge_system": {"name": "EdgeA"}}`).Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, TransportMQTT, cfg.Transport.Kind)
	assert.True(t, cfg.Transport.MQTT.CleanSession)
	assert.Equal(t, 60*time.Second, cfg.Transport.MQTT.KeepAlive)
	assert.Equal(t, transport.AtLeastOnce, cfg.Transport.PubQoS)
	assert.Equal(t, DCCIoTCC, cfg.DCC.Kind)
	assert.Equal(t, CommsTransport, cfg.DCC.Comms)
	assert.Equal(t, 24, cfg.DCC.IoTCC.Registration.MaxAttempts)
	assert.True(t, cfg.DCC.AWSIoT.EncloseMetadata)
	assert.Equal(t, "file", cfg.Identity.Store)
	assert.Equal(t, agent.DefaultConfig(), cfg.Agent)
}

func TestLoader_LayersMerge(t *testing.T) {
	override := `{
		"log": {"level": "debug"},
		"transport": {"mqtt": {"url": "tcp://other:1883"}},
		"devices": [{"name": "Pump", "type": "Actuator"}],
		"metrics": {"enabled": false}
	}`
	cfg, err := newTestLoader(t, nil, baseConfig, override).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format, "untouched keys keep lower layers")
	assert.Equal(t, "tcp://other:1883", cfg.Transport.MQTT.URL)
	assert.Equal(t, "edge-a", cfg.Transport.MQTT.ClientID)
	assert.Equal(t, 30*time.Second, cfg.Transport.MQTT.KeepAlive)
	assert.False(t, cfg.Metrics.Enabled)

	require.Len(t, cfg.Devices, 1, "arrays are replaced")
	assert.Equal(t, "Pump", cfg.Devices[0].Name)
}

func TestLoader_EnvOverrides(t *testing.T) {
	env := map[string]string{
		"LIOTA_EDGE_SYSTEM_NAME": "EdgeFromEnv",
		"LIOTA_LOG_LEVEL":        "WARN",
		"LIOTA_TRANSPORT_KIND":   "nats",
		"LIOTA_TRANSPORT_URL":    "nats://nats:4222",
		"LIOTA_DCC_PASSWORD":     "from-env",
		"LIOTA_AGENT_RATE_LIMIT": "2.5",
		"LIOTA_CACHE_DIR":        "",
	}
	cfg, err := newTestLoader(t, env, baseConfig).Load()
	require.NoError(t, err)

	assert.Equal(t, "EdgeFromEnv", cfg.EdgeSystem.Name)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, TransportNATS, cfg.Transport.Kind)
	assert.Equal(t, "nats://nats:4222", cfg.Transport.NATS.URL)
	assert.Equal(t, "tcp://broker:1883", cfg.Transport.MQTT.URL)
	assert.Equal(t, "from-env", cfg.DCC.IoTCC.Password)
	assert.Equal(t, 2.5, cfg.Agent.RateLimit)
	assert.Equal(t, "/var/lib/liota/cache", cfg.Cache.Dir, "empty variables are ignored")
}

func TestLoader_EnvErrors(t *testing.T) {
	_, err := newTestLoader(t, map[string]string{"LIOTA_AGENT_RATE_LIMIT": "fast"}, baseConfig).Load()
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = newTestLoader(t, map[string]string{"LIOTA_EDGE_SYSTEM_NAME": "a\x00b"}, baseConfig).Load()
	assert.True(t, errors.IsInvalid(err))
}

func TestLoader_FileErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		layer  string
		create bool
	}{
		{name: "missing file", path: "/etc/liota/missing.json"},
		{name: "not json extension", path: "/etc/liota/gateway.yaml", layer: "{}", create: true},
		{name: "traversal", path: "../../etc/passwd.json"},
		{name: "malformed", path: "/etc/liota/bad.json", layer: `{"log": {`, create: true},
		{name: "bad duration", path: "/etc/liota/dur.json", layer: `{"agent": {"stop_timeout": "soon"}}`, create: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			if tt.create {
				writeLayer(t, fs, tt.path, tt.layer)
			}
			_, err := NewLoader(fs).LoadFile(tt.path)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing edge name", func(c *Config) { c.EdgeSystem.Name = "" }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad transport kind", func(c *Config) { c.Transport.Kind = "amqp" }},
		{"qos out of range", func(c *Config) { c.Transport.PubQoS = 3 }},
		{"bad dcc kind", func(c *Config) { c.DCC.Kind = "azure" }},
		{"metrics without addr", func(c *Config) { c.Metrics.Addr = "" }},
		{"cache without dir", func(c *Config) { c.Cache.Dir = "" }},
		{"bad mqtt url", func(c *Config) { c.Transport.MQTT.URL = "http://broker" }},
		{"tls without root ca", func(c *Config) { c.Transport.MQTT.URL = "ssl://broker:8883" }},
		{"nats without url", func(c *Config) {
			c.Transport.Kind = TransportNATS
			c.Transport.NATS.URL = ""
		}},
		{"persistent nats session without name", func(c *Config) {
			c.Transport.Kind = TransportNATS
			c.Transport.NATS.CleanSession = false
		}},
		{"iotcc half credentials", func(c *Config) { c.DCC.IoTCC.Password = "" }},
		{"websocket without url", func(c *Config) { c.DCC.Comms = CommsWebSocket }},
		{"websocket with awsiot", func(c *Config) {
			c.DCC.Kind = DCCAWSIoT
			c.DCC.Comms = CommsWebSocket
			c.DCC.WebSocket.URL = "wss://dcc/ws"
		}},
		{"nats identity on mqtt", func(c *Config) {
			c.Identity.Store = "nats"
			c.Identity.Bucket = "liota"
		}},
		{"sub-second metric", func(c *Config) { c.Devices[0].Metrics[0].Interval = 500 * time.Millisecond }},
		{"unknown overflow", func(c *Config) { c.Devices[0].Metrics[0].Overflow = "spill" }},
		{"missing sampler", func(c *Config) { c.Devices[0].Metrics[0].Sampler = agent.Simulation{} }},
		{"device without type", func(c *Config) { c.Devices[0].Type = "" }},
		{"duplicate device", func(c *Config) { c.Devices = append(c.Devices, c.Devices[0]) }},
		{"duplicate metric", func(c *Config) {
			c.EdgeSystem.Metrics = append(c.EdgeSystem.Metrics, c.EdgeSystem.Metrics[0])
		}},
		{"bad agent", func(c *Config) { c.Agent.Workers = 0 }},
	}

	base, err := newTestLoader(t, nil, baseConfig).Load()
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := clone(t, base)
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}

func TestValidate_FieldNamesInMessage(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "edge_system.name")
}

func TestLoader_ValidationDisabled(t *testing.T) {
	l := newTestLoader(t, nil, `{"log": {"level": "loud"}}`)
	l.EnableValidation(false)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "loud", cfg.Log.Level)
}

func TestString_MasksSecrets(t *testing.T) {
	cfg, err := newTestLoader(t, nil, baseConfig).Load()
	require.NoError(t, err)
	cfg.Transport.MQTT.Identity.Password = "broker-secret"

	out := cfg.String()
	assert.NotContains(t, out, "secret\"")
	assert.NotContains(t, out, "broker-secret")
	assert.Contains(t, out, `"username": "admin"`)
	assert.Equal(t, "secret", cfg.DCC.IoTCC.Password, "String does not mutate")
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": "}}}{{{", "b": [1, {"c": "\"]"}]}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": [}`)))
	assert.Error(t, validateJSONDepth([]byte(`}`)))

	deep := make([]byte, 0, 2*(maxJSONDepth+1))
	for range maxJSONDepth + 1 {
		deep = append(deep, '[')
	}
	for range maxJSONDepth + 1 {
		deep = append(deep, ']')
	}
	assert.Error(t, validateJSONDepth(deep))
}

func TestParseDurationWithDays(t *testing.T) {
	d, err := parseDurationWithDays("14d")
	require.NoError(t, err)
	assert.Equal(t, 14*24*time.Hour, d)

	d, err = parseDurationWithDays("90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = parseDurationWithDays("xd")
	assert.Error(t, err)
}

func clone(t *testing.T, cfg *Config) *Config {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	var out Config
	require.NoError(t, json.Unmarshal(data, &out))
	return &out
}
