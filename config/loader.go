package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/sanket-mindstix/liota/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LIOTA"

// durationKeys are object keys whose string values are parsed as durations.
var durationKeys = map[string]bool{
	"keep_alive":             true,
	"connect_timeout":        true,
	"disconnect_timeout":     true,
	"max_reconnect_interval": true,
	"retry_interval":         true,
	"reconnect_wait":         true,
	"ping_interval":          true,
	"handshake_timeout":      true,
	"write_timeout":          true,
	"login_timeout":          true,
	"backoff":                true,
	"response_timeout":       true,
	"interval":               true,
	"period":                 true,
	"stop_timeout":           true,
	"stats_interval":         true,
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	fs         afero.Fs
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader reading layers from fs. A nil fs is the host
// filesystem.
func NewLoader(fs afero.Fs) *Loader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Loader{
		fs:         fs,
		validation: true,
		envPrefix:  EnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges the defaults, every layer and the environment, then validates.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Defaults())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRawJSON(path)
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("failed to load %s: %w", path, err), "Loader", "Load", "read layer")
		}
		merged = deepMergeMaps(merged, raw)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode merged layers")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode configuration")
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// loadRawJSON loads configuration from a JSON file as a map
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(l.fs, path)
	if err != nil {
		return nil, err
	}

	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Arrays are replaced, not merged.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// parseDurations rewrites duration strings under known keys as nanoseconds,
// at any depth.
func parseDurations(v any) error {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			if s, ok := child.(string); ok && durationKeys[k] {
				d, err := parseDurationWithDays(s)
				if err != nil {
					return fmt.Errorf("%s: invalid duration %q: %w", k, s, err)
				}
				node[k] = d.Nanoseconds()
				continue
			}
			if err := parseDurations(child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range node {
			if err := parseDurations(child); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides applies LIOTA_* variables on top of the file layers.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	overrides := []struct {
		key   string
		apply func(string) error
	}{
		{"EDGE_SYSTEM_NAME", func(v string) error { cfg.EdgeSystem.Name = v; return nil }},
		{"LOG_LEVEL", func(v string) error { cfg.Log.Level = strings.ToLower(v); return nil }},
		{"LOG_FORMAT", func(v string) error { cfg.Log.Format = strings.ToLower(v); return nil }},
		{"LOG_FILE", func(v string) error { cfg.Log.File = v; return nil }},
		{"METRICS_ADDR", func(v string) error { cfg.Metrics.Addr = v; return nil }},
		{"TRANSPORT_KIND", func(v string) error { cfg.Transport.Kind = v; return nil }},
		{"TRANSPORT_URL", func(v string) error {
			// Applies to the kind selected after TRANSPORT_KIND.
			if cfg.Transport.Kind == TransportNATS {
				cfg.Transport.NATS.URL = v
			} else {
				cfg.Transport.MQTT.URL = v
			}
			return nil
		}},
		{"TRANSPORT_CLIENT_ID", func(v string) error {
			cfg.Transport.MQTT.ClientID = v
			cfg.Transport.NATS.Name = v
			return nil
		}},
		{"DCC_KIND", func(v string) error { cfg.DCC.Kind = v; return nil }},
		{"DCC_USERNAME", func(v string) error { cfg.DCC.IoTCC.Username = v; return nil }},
		{"DCC_PASSWORD", func(v string) error { cfg.DCC.IoTCC.Password = v; return nil }},
		{"DCC_WEBSOCKET_URL", func(v string) error { cfg.DCC.WebSocket.URL = v; return nil }},
		{"CACHE_DIR", func(v string) error { cfg.Cache.Dir = v; return nil }},
		{"IDENTITY_PATH", func(v string) error { cfg.Identity.Path = v; return nil }},
		{"AGENT_RATE_LIMIT", func(v string) error {
			r, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			cfg.Agent.RateLimit = r
			return nil
		}},
	}

	for _, o := range overrides {
		name := l.envPrefix + "_" + o.key
		val, ok := l.lookupEnv(name)
		if !ok || val == "" {
			continue
		}
		if err := validateEnvVar(name, val); err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "validate environment")
		}
		if err := o.apply(val); err != nil {
			return errors.Configf("Loader", "applyEnvOverrides", "%s: %v", name, err)
		}
	}
	return nil
}
