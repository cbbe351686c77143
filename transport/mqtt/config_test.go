package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sanket-mindstix/liota/errors"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"websocket tls", func(c *Config) { c.URL = "wss://iot.example.com:443/mqtt" }, false},
		{"missing host", func(c *Config) { c.URL = "tcp://" }, true},
		{"unknown scheme", func(c *Config) { c.URL = "http://broker:80" }, true},
		{"persistent session needs client id", func(c *Config) { c.CleanSession = false }, true},
		{"persistent session with client id", func(c *Config) { c.CleanSession = false; c.ClientID = "edge-1" }, false},
		{"bad protocol", func(c *Config) { c.ProtocolVersion = 5 }, true},
		{"zero connect timeout", func(c *Config) { c.ConnectTimeout = 0 }, true},
		{"negative in-flight", func(c *Config) { c.QoS.MaxInFlight = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Secure(t *testing.T) {
	for url, want := range map[string]bool{
		"tcp://h:1883":  false,
		"ws://h:80":     false,
		"ssl://h:8883":  true,
		"mqtts://h:1":   true,
		"wss://h:443/m": true,
	} {
		assert.Equal(t, want, Config{URL: url}.Secure(), url)
	}
}
