package mqtt

import (
	"net/url"
	"time"

	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/pkg/tlsutil"
	"github.com/sanket-mindstix/liota/transport"
)

// Config configures the MQTT client.
type Config struct {
	// URL is the broker address: tcp://, ssl://, tls://, mqtts://, ws:// or wss://.
	URL      string `json:"url"`
	ClientID string `json:"client_id"`
	// CleanSession false keeps subscriptions and queued messages across
	// reconnects and requires a stable ClientID.
	CleanSession bool `json:"clean_session"`
	// ProtocolVersion is 3 (MQTT 3.1) or 4 (MQTT 3.1.1).
	ProtocolVersion uint `json:"protocol_version"`

	KeepAlive         time.Duration `json:"keep_alive"`
	ConnectTimeout    time.Duration `json:"connect_timeout"`
	DisconnectTimeout time.Duration `json:"disconnect_timeout"`

	AutoReconnect        bool          `json:"auto_reconnect"`
	MaxReconnectInterval time.Duration `json:"max_reconnect_interval"`

	// StoreDir persists in-flight QoS 1/2 messages when CleanSession is false.
	StoreDir string `json:"store_dir,omitempty"`

	QoS      transport.QoSDetails `json:"qos"`
	Identity tlsutil.Identity     `json:"identity"`
	TLS      tlsutil.TLSConf      `json:"tls"`
}

// DefaultConfig returns a clean-session MQTT 3.1.1 configuration.
func DefaultConfig() Config {
	return Config{
		URL:                  "tcp://localhost:1883",
		CleanSession:         true,
		ProtocolVersion:      4,
		KeepAlive:            60 * time.Second,
		ConnectTimeout:       10 * time.Second,
		DisconnectTimeout:    5 * time.Second,
		AutoReconnect:        true,
		MaxReconnectInterval: 2 * time.Minute,
		QoS:                  transport.DefaultQoSDetails(),
		TLS:                  tlsutil.DefaultTLSConf(),
	}
}

// Validate checks the configuration without touching the network.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" {
		return errors.Configf("mqtt", "Validate", "invalid broker url %q", c.URL)
	}
	if _, ok := schemes[u.Scheme]; !ok {
		return errors.Configf("mqtt", "Validate", "unsupported broker scheme %q", u.Scheme)
	}
	if !c.CleanSession && c.ClientID == "" {
		return errors.Configf("mqtt", "Validate", "client id is required when clean session is disabled")
	}
	if c.ProtocolVersion != 3 && c.ProtocolVersion != 4 {
		return errors.Configf("mqtt", "Validate", "protocol version must be 3 or 4, got %d", c.ProtocolVersion)
	}
	if c.ConnectTimeout <= 0 || c.DisconnectTimeout <= 0 {
		return errors.Configf("mqtt", "Validate", "connect and disconnect timeouts must be positive")
	}
	return c.QoS.Validate()
}

// Secure reports whether the URL scheme requires TLS.
func (c Config) Secure() bool {
	u, err := url.Parse(c.URL)
	if err != nil {
		return false
	}
	return schemes[u.Scheme]
}

// scheme -> TLS required
var schemes = map[string]bool{
	"tcp":   false,
	"mqtt":  false,
	"ws":    false,
	"ssl":   true,
	"tls":   true,
	"mqtts": true,
	"wss":   true,
}
