// Package tlsutil validates identity material and builds client TLS
// configurations for broker and DCC connections.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/sanket-mindstix/liota/errors"
)

// Identity is the credential bundle presented to a broker or DCC. Empty paths
// are treated as absent.
type Identity struct {
	RootCACert     string `json:"root_ca_cert"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	ClientCertFile string `json:"client_cert_file"`
	ClientKeyFile  string `json:"client_key_file"`
}

// HasClientCert reports whether a client certificate pair is configured.
func (id Identity) HasClientCert() bool {
	return id.ClientCertFile != "" && id.ClientKeyFile != ""
}

// HasCredentials reports whether a username/password pair is configured.
func (id Identity) HasCredentials() bool {
	return id.Username != "" && id.Password != ""
}

// TLSConf holds the TLS session parameters.
type TLSConf struct {
	// CertRequired verifies the server certificate against the root CA.
	CertRequired bool     `json:"cert_required"`
	Version      string   `json:"version"`
	Ciphers      []string `json:"ciphers,omitempty"`
}

// DefaultTLSConf verifies the server and negotiates TLS 1.2 or later.
func DefaultTLSConf() TLSConf {
	return TLSConf{CertRequired: true, Version: "1.2"}
}

// ValidateIdentity checks id against the host filesystem.
func ValidateIdentity(id Identity) error {
	return ValidateIdentityFs(afero.NewOsFs(), id)
}

// ValidateIdentityFs checks the credential bundle before any socket is opened:
// the root CA must be set and exist, a client certificate or key must exist
// when given, certificate and key come as a pair, and username and password
// are both set or both empty.
func ValidateIdentityFs(fs afero.Fs, id Identity) error {
	if strings.TrimSpace(id.RootCACert) == "" {
		return errors.Configf("Identity", "Validate", "root CA certificate path is empty")
	}
	if err := mustExist(fs, "root CA certificate", id.RootCACert); err != nil {
		return err
	}

	for _, f := range []struct{ label, path string }{
		{"client certificate", id.ClientCertFile},
		{"client key", id.ClientKeyFile},
	} {
		if f.path == "" {
			continue
		}
		if strings.TrimSpace(f.path) == "" {
			return errors.Configf("Identity", "Validate", "%s path is blank", f.label)
		}
		if err := mustExist(fs, f.label, f.path); err != nil {
			return err
		}
	}

	if (id.ClientCertFile == "") != (id.ClientKeyFile == "") {
		return errors.Configf("Identity", "Validate", "client certificate and key must be given together")
	}

	if (id.Username == "") != (id.Password == "") {
		return errors.Configf("Identity", "Validate", "username and password must both be set or both be empty")
	}

	return nil
}

func mustExist(fs afero.Fs, label, path string) error {
	ok, err := afero.Exists(fs, path)
	if err != nil {
		return errors.Configf("Identity", "Validate", "stat %s %q: %v", label, path, err)
	}
	if !ok {
		return errors.Configf("Identity", "Validate", "%s %q does not exist", label, path)
	}
	return nil
}

// LoadClientConfig validates id and builds a client tls.Config trusting the
// root CA and presenting the client certificate when configured.
func LoadClientConfig(fs afero.Fs, id Identity, conf TLSConf) (*tls.Config, error) {
	if err := ValidateIdentityFs(fs, id); err != nil {
		return nil, err
	}

	caPEM, err := afero.ReadFile(fs, id.RootCACert)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", fmt.Sprintf("read CA file %s", id.RootCACert))
	}
	rootCAs := x509.NewCertPool()
	if !rootCAs.AppendCertsFromPEM(caPEM) {
		return nil, errors.Configf("tlsutil", "LoadClientConfig", "no PEM certificates in %s", id.RootCACert)
	}

	ciphers, err := parseCiphers(conf.Ciphers)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		RootCAs:      rootCAs,
		MinVersion:   parseTLSVersion(conf.Version),
		CipherSuites: ciphers,
		// CERT_NONE mode is an explicit operator choice
		InsecureSkipVerify: !conf.CertRequired, //nolint:gosec
	}

	if id.HasClientCert() {
		certPEM, err := afero.ReadFile(fs, id.ClientCertFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "read client certificate")
		}
		keyPEM, err := afero.ReadFile(fs, id.ClientKeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "read client key")
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, errors.Configf("tlsutil", "LoadClientConfig", "client key pair: %v", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// parseTLSVersion converts version string to crypto/tls constant
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	case "1.2":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS12
	}
}

func parseCiphers(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}

	known := make(map[string]uint16)
	for _, suite := range tls.CipherSuites() {
		known[suite.Name] = suite.ID
	}

	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := known[name]
		if !ok {
			return nil, errors.Configf("tlsutil", "parseCiphers", "unknown or insecure cipher suite %q", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
