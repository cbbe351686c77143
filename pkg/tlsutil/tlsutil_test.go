package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanket-mindstix/liota/errors"
)

// generateTestCert creates a self-signed certificate for testing
func generateTestCert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Liota Test"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM
}

func newCertFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	certPEM, keyPEM := generateTestCert(t)
	require.NoError(t, afero.WriteFile(fs, "/certs/ca.pem", certPEM, 0o600))
	require.NoError(t, afero.WriteFile(fs, "/certs/client.crt", certPEM, 0o600))
	require.NoError(t, afero.WriteFile(fs, "/certs/client.key", keyPEM, 0o600))
	return fs
}

func TestValidateIdentityFs(t *testing.T) {
	fs := newCertFs(t)

	tests := []struct {
		name    string
		id      Identity
		wantErr bool
	}{
		{"root ca only", Identity{RootCACert: "/certs/ca.pem"}, false},
		{"full bundle", Identity{
			RootCACert: "/certs/ca.pem", Username: "edge", Password: "secret",
			ClientCertFile: "/certs/client.crt", ClientKeyFile: "/certs/client.key",
		}, false},
		{"empty root ca", Identity{RootCACert: ""}, true},
		{"blank root ca", Identity{RootCACert: "   "}, true},
		{"missing root ca", Identity{RootCACert: "/certs/nope.pem"}, true},
		{"missing client cert", Identity{
			RootCACert: "/certs/ca.pem", ClientCertFile: "/certs/missing.crt", ClientKeyFile: "/certs/client.key",
		}, true},
		{"missing client key", Identity{
			RootCACert: "/certs/ca.pem", ClientCertFile: "/certs/client.crt", ClientKeyFile: "/certs/missing.key",
		}, true},
		{"blank client cert", Identity{RootCACert: "/certs/ca.pem", ClientCertFile: " "}, true},
		{"cert without key", Identity{RootCACert: "/certs/ca.pem", ClientCertFile: "/certs/client.crt"}, true},
		{"password without username", Identity{RootCACert: "/certs/ca.pem", Password: "secret"}, true},
		{"username without password", Identity{RootCACert: "/certs/ca.pem", Username: "edge"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentityFs(fs, tt.id)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoadClientConfig(t *testing.T) {
	fs := newCertFs(t)
	id := Identity{
		RootCACert:     "/certs/ca.pem",
		ClientCertFile: "/certs/client.crt",
		ClientKeyFile:  "/certs/client.key",
	}

	cfg, err := LoadClientConfig(fs, id, DefaultTLSConf())
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)
	assert.Len(t, cfg.Certificates, 1)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
}

func TestLoadClientConfig_CertNone(t *testing.T) {
	fs := newCertFs(t)
	cfg, err := LoadClientConfig(fs, Identity{RootCACert: "/certs/ca.pem"}, TLSConf{Version: "1.3"})
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.Empty(t, cfg.Certificates)
}

func TestLoadClientConfig_Ciphers(t *testing.T) {
	fs := newCertFs(t)
	id := Identity{RootCACert: "/certs/ca.pem"}

	cfg, err := LoadClientConfig(fs, id, TLSConf{
		CertRequired: true,
		Ciphers:      []string{"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256"},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint16{tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256}, cfg.CipherSuites)

	_, err = LoadClientConfig(fs, id, TLSConf{Ciphers: []string{"NOT_A_SUITE"}})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestLoadClientConfig_BadPEM(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/ca.pem", []byte("not pem"), 0o600))

	_, err := LoadClientConfig(fs, Identity{RootCACert: "/ca.pem"}, DefaultTLSConf())
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestValidateIdentity_HostFs(t *testing.T) {
	err := ValidateIdentity(Identity{RootCACert: t.TempDir() + "/absent.pem"})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}
