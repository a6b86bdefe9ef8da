package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	stdtls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTestCertPair generates a self-signed certificate and key and
// writes them as PEM files under a temp dir.
func writeTestCertPair(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Generate key: %v", err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("Marshal key: %v", err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestNewServerTLSConfigDisabled(t *testing.T) {
	cfg, err := NewServerTLSConfig(ServerConfig{})
	if err != nil {
		t.Fatalf("Disabled server TLS: %v", err)
	}
	if cfg != nil {
		t.Error("Disabled server TLS must return nil config")
	}
}

func TestNewServerTLSConfig(t *testing.T) {
	certFile, keyFile := writeTestCertPair(t)

	cfg, err := NewServerTLSConfig(ServerConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	})
	if err != nil {
		t.Fatalf("NewServerTLSConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("Certificates = %d, expected 1", len(cfg.Certificates))
	}
	if cfg.MinVersion != stdtls.VersionTLS12 {
		t.Errorf("MinVersion = %x, expected TLS 1.2", cfg.MinVersion)
	}
	if cfg.ClientAuth != stdtls.NoClientCert {
		t.Errorf("ClientAuth = %v without mTLS", cfg.ClientAuth)
	}
}

func TestNewServerTLSConfigMutualTLS(t *testing.T) {
	certFile, keyFile := writeTestCertPair(t)

	cfg, err := NewServerTLSConfig(ServerConfig{
		Enabled:    true,
		CertFile:   certFile,
		KeyFile:    keyFile,
		CAFile:     certFile,
		ClientAuth: true,
	})
	if err != nil {
		t.Fatalf("NewServerTLSConfig: %v", err)
	}
	if cfg.ClientAuth != stdtls.RequireAndVerifyClientCert {
		t.Errorf("ClientAuth = %v, expected RequireAndVerifyClientCert", cfg.ClientAuth)
	}
	if cfg.ClientCAs == nil {
		t.Error("ClientCAs not loaded")
	}
}

func TestNewServerTLSConfigMissingFiles(t *testing.T) {
	_, err := NewServerTLSConfig(ServerConfig{
		Enabled:  true,
		CertFile: "/nonexistent/cert.pem",
		KeyFile:  "/nonexistent/key.pem",
	})
	if err == nil {
		t.Error("Expected error for missing certificate files")
	}
}

func TestNewClientTLSConfigDisabled(t *testing.T) {
	cfg, err := NewClientTLSConfig(ClientConfig{})
	if err != nil {
		t.Fatalf("Disabled client TLS: %v", err)
	}
	if cfg != nil {
		t.Error("Disabled client TLS must return nil config")
	}
}

func TestNewClientTLSConfig(t *testing.T) {
	certFile, keyFile := writeTestCertPair(t)

	cfg, err := NewClientTLSConfig(ClientConfig{
		Enabled:    true,
		CertFile:   certFile,
		KeyFile:    keyFile,
		CAFile:     certFile,
		ServerName: "collector.internal",
	})
	if err != nil {
		t.Fatalf("NewClientTLSConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("Certificates = %d, expected 1", len(cfg.Certificates))
	}
	if cfg.RootCAs == nil {
		t.Error("RootCAs not loaded")
	}
	if cfg.ServerName != "collector.internal" {
		t.Errorf("ServerName = %q", cfg.ServerName)
	}
}

func TestNewClientTLSConfigSkipVerify(t *testing.T) {
	cfg, err := NewClientTLSConfig(ClientConfig{Enabled: true, InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("NewClientTLSConfig: %v", err)
	}
	if !cfg.InsecureSkipVerify {
		t.Error("InsecureSkipVerify not propagated")
	}
}

func TestNewClientTLSConfigBadCA(t *testing.T) {
	badCA := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(badCA, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewClientTLSConfig(ClientConfig{Enabled: true, CAFile: badCA})
	if err == nil {
		t.Error("Expected error for unparseable CA file")
	}
}
