// Package tls builds TLS configurations for the relay's receivers
// (server side) and exporters (client side).
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ServerConfig holds TLS configuration for the receivers.
type ServerConfig struct {
	// Enabled enables TLS for the server.
	Enabled bool
	// CertFile is the path to the server certificate file.
	CertFile string
	// KeyFile is the path to the server private key file.
	KeyFile string
	// CAFile is the path to the CA certificate for client verification (mTLS).
	CAFile string
	// ClientAuth requires and verifies client certificates.
	ClientAuth bool
}

// ClientConfig holds TLS configuration for the exporters.
type ClientConfig struct {
	// Enabled enables custom TLS for the client.
	Enabled bool
	// CertFile is the path to the client certificate file (mTLS).
	CertFile string
	// KeyFile is the path to the client private key file (mTLS).
	KeyFile string
	// CAFile is the path to the CA certificate for server verification.
	CAFile string
	// InsecureSkipVerify skips server certificate verification.
	InsecureSkipVerify bool
	// ServerName overrides the server name used for verification.
	ServerName string
}

// NewServerTLSConfig creates a server TLS configuration, or nil when
// TLS is disabled.
func NewServerTLSConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.ClientAuth && cfg.CAFile != "" {
		pool, err := loadCertPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsConfig, nil
}

// NewClientTLSConfig creates a client TLS configuration, or nil when
// custom TLS is disabled.
func NewClientTLSConfig(cfg ClientConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		ServerName:         cfg.ServerName,
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pool, err := loadCertPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

func loadCertPool(caFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("parse CA certificate %s", caFile)
	}
	return pool, nil
}
