// Package config holds the relay configuration: flags for everything,
// with an optional YAML file overlay. Flags set explicitly on the
// command line win over the file.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/szibis/otlp-relay/internal/auth"
	"github.com/szibis/otlp-relay/internal/compression"
	"github.com/szibis/otlp-relay/internal/exporter"
	"github.com/szibis/otlp-relay/internal/receiver"
	"github.com/szibis/otlp-relay/internal/retry"
	tlspkg "github.com/szibis/otlp-relay/internal/tls"
)

// version is set at build time via ldflags
var version = "dev"

// Config holds the application configuration.
type Config struct {
	// Receiver settings
	GRPCListenAddr string
	HTTPListenAddr string

	// Receiver TLS settings
	ReceiverTLSEnabled    bool
	ReceiverTLSCertFile   string
	ReceiverTLSKeyFile    string
	ReceiverTLSCAFile     string
	ReceiverTLSClientAuth bool

	// Receiver Auth settings
	ReceiverAuthEnabled       bool
	ReceiverAuthBearerToken   string
	ReceiverAuthBasicUsername string
	ReceiverAuthBasicPassword string

	// Receiver HTTP server settings
	ReceiverMaxRequestBodySize int64
	ReceiverReadTimeout        time.Duration
	ReceiverReadHeaderTimeout  time.Duration
	ReceiverWriteTimeout       time.Duration
	ReceiverIdleTimeout        time.Duration

	// Exporter settings
	ExporterEndpoint string
	ExporterProtocol string
	ExporterInsecure bool
	ExporterTimeout  time.Duration

	// Exporter TLS settings
	ExporterTLSEnabled            bool
	ExporterTLSCertFile           string
	ExporterTLSKeyFile            string
	ExporterTLSCAFile             string
	ExporterTLSInsecureSkipVerify bool
	ExporterTLSServerName         string

	// Exporter Auth settings
	ExporterAuthBearerToken   string
	ExporterAuthBasicUsername string
	ExporterAuthBasicPassword string
	ExporterAuthHeaders       string

	// Exporter Compression settings
	ExporterCompression      string
	ExporterCompressionLevel int

	// Exporter HTTP client settings
	ExporterMaxIdleConns         int
	ExporterMaxIdleConnsPerHost  int
	ExporterMaxConnsPerHost      int
	ExporterIdleConnTimeout      time.Duration
	ExporterForceHTTP2           bool
	ExporterHTTP2ReadIdleTimeout time.Duration
	ExporterHTTP2PingTimeout     time.Duration

	// Buffer and batcher settings
	BufferSize    int
	MaxBatchSize  int
	ScheduleDelay time.Duration

	// Retry settings
	RetryWorkers             int
	RetryQueueSize           int
	RetryMaxRetries          int
	RetryInitialInterval     time.Duration
	RetryMaxInterval         time.Duration
	RetryMultiplier          float64
	RetryRandomization       float64
	RetryMaxConcurrentExport int

	// Shutdown settings
	ShutdownTimeout time.Duration

	// Stats settings
	StatsAddr        string
	StatsLogInterval time.Duration

	// Resource attributes (service.name etc.), format: key1=value1,key2=value2
	ResourceAttributes string

	// Telemetry (self-monitoring) settings
	TelemetryEndpoint     string
	TelemetryProtocol     string
	TelemetryInsecure     bool
	TelemetryPushInterval time.Duration
	TelemetryHeaders      string

	// Memory settings
	MemoryLimitRatio float64

	// Logging settings
	LogLevel string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		GRPCListenAddr:            ":4317",
		HTTPListenAddr:            ":4318",
		ReceiverReadHeaderTimeout: time.Minute,
		ReceiverWriteTimeout:      30 * time.Second,
		ReceiverIdleTimeout:       time.Minute,
		ExporterEndpoint:          "localhost:4317",
		ExporterProtocol:          "grpc",
		ExporterInsecure:          true,
		ExporterTimeout:           30 * time.Second,
		ExporterCompression:       "none",
		ExporterMaxIdleConns:      100,
		ExporterMaxIdleConnsPerHost: 100,
		ExporterIdleConnTimeout:   90 * time.Second,
		BufferSize:                2048,
		MaxBatchSize:              512,
		ScheduleDelay:             5 * time.Second,
		RetryWorkers:              2,
		RetryQueueSize:            64,
		RetryMaxRetries:           5,
		RetryInitialInterval:      time.Second,
		RetryMaxInterval:          30 * time.Second,
		RetryMultiplier:           2.0,
		RetryRandomization:        0.2,
		ShutdownTimeout:           30 * time.Second,
		StatsAddr:                 ":9090",
		StatsLogInterval:          time.Minute,
		TelemetryProtocol:         "grpc",
		TelemetryInsecure:         true,
		TelemetryPushInterval:     30 * time.Second,
		MemoryLimitRatio:          0.9,
		LogLevel:                  "info",
	}
}

// ParseFlags parses command-line flags and an optional YAML config
// file into a Config.
func ParseFlags() *Config {
	cfg := DefaultConfig()

	var configFile string
	var showVersion bool
	flag.StringVar(&configFile, "config", "", "Path to YAML configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")

	// Receiver flags
	flag.StringVar(&cfg.GRPCListenAddr, "grpc-listen", cfg.GRPCListenAddr, "gRPC receiver listen address")
	flag.StringVar(&cfg.HTTPListenAddr, "http-listen", cfg.HTTPListenAddr, "HTTP receiver listen address")

	// Receiver TLS flags
	flag.BoolVar(&cfg.ReceiverTLSEnabled, "receiver-tls-enabled", false, "Enable TLS for receivers")
	flag.StringVar(&cfg.ReceiverTLSCertFile, "receiver-tls-cert", "", "Path to receiver TLS certificate file")
	flag.StringVar(&cfg.ReceiverTLSKeyFile, "receiver-tls-key", "", "Path to receiver TLS private key file")
	flag.StringVar(&cfg.ReceiverTLSCAFile, "receiver-tls-ca", "", "Path to CA certificate for client verification (mTLS)")
	flag.BoolVar(&cfg.ReceiverTLSClientAuth, "receiver-tls-client-auth", false, "Require client certificates (mTLS)")

	// Receiver Auth flags
	flag.BoolVar(&cfg.ReceiverAuthEnabled, "receiver-auth-enabled", false, "Enable authentication for receivers")
	flag.StringVar(&cfg.ReceiverAuthBearerToken, "receiver-auth-bearer-token", "", "Bearer token for receiver authentication")
	flag.StringVar(&cfg.ReceiverAuthBasicUsername, "receiver-auth-basic-username", "", "Basic auth username for receivers")
	flag.StringVar(&cfg.ReceiverAuthBasicPassword, "receiver-auth-basic-password", "", "Basic auth password for receivers")

	// Receiver HTTP server flags
	flag.Int64Var(&cfg.ReceiverMaxRequestBodySize, "receiver-max-request-body-size", 0, "Maximum request body size in bytes (0 = no limit)")
	flag.DurationVar(&cfg.ReceiverReadTimeout, "receiver-read-timeout", cfg.ReceiverReadTimeout, "HTTP server read timeout (0 = no timeout)")
	flag.DurationVar(&cfg.ReceiverReadHeaderTimeout, "receiver-read-header-timeout", cfg.ReceiverReadHeaderTimeout, "HTTP server read header timeout")
	flag.DurationVar(&cfg.ReceiverWriteTimeout, "receiver-write-timeout", cfg.ReceiverWriteTimeout, "HTTP server write timeout")
	flag.DurationVar(&cfg.ReceiverIdleTimeout, "receiver-idle-timeout", cfg.ReceiverIdleTimeout, "HTTP server idle timeout")

	// Exporter flags
	flag.StringVar(&cfg.ExporterEndpoint, "exporter-endpoint", cfg.ExporterEndpoint, "OTLP exporter endpoint (host:port or URL)")
	flag.StringVar(&cfg.ExporterProtocol, "exporter-protocol", cfg.ExporterProtocol, "Exporter protocol: grpc or http")
	flag.BoolVar(&cfg.ExporterInsecure, "exporter-insecure", cfg.ExporterInsecure, "Use insecure connection (no TLS) for exporter")
	flag.DurationVar(&cfg.ExporterTimeout, "exporter-timeout", cfg.ExporterTimeout, "Per-attempt export request timeout")

	// Exporter TLS flags
	flag.BoolVar(&cfg.ExporterTLSEnabled, "exporter-tls-enabled", false, "Enable custom TLS config for exporter")
	flag.StringVar(&cfg.ExporterTLSCertFile, "exporter-tls-cert", "", "Path to client certificate file (mTLS)")
	flag.StringVar(&cfg.ExporterTLSKeyFile, "exporter-tls-key", "", "Path to client private key file (mTLS)")
	flag.StringVar(&cfg.ExporterTLSCAFile, "exporter-tls-ca", "", "Path to CA certificate for server verification")
	flag.BoolVar(&cfg.ExporterTLSInsecureSkipVerify, "exporter-tls-skip-verify", false, "Skip TLS certificate verification")
	flag.StringVar(&cfg.ExporterTLSServerName, "exporter-tls-server-name", "", "Override server name for TLS verification")

	// Exporter Auth flags
	flag.StringVar(&cfg.ExporterAuthBearerToken, "exporter-auth-bearer-token", "", "Bearer token for exporter authentication")
	flag.StringVar(&cfg.ExporterAuthBasicUsername, "exporter-auth-basic-username", "", "Basic auth username for exporter")
	flag.StringVar(&cfg.ExporterAuthBasicPassword, "exporter-auth-basic-password", "", "Basic auth password for exporter")
	flag.StringVar(&cfg.ExporterAuthHeaders, "exporter-auth-headers", "", "Custom headers for exporter (format: key1=value1,key2=value2)")

	// Exporter Compression flags
	flag.StringVar(&cfg.ExporterCompression, "exporter-compression", cfg.ExporterCompression, "Compression: none, gzip, zstd, zlib, deflate")
	flag.IntVar(&cfg.ExporterCompressionLevel, "exporter-compression-level", 0, "Compression level (algorithm-specific, 0 for default)")

	// Exporter HTTP client flags
	flag.IntVar(&cfg.ExporterMaxIdleConns, "exporter-max-idle-conns", cfg.ExporterMaxIdleConns, "Maximum idle connections across all hosts")
	flag.IntVar(&cfg.ExporterMaxIdleConnsPerHost, "exporter-max-idle-conns-per-host", cfg.ExporterMaxIdleConnsPerHost, "Maximum idle connections per host")
	flag.IntVar(&cfg.ExporterMaxConnsPerHost, "exporter-max-conns-per-host", 0, "Maximum total connections per host (0 = no limit)")
	flag.DurationVar(&cfg.ExporterIdleConnTimeout, "exporter-idle-conn-timeout", cfg.ExporterIdleConnTimeout, "Idle connection timeout")
	flag.BoolVar(&cfg.ExporterForceHTTP2, "exporter-force-http2", false, "Force HTTP/2 for non-TLS connections")
	flag.DurationVar(&cfg.ExporterHTTP2ReadIdleTimeout, "exporter-http2-read-idle-timeout", 0, "HTTP/2 read idle timeout for health checks")
	flag.DurationVar(&cfg.ExporterHTTP2PingTimeout, "exporter-http2-ping-timeout", 0, "HTTP/2 ping timeout")

	// Buffer and batcher flags
	flag.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "Maximum number of records to buffer")
	flag.IntVar(&cfg.MaxBatchSize, "batch-size", cfg.MaxBatchSize, "Maximum records per export batch")
	flag.DurationVar(&cfg.ScheduleDelay, "schedule-delay", cfg.ScheduleDelay, "Maximum time a batch stays open before the timer closes it")

	// Retry flags
	flag.IntVar(&cfg.RetryWorkers, "retry-workers", cfg.RetryWorkers, "Number of concurrent export workers")
	flag.IntVar(&cfg.RetryQueueSize, "retry-queue-size", cfg.RetryQueueSize, "Capacity of the pending-batch queue")
	flag.IntVar(&cfg.RetryMaxRetries, "retry-max-retries", cfg.RetryMaxRetries, "Retry attempts after the first failure before dropping a batch")
	flag.DurationVar(&cfg.RetryInitialInterval, "retry-initial-interval", cfg.RetryInitialInterval, "Initial retry backoff delay")
	flag.DurationVar(&cfg.RetryMaxInterval, "retry-max-interval", cfg.RetryMaxInterval, "Maximum retry backoff delay")
	flag.Float64Var(&cfg.RetryMultiplier, "retry-multiplier", cfg.RetryMultiplier, "Backoff delay multiplier")
	flag.Float64Var(&cfg.RetryRandomization, "retry-randomization", cfg.RetryRandomization, "Backoff jitter fraction (0 disables jitter)")
	flag.IntVar(&cfg.RetryMaxConcurrentExport, "retry-max-concurrent-exports", 0, "Cap on simultaneous export calls (0 = one per worker)")

	// Shutdown flags
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Maximum time to drain buffered data on shutdown")

	// Stats flags
	flag.StringVar(&cfg.StatsAddr, "stats-addr", cfg.StatsAddr, "Stats/metrics HTTP endpoint address")
	flag.DurationVar(&cfg.StatsLogInterval, "stats-log-interval", cfg.StatsLogInterval, "Interval between periodic stats log lines")

	// Resource flags
	flag.StringVar(&cfg.ResourceAttributes, "resource-attributes", "", "Resource attributes stamped on exported data (format: key1=value1,key2=value2)")

	// Telemetry flags
	flag.StringVar(&cfg.TelemetryEndpoint, "telemetry-endpoint", "", "OTLP endpoint for self-monitoring telemetry (empty = disabled)")
	flag.StringVar(&cfg.TelemetryProtocol, "telemetry-protocol", cfg.TelemetryProtocol, "Telemetry protocol: grpc or http")
	flag.BoolVar(&cfg.TelemetryInsecure, "telemetry-insecure", cfg.TelemetryInsecure, "Use insecure connection for telemetry")
	flag.DurationVar(&cfg.TelemetryPushInterval, "telemetry-push-interval", cfg.TelemetryPushInterval, "Telemetry metric push interval")
	flag.StringVar(&cfg.TelemetryHeaders, "telemetry-headers", "", "Custom headers for telemetry export (format: key1=value1,key2=value2)")

	// Memory flags
	flag.Float64Var(&cfg.MemoryLimitRatio, "memory-limit-ratio", cfg.MemoryLimitRatio, "Fraction of container memory to use for GOMEMLIMIT")

	// Logging flags
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Minimum log level: debug, info, warn, error")

	flag.Parse()

	if showVersion {
		fmt.Printf("otlp-relay %s\n", version)
		os.Exit(0)
	}

	if configFile != "" {
		if err := cfg.applyYAMLFile(configFile, explicitFlags()); err != nil {
			fmt.Fprintf(os.Stderr, "error loading config file: %v\n", err)
			os.Exit(1)
		}
	}

	return cfg
}

// explicitFlags returns the set of flag names the user set on the
// command line. YAML values never override these.
func explicitFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer-size must be positive, got %d", c.BufferSize)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("batch-size must be positive, got %d", c.MaxBatchSize)
	}
	if c.MaxBatchSize > c.BufferSize {
		return fmt.Errorf("batch-size (%d) must not exceed buffer-size (%d)", c.MaxBatchSize, c.BufferSize)
	}
	if c.ScheduleDelay <= 0 {
		return fmt.Errorf("schedule-delay must be positive, got %s", c.ScheduleDelay)
	}
	if c.ExporterProtocol != "grpc" && c.ExporterProtocol != "http" {
		return fmt.Errorf("exporter-protocol must be grpc or http, got %q", c.ExporterProtocol)
	}
	if c.RetryMaxRetries < 0 {
		return fmt.Errorf("retry-max-retries must not be negative, got %d", c.RetryMaxRetries)
	}
	if c.RetryMultiplier <= 1 {
		return fmt.Errorf("retry-multiplier must be greater than 1, got %g", c.RetryMultiplier)
	}
	if c.RetryRandomization < 0 || c.RetryRandomization >= 1 {
		return fmt.Errorf("retry-randomization must be in [0, 1), got %g", c.RetryRandomization)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown-timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if _, err := compression.ParseType(c.ExporterCompression); err != nil {
		return err
	}
	if c.ReceiverTLSEnabled && (c.ReceiverTLSCertFile == "" || c.ReceiverTLSKeyFile == "") {
		return fmt.Errorf("receiver TLS requires both cert and key files")
	}
	return nil
}

// ReceiverTLSConfig returns the receiver TLS configuration.
func (c *Config) ReceiverTLSConfig() tlspkg.ServerConfig {
	return tlspkg.ServerConfig{
		Enabled:    c.ReceiverTLSEnabled,
		CertFile:   c.ReceiverTLSCertFile,
		KeyFile:    c.ReceiverTLSKeyFile,
		CAFile:     c.ReceiverTLSCAFile,
		ClientAuth: c.ReceiverTLSClientAuth,
	}
}

// ReceiverAuthConfig returns the receiver authentication configuration.
func (c *Config) ReceiverAuthConfig() auth.ServerConfig {
	return auth.ServerConfig{
		Enabled:       c.ReceiverAuthEnabled,
		BearerToken:   c.ReceiverAuthBearerToken,
		BasicUsername: c.ReceiverAuthBasicUsername,
		BasicPassword: c.ReceiverAuthBasicPassword,
	}
}

// GRPCReceiverConfig returns the gRPC receiver configuration.
func (c *Config) GRPCReceiverConfig() receiver.GRPCConfig {
	return receiver.GRPCConfig{
		Address: c.GRPCListenAddr,
		TLS:     c.ReceiverTLSConfig(),
		Auth:    c.ReceiverAuthConfig(),
	}
}

// HTTPReceiverConfig returns the HTTP receiver configuration.
func (c *Config) HTTPReceiverConfig() receiver.HTTPConfig {
	return receiver.HTTPConfig{
		Address:            c.HTTPListenAddr,
		TLS:                c.ReceiverTLSConfig(),
		Auth:               c.ReceiverAuthConfig(),
		MaxRequestBodySize: c.ReceiverMaxRequestBodySize,
		ReadTimeout:        c.ReceiverReadTimeout,
		ReadHeaderTimeout:  c.ReceiverReadHeaderTimeout,
		WriteTimeout:       c.ReceiverWriteTimeout,
		IdleTimeout:        c.ReceiverIdleTimeout,
	}
}

// ExporterConfig returns the exporter configuration.
func (c *Config) ExporterConfig() exporter.Config {
	compType, _ := compression.ParseType(c.ExporterCompression)
	return exporter.Config{
		Endpoint: c.ExporterEndpoint,
		Protocol: exporter.Protocol(c.ExporterProtocol),
		Insecure: c.ExporterInsecure,
		Timeout:  c.ExporterTimeout,
		TLS: tlspkg.ClientConfig{
			Enabled:            c.ExporterTLSEnabled,
			CertFile:           c.ExporterTLSCertFile,
			KeyFile:            c.ExporterTLSKeyFile,
			CAFile:             c.ExporterTLSCAFile,
			InsecureSkipVerify: c.ExporterTLSInsecureSkipVerify,
			ServerName:         c.ExporterTLSServerName,
		},
		Auth: auth.ClientConfig{
			BearerToken:   c.ExporterAuthBearerToken,
			BasicUsername: c.ExporterAuthBasicUsername,
			BasicPassword: c.ExporterAuthBasicPassword,
			Headers:       ParseKeyValues(c.ExporterAuthHeaders),
		},
		Compression: compression.Config{
			Type:  compType,
			Level: c.ExporterCompressionLevel,
		},
		HTTPClient: exporter.HTTPClientConfig{
			MaxIdleConns:         c.ExporterMaxIdleConns,
			MaxIdleConnsPerHost:  c.ExporterMaxIdleConnsPerHost,
			MaxConnsPerHost:      c.ExporterMaxConnsPerHost,
			IdleConnTimeout:      c.ExporterIdleConnTimeout,
			ForceAttemptHTTP2:    c.ExporterForceHTTP2,
			HTTP2ReadIdleTimeout: c.ExporterHTTP2ReadIdleTimeout,
			HTTP2PingTimeout:     c.ExporterHTTP2PingTimeout,
		},
		Resource: ParseKeyValues(c.ResourceAttributes),
	}
}

// RetryConfig returns the retry controller configuration.
func (c *Config) RetryConfig() retry.Config {
	return retry.Config{
		Workers:              c.RetryWorkers,
		QueueSize:            c.RetryQueueSize,
		MaxRetries:           c.RetryMaxRetries,
		InitialInterval:      c.RetryInitialInterval,
		MaxInterval:          c.RetryMaxInterval,
		Multiplier:           c.RetryMultiplier,
		RandomizationFactor:  c.RetryRandomization,
		MaxConcurrentExports: c.RetryMaxConcurrentExport,
	}
}

// ParseKeyValues parses "key1=value1,key2=value2" into a map. Empty
// input returns nil.
func ParseKeyValues(s string) map[string]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) == 2 && kv[0] != "" {
			out[kv[0]] = kv[1]
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
