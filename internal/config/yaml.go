package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the YAML configuration file structure.
type YAMLConfig struct {
	Receiver  ReceiverYAMLConfig  `yaml:"receiver"`
	Exporter  ExporterYAMLConfig  `yaml:"exporter"`
	Buffer    BufferYAMLConfig    `yaml:"buffer"`
	Retry     RetryYAMLConfig     `yaml:"retry"`
	Shutdown  ShutdownYAMLConfig  `yaml:"shutdown"`
	Stats     StatsYAMLConfig     `yaml:"stats"`
	Resource  map[string]string   `yaml:"resource"`
	Telemetry TelemetryYAMLConfig `yaml:"telemetry"`
	Memory    MemoryYAMLConfig    `yaml:"memory"`
	LogLevel  string              `yaml:"log_level"`
}

// ReceiverYAMLConfig holds receiver configuration.
type ReceiverYAMLConfig struct {
	GRPC struct {
		Address string `yaml:"address"`
	} `yaml:"grpc"`
	HTTP struct {
		Address            string   `yaml:"address"`
		MaxRequestBodySize int64    `yaml:"max_request_body_size"`
		ReadTimeout        Duration `yaml:"read_timeout"`
		ReadHeaderTimeout  Duration `yaml:"read_header_timeout"`
		WriteTimeout       Duration `yaml:"write_timeout"`
		IdleTimeout        Duration `yaml:"idle_timeout"`
	} `yaml:"http"`
	TLS struct {
		Enabled    bool   `yaml:"enabled"`
		CertFile   string `yaml:"cert_file"`
		KeyFile    string `yaml:"key_file"`
		CAFile     string `yaml:"ca_file"`
		ClientAuth bool   `yaml:"client_auth"`
	} `yaml:"tls"`
	Auth struct {
		Enabled       bool   `yaml:"enabled"`
		BearerToken   string `yaml:"bearer_token"`
		BasicUsername string `yaml:"basic_username"`
		BasicPassword string `yaml:"basic_password"`
	} `yaml:"auth"`
}

// ExporterYAMLConfig holds exporter configuration.
type ExporterYAMLConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Protocol string   `yaml:"protocol"`
	Insecure *bool    `yaml:"insecure"`
	Timeout  Duration `yaml:"timeout"`
	TLS      struct {
		Enabled            bool   `yaml:"enabled"`
		CertFile           string `yaml:"cert_file"`
		KeyFile            string `yaml:"key_file"`
		CAFile             string `yaml:"ca_file"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
		ServerName         string `yaml:"server_name"`
	} `yaml:"tls"`
	Auth struct {
		BearerToken   string            `yaml:"bearer_token"`
		BasicUsername string            `yaml:"basic_username"`
		BasicPassword string            `yaml:"basic_password"`
		Headers       map[string]string `yaml:"headers"`
	} `yaml:"auth"`
	Compression struct {
		Type  string `yaml:"type"`
		Level int    `yaml:"level"`
	} `yaml:"compression"`
}

// BufferYAMLConfig holds buffer and batcher configuration.
type BufferYAMLConfig struct {
	Size          int      `yaml:"size"`
	MaxBatchSize  int      `yaml:"max_batch_size"`
	ScheduleDelay Duration `yaml:"schedule_delay"`
}

// RetryYAMLConfig holds retry controller configuration.
type RetryYAMLConfig struct {
	Workers              int      `yaml:"workers"`
	QueueSize            int      `yaml:"queue_size"`
	MaxRetries           int      `yaml:"max_retries"`
	InitialInterval      Duration `yaml:"initial_interval"`
	MaxInterval          Duration `yaml:"max_interval"`
	Multiplier           float64  `yaml:"multiplier"`
	RandomizationFactor  *float64 `yaml:"randomization_factor"`
	MaxConcurrentExports int      `yaml:"max_concurrent_exports"`
}

// ShutdownYAMLConfig holds shutdown configuration.
type ShutdownYAMLConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// StatsYAMLConfig holds stats configuration.
type StatsYAMLConfig struct {
	Address     string   `yaml:"address"`
	LogInterval Duration `yaml:"log_interval"`
}

// TelemetryYAMLConfig holds self-monitoring telemetry configuration.
type TelemetryYAMLConfig struct {
	Endpoint     string            `yaml:"endpoint"`
	Protocol     string            `yaml:"protocol"`
	Insecure     *bool             `yaml:"insecure"`
	PushInterval Duration          `yaml:"push_interval"`
	Headers      map[string]string `yaml:"headers"`
}

// MemoryYAMLConfig holds memory limit configuration.
type MemoryYAMLConfig struct {
	LimitRatio float64 `yaml:"limit_ratio"`
}

// Duration is a wrapper for time.Duration that supports YAML
// unmarshaling from strings like "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// applyYAMLFile loads the YAML file and applies it over the config.
// Flags listed in explicit were set on the command line and keep
// their values.
func (c *Config) applyYAMLFile(path string, explicit map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var y YAMLConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	c.applyYAML(&y, explicit)
	return nil
}

func (c *Config) applyYAML(y *YAMLConfig, explicit map[string]bool) {
	setString := func(flagName string, dst *string, v string) {
		if v != "" && !explicit[flagName] {
			*dst = v
		}
	}
	setInt := func(flagName string, dst *int, v int) {
		if v != 0 && !explicit[flagName] {
			*dst = v
		}
	}
	setInt64 := func(flagName string, dst *int64, v int64) {
		if v != 0 && !explicit[flagName] {
			*dst = v
		}
	}
	setFloat := func(flagName string, dst *float64, v float64) {
		if v != 0 && !explicit[flagName] {
			*dst = v
		}
	}
	setDuration := func(flagName string, dst *time.Duration, v Duration) {
		if v != 0 && !explicit[flagName] {
			*dst = time.Duration(v)
		}
	}
	setBool := func(flagName string, dst *bool, v bool) {
		if v && !explicit[flagName] {
			*dst = v
		}
	}

	// Receiver
	setString("grpc-listen", &c.GRPCListenAddr, y.Receiver.GRPC.Address)
	setString("http-listen", &c.HTTPListenAddr, y.Receiver.HTTP.Address)
	setInt64("receiver-max-request-body-size", &c.ReceiverMaxRequestBodySize, y.Receiver.HTTP.MaxRequestBodySize)
	setDuration("receiver-read-timeout", &c.ReceiverReadTimeout, y.Receiver.HTTP.ReadTimeout)
	setDuration("receiver-read-header-timeout", &c.ReceiverReadHeaderTimeout, y.Receiver.HTTP.ReadHeaderTimeout)
	setDuration("receiver-write-timeout", &c.ReceiverWriteTimeout, y.Receiver.HTTP.WriteTimeout)
	setDuration("receiver-idle-timeout", &c.ReceiverIdleTimeout, y.Receiver.HTTP.IdleTimeout)
	setBool("receiver-tls-enabled", &c.ReceiverTLSEnabled, y.Receiver.TLS.Enabled)
	setString("receiver-tls-cert", &c.ReceiverTLSCertFile, y.Receiver.TLS.CertFile)
	setString("receiver-tls-key", &c.ReceiverTLSKeyFile, y.Receiver.TLS.KeyFile)
	setString("receiver-tls-ca", &c.ReceiverTLSCAFile, y.Receiver.TLS.CAFile)
	setBool("receiver-tls-client-auth", &c.ReceiverTLSClientAuth, y.Receiver.TLS.ClientAuth)
	setBool("receiver-auth-enabled", &c.ReceiverAuthEnabled, y.Receiver.Auth.Enabled)
	setString("receiver-auth-bearer-token", &c.ReceiverAuthBearerToken, y.Receiver.Auth.BearerToken)
	setString("receiver-auth-basic-username", &c.ReceiverAuthBasicUsername, y.Receiver.Auth.BasicUsername)
	setString("receiver-auth-basic-password", &c.ReceiverAuthBasicPassword, y.Receiver.Auth.BasicPassword)

	// Exporter
	setString("exporter-endpoint", &c.ExporterEndpoint, y.Exporter.Endpoint)
	setString("exporter-protocol", &c.ExporterProtocol, y.Exporter.Protocol)
	if y.Exporter.Insecure != nil && !explicit["exporter-insecure"] {
		c.ExporterInsecure = *y.Exporter.Insecure
	}
	setDuration("exporter-timeout", &c.ExporterTimeout, y.Exporter.Timeout)
	setBool("exporter-tls-enabled", &c.ExporterTLSEnabled, y.Exporter.TLS.Enabled)
	setString("exporter-tls-cert", &c.ExporterTLSCertFile, y.Exporter.TLS.CertFile)
	setString("exporter-tls-key", &c.ExporterTLSKeyFile, y.Exporter.TLS.KeyFile)
	setString("exporter-tls-ca", &c.ExporterTLSCAFile, y.Exporter.TLS.CAFile)
	setBool("exporter-tls-skip-verify", &c.ExporterTLSInsecureSkipVerify, y.Exporter.TLS.InsecureSkipVerify)
	setString("exporter-tls-server-name", &c.ExporterTLSServerName, y.Exporter.TLS.ServerName)
	setString("exporter-auth-bearer-token", &c.ExporterAuthBearerToken, y.Exporter.Auth.BearerToken)
	setString("exporter-auth-basic-username", &c.ExporterAuthBasicUsername, y.Exporter.Auth.BasicUsername)
	setString("exporter-auth-basic-password", &c.ExporterAuthBasicPassword, y.Exporter.Auth.BasicPassword)
	if len(y.Exporter.Auth.Headers) > 0 && !explicit["exporter-auth-headers"] {
		c.ExporterAuthHeaders = formatKeyValues(y.Exporter.Auth.Headers)
	}
	setString("exporter-compression", &c.ExporterCompression, y.Exporter.Compression.Type)
	setInt("exporter-compression-level", &c.ExporterCompressionLevel, y.Exporter.Compression.Level)

	// Buffer and batcher
	setInt("buffer-size", &c.BufferSize, y.Buffer.Size)
	setInt("batch-size", &c.MaxBatchSize, y.Buffer.MaxBatchSize)
	setDuration("schedule-delay", &c.ScheduleDelay, y.Buffer.ScheduleDelay)

	// Retry
	setInt("retry-workers", &c.RetryWorkers, y.Retry.Workers)
	setInt("retry-queue-size", &c.RetryQueueSize, y.Retry.QueueSize)
	setInt("retry-max-retries", &c.RetryMaxRetries, y.Retry.MaxRetries)
	setDuration("retry-initial-interval", &c.RetryInitialInterval, y.Retry.InitialInterval)
	setDuration("retry-max-interval", &c.RetryMaxInterval, y.Retry.MaxInterval)
	setFloat("retry-multiplier", &c.RetryMultiplier, y.Retry.Multiplier)
	if y.Retry.RandomizationFactor != nil && !explicit["retry-randomization"] {
		c.RetryRandomization = *y.Retry.RandomizationFactor
	}
	setInt("retry-max-concurrent-exports", &c.RetryMaxConcurrentExport, y.Retry.MaxConcurrentExports)

	// Shutdown
	setDuration("shutdown-timeout", &c.ShutdownTimeout, y.Shutdown.Timeout)

	// Stats
	setString("stats-addr", &c.StatsAddr, y.Stats.Address)
	setDuration("stats-log-interval", &c.StatsLogInterval, y.Stats.LogInterval)

	// Resource
	if len(y.Resource) > 0 && !explicit["resource-attributes"] {
		c.ResourceAttributes = formatKeyValues(y.Resource)
	}

	// Telemetry
	setString("telemetry-endpoint", &c.TelemetryEndpoint, y.Telemetry.Endpoint)
	setString("telemetry-protocol", &c.TelemetryProtocol, y.Telemetry.Protocol)
	if y.Telemetry.Insecure != nil && !explicit["telemetry-insecure"] {
		c.TelemetryInsecure = *y.Telemetry.Insecure
	}
	setDuration("telemetry-push-interval", &c.TelemetryPushInterval, y.Telemetry.PushInterval)
	if len(y.Telemetry.Headers) > 0 && !explicit["telemetry-headers"] {
		c.TelemetryHeaders = formatKeyValues(y.Telemetry.Headers)
	}

	// Memory
	setFloat("memory-limit-ratio", &c.MemoryLimitRatio, y.Memory.LimitRatio)

	// Logging
	setString("log-level", &c.LogLevel, y.LogLevel)
}

func formatKeyValues(m map[string]string) string {
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
