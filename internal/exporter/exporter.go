// Package exporter delivers closed batches to an OTLP collector over
// gRPC or HTTP. The pipeline is agnostic to which variant is
// installed; both honor the per-attempt timeout and never mutate the
// batch they are handed.
package exporter

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/szibis/otlp-relay/internal/auth"
	"github.com/szibis/otlp-relay/internal/compression"
	"github.com/szibis/otlp-relay/internal/record"
	tlspkg "github.com/szibis/otlp-relay/internal/tls"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"golang.org/x/net/http2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
)

var (
	exportRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otlp_relay_export_requests_total",
		Help: "Total number of OTLP export requests by signal",
	}, []string{"signal"})

	exportBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otlp_relay_export_bytes_total",
		Help: "Total bytes sent to the OTLP backend",
	}, []string{"compression"})

	exportErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otlp_relay_export_errors_total",
		Help: "Total number of export errors by error type",
	}, []string{"error_type"})
)

func init() {
	prometheus.MustRegister(exportRequestsTotal)
	prometheus.MustRegister(exportBytesTotal)
	prometheus.MustRegister(exportErrorsTotal)
}

// Protocol represents the export protocol.
type Protocol string

const (
	// ProtocolGRPC uses OTLP gRPC.
	ProtocolGRPC Protocol = "grpc"
	// ProtocolHTTP uses OTLP HTTP (protobuf bodies).
	ProtocolHTTP Protocol = "http"
)

// HTTPClientConfig holds HTTP client connection pool settings.
type HTTPClientConfig struct {
	// MaxIdleConns caps idle keep-alive connections across all hosts.
	MaxIdleConns int
	// MaxIdleConnsPerHost caps idle keep-alive connections per host.
	MaxIdleConnsPerHost int
	// MaxConnsPerHost caps total connections per host. Zero means no limit.
	MaxConnsPerHost int
	// IdleConnTimeout closes idle connections after this duration.
	IdleConnTimeout time.Duration
	// ForceAttemptHTTP2 enables HTTP/2 negotiation.
	ForceAttemptHTTP2 bool
	// HTTP2ReadIdleTimeout triggers an h2 health-check ping after this
	// much silence on the connection.
	HTTP2ReadIdleTimeout time.Duration
	// HTTP2PingTimeout closes the connection if a ping goes unanswered.
	HTTP2PingTimeout time.Duration
}

// Config holds the exporter configuration.
type Config struct {
	// Endpoint is the target endpoint (host:port for gRPC, URL for HTTP).
	Endpoint string
	// Protocol is the export protocol (grpc or http).
	Protocol Protocol
	// Insecure uses a plaintext connection (no TLS).
	Insecure bool
	// Timeout is the per-attempt request timeout.
	Timeout time.Duration
	// TLS configuration for secure connections.
	TLS tlspkg.ClientConfig
	// Auth configuration for authentication.
	Auth auth.ClientConfig
	// Compression configuration for the HTTP exporter.
	Compression compression.Config
	// HTTPClient configuration for HTTP connection pooling.
	HTTPClient HTTPClientConfig
	// Resource attributes stamped on outgoing payloads (service.name etc.).
	Resource map[string]string
}

// Exporter is the polymorphic sink the pipeline delivers batches to.
// Export must honor its timeout, must not mutate the batch, and
// returns an *ExportError for classified failures.
type Exporter interface {
	Export(ctx context.Context, batch *record.Batch) error
	Close() error
}

// OTLPExporter exports spans and logs via OTLP (gRPC or HTTP).
type OTLPExporter struct {
	protocol    Protocol
	timeout     time.Duration
	compression compression.Config
	resource    *resourcepb.Resource

	// gRPC clients
	grpcConn    *grpc.ClientConn
	traceClient coltracepb.TraceServiceClient
	logsClient  collogspb.LogsServiceClient

	// HTTP client
	httpClient *http.Client
	tracesURL  string
	logsURL    string
}

// New creates an OTLPExporter for the configured protocol.
func New(cfg Config) (*OTLPExporter, error) {
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolGRPC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	switch cfg.Protocol {
	case ProtocolGRPC:
		return newGRPCExporter(cfg)
	case ProtocolHTTP:
		return newHTTPExporter(cfg)
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", cfg.Protocol)
	}
}

func newGRPCExporter(cfg Config) (*OTLPExporter, error) {
	var opts []grpc.DialOption

	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else if cfg.TLS.Enabled {
		tlsConfig, err := tlspkg.NewClientTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("create TLS config: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})))
	}

	if cfg.Auth.Configured() {
		opts = append(opts, grpc.WithUnaryInterceptor(auth.GRPCClientInterceptor(cfg.Auth)))
	}

	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, err
	}

	return &OTLPExporter{
		protocol:    ProtocolGRPC,
		timeout:     cfg.Timeout,
		resource:    buildResource(cfg.Resource),
		grpcConn:    conn,
		traceClient: coltracepb.NewTraceServiceClient(conn),
		logsClient:  collogspb.NewLogsServiceClient(conn),
	}, nil
}

func newHTTPExporter(cfg Config) (*OTLPExporter, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     cfg.HTTPClient.ForceAttemptHTTP2,
		MaxIdleConns:          cfg.HTTPClient.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.HTTPClient.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.HTTPClient.MaxConnsPerHost,
		IdleConnTimeout:       cfg.HTTPClient.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if transport.MaxIdleConns == 0 {
		transport.MaxIdleConns = 100
	}
	if transport.MaxIdleConnsPerHost == 0 {
		transport.MaxIdleConnsPerHost = 100
	}
	if transport.IdleConnTimeout == 0 {
		transport.IdleConnTimeout = 90 * time.Second
	}

	if !cfg.Insecure {
		if cfg.TLS.Enabled {
			tlsConfig, err := tlspkg.NewClientTLSConfig(cfg.TLS)
			if err != nil {
				return nil, fmt.Errorf("create TLS config: %w", err)
			}
			transport.TLSClientConfig = tlsConfig
		} else {
			transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}

	if cfg.HTTPClient.ForceAttemptHTTP2 || (!cfg.Insecure && transport.TLSClientConfig != nil) {
		if http2Transport, err := http2.ConfigureTransports(transport); err == nil && http2Transport != nil {
			if cfg.HTTPClient.HTTP2ReadIdleTimeout > 0 {
				http2Transport.ReadIdleTimeout = cfg.HTTPClient.HTTP2ReadIdleTimeout
			}
			if cfg.HTTPClient.HTTP2PingTimeout > 0 {
				http2Transport.PingTimeout = cfg.HTTPClient.HTTP2PingTimeout
			}
		}
	}

	var roundTripper http.RoundTripper = transport
	if cfg.Auth.Configured() {
		roundTripper = auth.HTTPTransport(cfg.Auth, roundTripper)
	}

	base, err := normalizeBaseURL(cfg.Endpoint, cfg.Insecure)
	if err != nil {
		return nil, err
	}

	return &OTLPExporter{
		protocol:    ProtocolHTTP,
		timeout:     cfg.Timeout,
		compression: cfg.Compression,
		resource:    buildResource(cfg.Resource),
		httpClient: &http.Client{
			Transport: roundTripper,
			Timeout:   cfg.Timeout,
		},
		tracesURL: base + "/v1/traces",
		logsURL:   base + "/v1/logs",
	}, nil
}

// Export sends the batch's spans and logs to the configured endpoint.
// The batch is read-only; a timeout is applied per attempt.
func (e *OTLPExporter) Export(ctx context.Context, batch *record.Batch) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	spans, logs := splitByKind(batch.Records)

	if traceReq := record.TraceRequest(spans, e.resource); traceReq != nil {
		if err := e.exportSignal(ctx, "traces", traceReq); err != nil {
			return err
		}
	}
	if logsReq := record.LogsRequest(logs, e.resource); logsReq != nil {
		if err := e.exportSignal(ctx, "logs", logsReq); err != nil {
			return err
		}
	}
	return nil
}

func (e *OTLPExporter) exportSignal(ctx context.Context, signal string, req proto.Message) error {
	exportRequestsTotal.WithLabelValues(signal).Inc()

	switch e.protocol {
	case ProtocolGRPC:
		return e.exportGRPC(ctx, signal, req)
	case ProtocolHTTP:
		return e.exportHTTP(ctx, signal, req)
	default:
		return fmt.Errorf("unsupported protocol: %s", e.protocol)
	}
}

func (e *OTLPExporter) exportGRPC(ctx context.Context, signal string, req proto.Message) error {
	var err error
	switch r := req.(type) {
	case *coltracepb.ExportTraceServiceRequest:
		_, err = e.traceClient.Export(ctx, r)
	case *collogspb.ExportLogsServiceRequest:
		_, err = e.logsClient.Export(ctx, r)
	default:
		return fmt.Errorf("unsupported request type %T", req)
	}
	if err != nil {
		errType := classifyGRPCError(err)
		exportErrorsTotal.WithLabelValues(string(errType)).Inc()
		return &ExportError{Err: err, Type: errType}
	}
	exportBytesTotal.WithLabelValues("grpc").Add(float64(proto.Size(req)))
	return nil
}

func (e *OTLPExporter) exportHTTP(ctx context.Context, signal string, req proto.Message) error {
	endpoint := e.tracesURL
	if signal == "logs" {
		endpoint = e.logsURL
	}

	body, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	compressionLabel := "none"
	if e.compression.Type != compression.TypeNone && e.compression.Type != "" {
		body, err = compression.Compress(body, e.compression)
		if err != nil {
			return fmt.Errorf("compress request: %w", err)
		}
		compressionLabel = string(e.compression.Type)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	if encoding := e.compression.Type.ContentEncoding(); encoding != "" {
		httpReq.Header.Set("Content-Encoding", encoding)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		errType := classifyError(err)
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			errType = ErrorTypeTimeout
		}
		exportErrorsTotal.WithLabelValues(string(errType)).Inc()
		return &ExportError{Err: err, Type: errType}
	}
	defer resp.Body.Close()

	// Backends put split hints (payload too large) in the body.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		errType := classifyHTTPStatusCode(resp.StatusCode)
		exportErrorsTotal.WithLabelValues(string(errType)).Inc()
		return &ExportError{
			Err:        fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, endpoint),
			Type:       errType,
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	exportBytesTotal.WithLabelValues(compressionLabel).Add(float64(len(body)))
	return nil
}

// Close closes the exporter connection.
func (e *OTLPExporter) Close() error {
	switch e.protocol {
	case ProtocolGRPC:
		if e.grpcConn != nil {
			return e.grpcConn.Close()
		}
	case ProtocolHTTP:
		if e.httpClient != nil {
			e.httpClient.CloseIdleConnections()
		}
	}
	return nil
}

func splitByKind(records []*record.Record) (spans, logs []*record.Record) {
	for _, r := range records {
		if r.Kind == record.KindSpan {
			spans = append(spans, r)
		} else {
			logs = append(logs, r)
		}
	}
	return spans, logs
}

// normalizeBaseURL adds a scheme when the endpoint has none and strips
// any trailing slash; signal paths are appended by the exporter.
func normalizeBaseURL(endpoint string, insecureConn bool) (string, error) {
	if endpoint == "" {
		endpoint = "localhost:4318"
	}
	if !strings.Contains(endpoint, "://") {
		scheme := "https"
		if insecureConn {
			scheme = "http"
		}
		endpoint = scheme + "://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), nil
}

func buildResource(attrs map[string]string) *resourcepb.Resource {
	if len(attrs) == 0 {
		return nil
	}
	kvs := make([]*commonpb.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, &commonpb.KeyValue{
			Key:   k,
			Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v}},
		})
	}
	return &resourcepb.Resource{Attributes: kvs}
}
