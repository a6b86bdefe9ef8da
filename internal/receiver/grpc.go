// Package receiver accepts OTLP traces and logs over gRPC and HTTP
// and emits them into the pipeline. Receivers acknowledge as soon as
// the records are handed off; delivery is the pipeline's problem.
package receiver

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/szibis/otlp-relay/internal/auth"
	"github.com/szibis/otlp-relay/internal/logging"
	"github.com/szibis/otlp-relay/internal/record"
	tlspkg "github.com/szibis/otlp-relay/internal/tls"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/gzip" // Register gzip compressor
)

var (
	receivedRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otlp_relay_received_records_total",
		Help: "Total number of records received by transport and signal",
	}, []string{"transport", "signal"})

	receiveErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otlp_relay_receive_errors_total",
		Help: "Total number of receive errors by transport",
	}, []string{"transport"})
)

func init() {
	prometheus.MustRegister(receivedRecordsTotal)
	prometheus.MustRegister(receiveErrorsTotal)

	encoding.RegisterCompressor(&zstdCompressor{})
}

// zstdCompressor implements grpc encoding.Compressor for zstd.
type zstdCompressor struct{}

func (c *zstdCompressor) Name() string {
	return "zstd"
}

func (c *zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	encoder := zstdWriterPool.Get().(*zstd.Encoder)
	encoder.Reset(w)
	return &pooledZstdWriter{Encoder: encoder}, nil
}

func (c *zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	decoder := zstdReaderPool.Get().(*zstd.Decoder)
	if err := decoder.Reset(r); err != nil {
		return nil, err
	}
	return &pooledZstdReader{Decoder: decoder}, nil
}

var zstdWriterPool = &sync.Pool{
	New: func() interface{} {
		w, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return w
	},
}

var zstdReaderPool = &sync.Pool{
	New: func() interface{} {
		r, _ := zstd.NewReader(nil)
		return r
	},
}

type pooledZstdWriter struct {
	*zstd.Encoder
}

func (p *pooledZstdWriter) Close() error {
	err := p.Encoder.Close()
	p.Encoder.Reset(nil)
	zstdWriterPool.Put(p.Encoder)
	return err
}

type pooledZstdReader struct {
	*zstd.Decoder
}

func (p *pooledZstdReader) Read(b []byte) (int, error) {
	n, err := p.Decoder.Read(b)
	if err == io.EOF {
		_ = p.Decoder.Reset(nil)
		zstdReaderPool.Put(p.Decoder)
	}
	return n, err
}

// Emitter receives decoded records from a transport. Emit returns
// false when the record was rejected (buffer full or shutdown).
type Emitter interface {
	Emit(rec *record.Record) bool
}

// GRPCConfig holds the gRPC receiver configuration.
type GRPCConfig struct {
	// Address is the listen address.
	Address string
	// TLS configuration for secure connections.
	TLS tlspkg.ServerConfig
	// Auth configuration for authentication.
	Auth auth.ServerConfig
}

// GRPCReceiver serves the OTLP TraceService and LogsService.
type GRPCReceiver struct {
	coltracepb.UnimplementedTraceServiceServer
	server  *grpc.Server
	emitter Emitter
	addr    string
}

// NewGRPC creates a gRPC receiver.
func NewGRPC(cfg GRPCConfig, emitter Emitter) *GRPCReceiver {
	var opts []grpc.ServerOption

	// 64MB to handle large batches
	maxMsgSize := 64 * 1024 * 1024
	opts = append(opts,
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)

	if cfg.TLS.Enabled {
		tlsConfig, err := tlspkg.NewServerTLSConfig(cfg.TLS)
		if err != nil {
			logging.Error("failed to create TLS config", logging.F("error", err.Error()))
		} else {
			opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
		}
	}

	if cfg.Auth.Enabled {
		opts = append(opts, grpc.UnaryInterceptor(auth.GRPCServerInterceptor(cfg.Auth)))
	}

	return &GRPCReceiver{
		server:  grpc.NewServer(opts...),
		emitter: emitter,
		addr:    cfg.Address,
	}
}

// Export implements the OTLP TraceService Export method.
func (r *GRPCReceiver) Export(ctx context.Context, req *coltracepb.ExportTraceServiceRequest) (*coltracepb.ExportTraceServiceResponse, error) {
	accepted := emitSpans(r.emitter, req)
	receivedRecordsTotal.WithLabelValues("grpc", "traces").Add(float64(accepted))
	return &coltracepb.ExportTraceServiceResponse{}, nil
}

// ExportLogs handles OTLP LogsService Export requests. It is exposed
// to gRPC through the logsService adapter since Export is taken by the
// trace service.
func (r *GRPCReceiver) ExportLogs(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	accepted := emitLogs(r.emitter, req)
	receivedRecordsTotal.WithLabelValues("grpc", "logs").Add(float64(accepted))
	return &collogspb.ExportLogsServiceResponse{}, nil
}

type logsService struct {
	collogspb.UnimplementedLogsServiceServer
	recv *GRPCReceiver
}

func (s *logsService) Export(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	return s.recv.ExportLogs(ctx, req)
}

// Start starts the gRPC server. Blocks until the server stops.
func (r *GRPCReceiver) Start() error {
	lis, err := net.Listen("tcp", r.addr)
	if err != nil {
		return err
	}

	coltracepb.RegisterTraceServiceServer(r.server, r)
	collogspb.RegisterLogsServiceServer(r.server, &logsService{recv: r})

	logging.Info("gRPC receiver started", logging.F("addr", r.addr))
	return r.server.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (r *GRPCReceiver) Stop() {
	r.server.GracefulStop()
}

func emitSpans(emitter Emitter, req *coltracepb.ExportTraceServiceRequest) int {
	accepted := 0
	for _, rs := range req.GetResourceSpans() {
		for _, ss := range rs.GetScopeSpans() {
			for _, span := range ss.GetSpans() {
				if emitter.Emit(record.SpanFromProto(span)) {
					accepted++
				}
			}
		}
	}
	return accepted
}

func emitLogs(emitter Emitter, req *collogspb.ExportLogsServiceRequest) int {
	accepted := 0
	for _, rl := range req.GetResourceLogs() {
		for _, sl := range rl.GetScopeLogs() {
			for _, lr := range sl.GetLogRecords() {
				if emitter.Emit(record.LogFromProto(lr)) {
					accepted++
				}
			}
		}
	}
	return accepted
}
