package receiver

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/szibis/otlp-relay/internal/auth"
	"github.com/szibis/otlp-relay/internal/compression"
	"github.com/szibis/otlp-relay/internal/logging"
	tlspkg "github.com/szibis/otlp-relay/internal/tls"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/protobuf/proto"
)

// HTTPConfig holds the HTTP receiver configuration.
type HTTPConfig struct {
	// Address is the listen address.
	Address string
	// TLS configuration for secure connections.
	TLS tlspkg.ServerConfig
	// Auth configuration for authentication.
	Auth auth.ServerConfig
	// MaxRequestBodySize caps request bodies in bytes. Zero means no limit.
	MaxRequestBodySize int64
	// ReadTimeout is the server read timeout. Zero means no timeout.
	ReadTimeout time.Duration
	// ReadHeaderTimeout is the server read header timeout.
	ReadHeaderTimeout time.Duration
	// WriteTimeout is the server write timeout.
	WriteTimeout time.Duration
	// IdleTimeout is the server idle timeout.
	IdleTimeout time.Duration
}

// HTTPReceiver serves OTLP traces and logs over HTTP (protobuf bodies
// on /v1/traces and /v1/logs).
type HTTPReceiver struct {
	server      *http.Server
	emitter     Emitter
	addr        string
	tlsCfg      tlspkg.ServerConfig
	maxBodySize int64
}

// NewHTTP creates an HTTP receiver.
func NewHTTP(cfg HTTPConfig, emitter Emitter) *HTTPReceiver {
	r := &HTTPReceiver{
		emitter:     emitter,
		addr:        cfg.Address,
		tlsCfg:      cfg.TLS,
		maxBodySize: cfg.MaxRequestBodySize,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/traces", r.handleTraces)
	mux.HandleFunc("/v1/logs", r.handleLogs)

	var handler http.Handler = mux
	if cfg.Auth.Enabled {
		handler = auth.HTTPMiddleware(cfg.Auth, handler)
	}

	r.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	return r
}

func (r *HTTPReceiver) handleTraces(w http.ResponseWriter, req *http.Request) {
	body, ok := r.readBody(w, req)
	if !ok {
		return
	}

	var exportReq coltracepb.ExportTraceServiceRequest
	if err := proto.Unmarshal(body, &exportReq); err != nil {
		receiveErrorsTotal.WithLabelValues("http").Inc()
		http.Error(w, "Failed to unmarshal protobuf", http.StatusBadRequest)
		return
	}

	accepted := emitSpans(r.emitter, &exportReq)
	receivedRecordsTotal.WithLabelValues("http", "traces").Add(float64(accepted))
	writeProtoResponse(w, &coltracepb.ExportTraceServiceResponse{})
}

func (r *HTTPReceiver) handleLogs(w http.ResponseWriter, req *http.Request) {
	body, ok := r.readBody(w, req)
	if !ok {
		return
	}

	var exportReq collogspb.ExportLogsServiceRequest
	if err := proto.Unmarshal(body, &exportReq); err != nil {
		receiveErrorsTotal.WithLabelValues("http").Inc()
		http.Error(w, "Failed to unmarshal protobuf", http.StatusBadRequest)
		return
	}

	accepted := emitLogs(r.emitter, &exportReq)
	receivedRecordsTotal.WithLabelValues("http", "logs").Add(float64(accepted))
	writeProtoResponse(w, &collogspb.ExportLogsServiceResponse{})
}

// readBody validates the method and content type, then reads and
// decompresses the request body.
func (r *HTTPReceiver) readBody(w http.ResponseWriter, req *http.Request) ([]byte, bool) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	if req.Header.Get("Content-Type") != "application/x-protobuf" {
		http.Error(w, "Unsupported content type", http.StatusUnsupportedMediaType)
		return nil, false
	}

	reader := req.Body
	if r.maxBodySize > 0 {
		reader = http.MaxBytesReader(w, req.Body, r.maxBodySize)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		receiveErrorsTotal.WithLabelValues("http").Inc()
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return nil, false
	}
	defer req.Body.Close()

	if encoding := req.Header.Get("Content-Encoding"); encoding != "" {
		compType := compression.ParseContentEncoding(encoding)
		if compType == compression.TypeNone {
			http.Error(w, "Unsupported content encoding", http.StatusUnsupportedMediaType)
			return nil, false
		}
		body, err = compression.Decompress(body, compType)
		if err != nil {
			receiveErrorsTotal.WithLabelValues("http").Inc()
			http.Error(w, "Failed to decompress body", http.StatusBadRequest)
			return nil, false
		}
	}

	return body, true
}

func writeProtoResponse(w http.ResponseWriter, resp proto.Message) {
	respBytes, err := proto.Marshal(resp)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(respBytes)
}

// Start starts the HTTP server. Blocks until the server stops.
func (r *HTTPReceiver) Start() error {
	logging.Info("HTTP receiver started", logging.F("addr", r.addr))
	if r.tlsCfg.Enabled {
		tlsConfig, err := tlspkg.NewServerTLSConfig(r.tlsCfg)
		if err != nil {
			return err
		}
		r.server.TLSConfig = tlsConfig
		return r.server.ListenAndServeTLS("", "")
	}
	return r.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (r *HTTPReceiver) Stop(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}
