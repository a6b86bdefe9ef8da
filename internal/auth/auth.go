// Package auth provides bearer/basic/custom-header authentication for
// the exporters (client side) and the receivers (server side).
package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ServerConfig holds authentication configuration for the receivers.
type ServerConfig struct {
	// Enabled enables request authentication.
	Enabled bool
	// BearerToken is the expected bearer token.
	BearerToken string
	// BasicUsername is the expected basic-auth username.
	BasicUsername string
	// BasicPassword is the expected basic-auth password.
	BasicPassword string
}

// ClientConfig holds authentication configuration for the exporters.
type ClientConfig struct {
	// BearerToken is sent as an Authorization bearer header.
	BearerToken string
	// BasicUsername is the basic-auth username.
	BasicUsername string
	// BasicPassword is the basic-auth password.
	BasicPassword string
	// Headers are additional headers attached to every request.
	Headers map[string]string
}

// Configured reports whether any client credential is set.
func (c ClientConfig) Configured() bool {
	return c.BearerToken != "" || c.BasicUsername != "" || len(c.Headers) > 0
}

// GRPCClientInterceptor returns a unary interceptor that attaches the
// configured credentials as outgoing metadata.
func GRPCClientInterceptor(cfg ClientConfig) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		pairs := make([]string, 0, 2+2*len(cfg.Headers))
		if cfg.BearerToken != "" {
			pairs = append(pairs, "authorization", "Bearer "+cfg.BearerToken)
		} else if cfg.BasicUsername != "" {
			pairs = append(pairs, "authorization", "Basic "+basicAuthEncoded(cfg.BasicUsername, cfg.BasicPassword))
		}
		for k, v := range cfg.Headers {
			pairs = append(pairs, k, v)
		}
		if len(pairs) > 0 {
			ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// HTTPTransport wraps a round tripper so every request carries the
// configured credentials.
func HTTPTransport(cfg ClientConfig, next http.RoundTripper) http.RoundTripper {
	return &authTransport{cfg: cfg, next: next}
}

type authTransport struct {
	cfg  ClientConfig
	next http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.BearerToken)
	} else if t.cfg.BasicUsername != "" {
		req.SetBasicAuth(t.cfg.BasicUsername, t.cfg.BasicPassword)
	}
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	return t.next.RoundTrip(req)
}

// GRPCServerInterceptor returns a unary interceptor enforcing the
// server authentication configuration.
func GRPCServerInterceptor(cfg ServerConfig) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !cfg.Enabled {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		if err := validateAuth(md, cfg); err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ctx, req)
	}
}

func validateAuth(md metadata.MD, cfg ServerConfig) error {
	header := md.Get("authorization")

	if cfg.BearerToken != "" {
		if len(header) == 0 {
			return fmt.Errorf("missing authorization header")
		}
		token := strings.TrimPrefix(header[0], "Bearer ")
		if token == header[0] {
			return fmt.Errorf("invalid authorization header format")
		}
		if token != cfg.BearerToken {
			return fmt.Errorf("invalid bearer token")
		}
		return nil
	}

	if cfg.BasicUsername != "" && cfg.BasicPassword != "" {
		if len(header) == 0 {
			return fmt.Errorf("missing authorization header")
		}
		expected := "Basic " + basicAuthEncoded(cfg.BasicUsername, cfg.BasicPassword)
		if header[0] != expected {
			return fmt.Errorf("invalid basic auth credentials")
		}
		return nil
	}

	return nil
}

// HTTPMiddleware returns an HTTP middleware enforcing the server
// authentication configuration.
func HTTPMiddleware(cfg ServerConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		if cfg.BearerToken != "" {
			token := strings.TrimPrefix(header, "Bearer ")
			if token == header || token != cfg.BearerToken {
				http.Error(w, "invalid bearer token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if cfg.BasicUsername != "" && cfg.BasicPassword != "" {
			expected := "Basic " + basicAuthEncoded(cfg.BasicUsername, cfg.BasicPassword)
			if header != expected {
				http.Error(w, "invalid basic auth credentials", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func basicAuthEncoded(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
