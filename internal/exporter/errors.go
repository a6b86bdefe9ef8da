package exporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorType represents a category of export error.
type ErrorType string

const (
	// ErrorTypeNetwork represents network-level errors (DNS, connection refused, etc.)
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeServerError represents server-side errors (5xx status codes)
	ErrorTypeServerError ErrorType = "server_error"
	// ErrorTypeClientError represents client-side errors (4xx status codes)
	ErrorTypeClientError ErrorType = "client_error"
	// ErrorTypeAuth represents authentication/authorization errors (401, 403)
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeRateLimit represents rate limiting errors (429)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeUnknown represents unclassified errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// ExportError is a structured error returned from export attempts. It
// carries the classified type, HTTP status code and backend message so
// the retry controller can make retry and split decisions.
type ExportError struct {
	// Err is the underlying error.
	Err error
	// Type is the classified error type.
	Type ErrorType
	// StatusCode is the HTTP status code (0 for gRPC or network errors).
	StatusCode int
	// Message is the response body or error detail from the backend.
	Message string
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("export error: type=%s status=%d", e.Type, e.StatusCode)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ExportError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the same
// batch may succeed on retry (server errors, network issues, timeouts,
// rate limits). Auth and other client errors are permanent.
func (e *ExportError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeServerError, ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// IsSplittable returns true if the error indicates the payload is too
// large and halving the batch may resolve it.
func (e *ExportError) IsSplittable() bool {
	if e.StatusCode == 413 {
		return true
	}
	msg := strings.ToLower(e.Message)
	if (e.StatusCode == 400 || e.Type == ErrorTypeClientError) && containsPayloadTooLarge(msg) {
		return true
	}
	return false
}

// containsPayloadTooLarge checks for common backend error patterns
// indicating the request payload exceeds the server's size limit.
func containsPayloadTooLarge(msg string) bool {
	patterns := []string{
		"too big",
		"too large",
		"exceeds",
		"exceeding",
		"payload too large",
		"request entity too large",
		"body too large",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// classifyGRPCError categorizes a gRPC call error.
func classifyGRPCError(err error) ErrorType {
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.DeadlineExceeded:
			return ErrorTypeTimeout
		case codes.Unavailable:
			return ErrorTypeNetwork
		case codes.Unauthenticated, codes.PermissionDenied:
			return ErrorTypeAuth
		case codes.ResourceExhausted:
			return ErrorTypeRateLimit
		case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
			return ErrorTypeClientError
		case codes.Internal, codes.Unknown, codes.DataLoss, codes.Aborted:
			return ErrorTypeServerError
		}
	}
	return classifyError(err)
}

// classifyHTTPStatusCode categorizes an HTTP response status.
func classifyHTTPStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorTypeClientError
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}

// classifyError categorizes a transport error into a low-cardinality
// error type.
func classifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "timeout"),
		strings.Contains(errLower, "deadline exceeded"):
		return ErrorTypeTimeout
	case strings.Contains(errLower, "connection refused"),
		strings.Contains(errLower, "no such host"),
		strings.Contains(errLower, "network is unreachable"),
		strings.Contains(errLower, "connection reset"),
		strings.Contains(errLower, "broken pipe"):
		return ErrorTypeNetwork
	default:
		return ErrorTypeUnknown
	}
}
