// Package record defines the unit of telemetry flowing through the
// pipeline: a trace span or a log record, with typed attributes and
// optional trace/span correlation identifiers.
package record

import (
	"encoding/hex"
	"time"
)

// Kind identifies the telemetry signal a Record carries.
type Kind int

const (
	// KindSpan is a finished trace span.
	KindSpan Kind = iota
	// KindLog is a log record.
	KindLog
)

// Severity is an OTEL log severity number.
// See https://opentelemetry.io/docs/specs/otel/logs/data-model/#severity-fields
type Severity int

const (
	SeverityTrace Severity = 1
	SeverityDebug Severity = 5
	SeverityInfo  Severity = 9
	SeverityWarn  Severity = 13
	SeverityError Severity = 17
	SeverityFatal Severity = 21
)

// String returns the OTEL severity text.
func (s Severity) String() string {
	switch {
	case s >= SeverityFatal:
		return "FATAL"
	case s >= SeverityError:
		return "ERROR"
	case s >= SeverityWarn:
		return "WARN"
	case s >= SeverityInfo:
		return "INFO"
	case s >= SeverityDebug:
		return "DEBUG"
	case s >= SeverityTrace:
		return "TRACE"
	default:
		return "UNSPECIFIED"
	}
}

// StatusCode is the terminal status of a span.
type StatusCode int

const (
	// StatusUnset means no status was recorded.
	StatusUnset StatusCode = iota
	// StatusOK means the operation completed successfully.
	StatusOK
	// StatusError means the operation failed.
	StatusError
)

// TraceID is a 16-byte trace identifier.
type TraceID [16]byte

// SpanID is an 8-byte span identifier.
type SpanID [8]byte

// IsValid reports whether the trace ID is non-zero.
func (t TraceID) IsValid() bool { return t != TraceID{} }

// String returns the hex representation.
func (t TraceID) String() string { return hex.EncodeToString(t[:]) }

// IsValid reports whether the span ID is non-zero.
func (s SpanID) IsValid() bool { return s != SpanID{} }

// String returns the hex representation.
func (s SpanID) String() string { return hex.EncodeToString(s[:]) }

// Record is one unit of telemetry pending export. A Record must be
// treated as immutable once handed to the pipeline; constructors copy
// attribute maps so later mutation of caller state cannot leak in.
type Record struct {
	// Kind selects span vs log interpretation of the fields below.
	Kind Kind

	// Name is the span operation name (spans only).
	Name string
	// Body is the log message (logs only).
	Body string

	// Time is the span start time or the log timestamp.
	Time time.Time
	// EndTime is the span end time (spans only).
	EndTime time.Time

	// Severity is the log severity (logs only).
	Severity Severity

	// Attrs are the record attributes.
	Attrs map[string]Value

	// TraceID, SpanID and ParentSpanID correlate the record with a
	// trace. For logs they are optional; a log emitted outside any
	// span carries zero IDs.
	TraceID      TraceID
	SpanID       SpanID
	ParentSpanID SpanID

	// Status and StatusMessage record the span outcome (spans only).
	Status        StatusCode
	StatusMessage string
}

// NewLog creates a log Record with the current timestamp. attrs is
// copied; the caller keeps ownership of its map.
func NewLog(sev Severity, body string, attrs map[string]Value) *Record {
	return &Record{
		Kind:     KindLog,
		Body:     body,
		Time:     time.Now(),
		Severity: sev,
		Attrs:    copyAttrs(attrs),
	}
}

// SetSpanContext attaches trace/span correlation IDs to a log record.
// Must not be called after the record has been emitted.
func (r *Record) SetSpanContext(traceID TraceID, spanID SpanID) {
	r.TraceID = traceID
	r.SpanID = spanID
}
