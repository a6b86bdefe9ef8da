package record

import (
	"sort"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

// scopeName identifies this pipeline as the instrumentation scope in
// exported OTLP payloads.
const scopeName = "github.com/szibis/otlp-relay"

// ValueToAny converts a Value to its OTLP wire representation.
func ValueToAny(v Value) *commonpb.AnyValue {
	switch v.Kind() {
	case ValueKindString:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v.AsString()}}
	case ValueKindInt64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: v.AsInt64()}}
	case ValueKindFloat64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: v.AsFloat64()}}
	case ValueKindBool:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: v.AsBool()}}
	case ValueKindBytes:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BytesValue{BytesValue: v.AsBytes()}}
	case ValueKindSlice:
		vals := v.AsSlice()
		arr := make([]*commonpb.AnyValue, len(vals))
		for i, e := range vals {
			arr[i] = ValueToAny(e)
		}
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{ArrayValue: &commonpb.ArrayValue{Values: arr}}}
	case ValueKindMap:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_KvlistValue{KvlistValue: &commonpb.KeyValueList{Values: attrsToKeyValues(v.AsMap())}}}
	default:
		return &commonpb.AnyValue{}
	}
}

// AnyToValue converts an OTLP AnyValue to a Value. Unknown variants
// decode to the empty Value.
func AnyToValue(av *commonpb.AnyValue) Value {
	if av == nil {
		return Value{}
	}
	switch v := av.Value.(type) {
	case *commonpb.AnyValue_StringValue:
		return StringValue(v.StringValue)
	case *commonpb.AnyValue_IntValue:
		return IntValue(v.IntValue)
	case *commonpb.AnyValue_DoubleValue:
		return Float64Value(v.DoubleValue)
	case *commonpb.AnyValue_BoolValue:
		return BoolValue(v.BoolValue)
	case *commonpb.AnyValue_BytesValue:
		return BytesValue(v.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		vals := make([]Value, len(v.ArrayValue.GetValues()))
		for i, e := range v.ArrayValue.GetValues() {
			vals[i] = AnyToValue(e)
		}
		return SliceValue(vals...)
	case *commonpb.AnyValue_KvlistValue:
		m := make(map[string]Value, len(v.KvlistValue.GetValues()))
		for _, kv := range v.KvlistValue.GetValues() {
			m[kv.GetKey()] = AnyToValue(kv.GetValue())
		}
		return MapValue(m)
	default:
		return Value{}
	}
}

// attrsToKeyValues converts an attribute map to sorted OTLP key-values.
// Sorting keeps payloads deterministic across exports of the same batch.
func attrsToKeyValues(attrs map[string]Value) []*commonpb.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kvs := make([]*commonpb.KeyValue, len(keys))
	for i, k := range keys {
		kvs[i] = &commonpb.KeyValue{Key: k, Value: ValueToAny(attrs[k])}
	}
	return kvs
}

// keyValuesToAttrs converts OTLP key-values to an attribute map.
func keyValuesToAttrs(kvs []*commonpb.KeyValue) map[string]Value {
	if len(kvs) == 0 {
		return nil
	}
	attrs := make(map[string]Value, len(kvs))
	for _, kv := range kvs {
		attrs[kv.GetKey()] = AnyToValue(kv.GetValue())
	}
	return attrs
}

// SpanToProto encodes a span record to an OTLP span.
func SpanToProto(r *Record) *tracepb.Span {
	s := &tracepb.Span{
		TraceId:           r.TraceID[:],
		SpanId:            r.SpanID[:],
		Name:              r.Name,
		Kind:              tracepb.Span_SPAN_KIND_INTERNAL,
		StartTimeUnixNano: uint64(r.Time.UnixNano()),
		EndTimeUnixNano:   uint64(r.EndTime.UnixNano()),
		Attributes:        attrsToKeyValues(r.Attrs),
	}
	if r.ParentSpanID.IsValid() {
		s.ParentSpanId = r.ParentSpanID[:]
	}
	if r.Status != StatusUnset {
		code := tracepb.Status_STATUS_CODE_OK
		if r.Status == StatusError {
			code = tracepb.Status_STATUS_CODE_ERROR
		}
		s.Status = &tracepb.Status{Code: code, Message: r.StatusMessage}
	}
	return s
}

// SpanFromProto decodes an OTLP span to a span record.
func SpanFromProto(s *tracepb.Span) *Record {
	r := &Record{
		Kind:    KindSpan,
		Name:    s.GetName(),
		Time:    time.Unix(0, int64(s.GetStartTimeUnixNano())),
		EndTime: time.Unix(0, int64(s.GetEndTimeUnixNano())),
		Attrs:   keyValuesToAttrs(s.GetAttributes()),
	}
	copy(r.TraceID[:], s.GetTraceId())
	copy(r.SpanID[:], s.GetSpanId())
	copy(r.ParentSpanID[:], s.GetParentSpanId())
	switch s.GetStatus().GetCode() {
	case tracepb.Status_STATUS_CODE_OK:
		r.Status = StatusOK
	case tracepb.Status_STATUS_CODE_ERROR:
		r.Status = StatusError
	}
	r.StatusMessage = s.GetStatus().GetMessage()
	return r
}

// LogToProto encodes a log record to an OTLP log record.
func LogToProto(r *Record) *logspb.LogRecord {
	l := &logspb.LogRecord{
		TimeUnixNano:   uint64(r.Time.UnixNano()),
		SeverityNumber: logspb.SeverityNumber(r.Severity),
		SeverityText:   r.Severity.String(),
		Body:           &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: r.Body}},
		Attributes:     attrsToKeyValues(r.Attrs),
	}
	if r.TraceID.IsValid() {
		l.TraceId = r.TraceID[:]
		l.SpanId = r.SpanID[:]
	}
	return l
}

// LogFromProto decodes an OTLP log record to a log record.
func LogFromProto(l *logspb.LogRecord) *Record {
	r := &Record{
		Kind:     KindLog,
		Time:     time.Unix(0, int64(l.GetTimeUnixNano())),
		Severity: Severity(l.GetSeverityNumber()),
		Body:     l.GetBody().GetStringValue(),
		Attrs:    keyValuesToAttrs(l.GetAttributes()),
	}
	copy(r.TraceID[:], l.GetTraceId())
	copy(r.SpanID[:], l.GetSpanId())
	return r
}

// TraceRequest assembles the span records of a batch into an OTLP
// trace export request. Order within the batch is preserved.
func TraceRequest(records []*Record, res *resourcepb.Resource) *coltracepb.ExportTraceServiceRequest {
	spans := make([]*tracepb.Span, 0, len(records))
	for _, r := range records {
		if r.Kind == KindSpan {
			spans = append(spans, SpanToProto(r))
		}
	}
	if len(spans) == 0 {
		return nil
	}
	return &coltracepb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{
			Resource: res,
			ScopeSpans: []*tracepb.ScopeSpans{{
				Scope: &commonpb.InstrumentationScope{Name: scopeName},
				Spans: spans,
			}},
		}},
	}
}

// LogsRequest assembles the log records of a batch into an OTLP logs
// export request. Order within the batch is preserved.
func LogsRequest(records []*Record, res *resourcepb.Resource) *collogspb.ExportLogsServiceRequest {
	logs := make([]*logspb.LogRecord, 0, len(records))
	for _, r := range records {
		if r.Kind == KindLog {
			logs = append(logs, LogToProto(r))
		}
	}
	if len(logs) == 0 {
		return nil
	}
	return &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource: res,
			ScopeLogs: []*logspb.ScopeLogs{{
				Scope:      &commonpb.InstrumentationScope{Name: scopeName},
				LogRecords: logs,
			}},
		}},
	}
}
