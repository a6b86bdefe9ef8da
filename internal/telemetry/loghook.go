package telemetry

import (
	"context"
	"fmt"

	"github.com/szibis/otlp-relay/internal/logging"
	otellog "go.opentelemetry.io/otel/log"
)

// NewLogHook returns a logging.LogHook that mirrors log records into
// the OTEL log SDK. Returns nil if telemetry is not enabled.
func (t *Telemetry) NewLogHook() logging.LogHook {
	if t == nil || t.logger == nil {
		return nil
	}

	logger := t.logger

	return func(level logging.Level, msg string, attrs map[string]interface{}) {
		var rec otellog.Record

		rec.SetBody(otellog.StringValue(msg))
		rec.SetSeverity(toOTELSeverity(level))
		rec.SetSeverityText(string(level))

		if len(attrs) > 0 {
			kvs := make([]otellog.KeyValue, 0, len(attrs))
			for k, v := range attrs {
				kvs = append(kvs, otellog.KeyValue{
					Key:   k,
					Value: toOTELValue(v),
				})
			}
			rec.AddAttributes(kvs...)
		}

		logger.Emit(context.Background(), rec)
	}
}

func toOTELSeverity(level logging.Level) otellog.Severity {
	switch level {
	case logging.LevelDebug:
		return otellog.SeverityDebug
	case logging.LevelInfo:
		return otellog.SeverityInfo
	case logging.LevelWarn:
		return otellog.SeverityWarn
	case logging.LevelError:
		return otellog.SeverityError
	case logging.LevelFatal:
		return otellog.SeverityFatal
	default:
		return otellog.SeverityInfo
	}
}

func toOTELValue(v interface{}) otellog.Value {
	if v == nil {
		return otellog.StringValue("<nil>")
	}
	switch val := v.(type) {
	case string:
		return otellog.StringValue(val)
	case int:
		return otellog.IntValue(val)
	case int64:
		return otellog.Int64Value(val)
	case uint64:
		return otellog.Int64Value(int64(val))
	case float64:
		return otellog.Float64Value(val)
	case bool:
		return otellog.BoolValue(val)
	default:
		return otellog.StringValue(fmt.Sprint(val))
	}
}
