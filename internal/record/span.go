package record

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Span is an in-progress trace span. Nesting is explicit: a child span
// is created by passing its parent handle to StartSpan, and the span's
// lifetime ends on the End call. End is safe to call from a defer on
// every exit path and is idempotent.
type Span struct {
	mu    sync.Mutex
	rec   *Record
	ended bool
}

// StartSpan begins a span. A nil parent starts a new trace; otherwise
// the child joins the parent's trace and records it as parent.
func StartSpan(name string, parent *Span, attrs map[string]Value) *Span {
	rec := &Record{
		Kind:   KindSpan,
		Name:   name,
		Time:   time.Now(),
		Attrs:  copyAttrs(attrs),
		SpanID: newSpanID(),
	}
	if parent != nil {
		traceID, parentID := parent.Context()
		rec.TraceID = traceID
		rec.ParentSpanID = parentID
	} else {
		rec.TraceID = newTraceID()
	}
	return &Span{rec: rec}
}

// Context returns the span's trace and span IDs for correlation.
func (s *Span) Context() (TraceID, SpanID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.TraceID, s.rec.SpanID
}

// SetAttribute sets an attribute on the span. Calls after End are
// ignored; the record is immutable once produced.
func (s *Span) SetAttribute(key string, v Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if s.rec.Attrs == nil {
		s.rec.Attrs = make(map[string]Value)
	}
	s.rec.Attrs[key] = v
}

// SetStatus records the span outcome. Calls after End are ignored.
func (s *Span) SetStatus(code StatusCode, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.rec.Status = code
	s.rec.StatusMessage = message
}

// End closes the span and returns its Record for emission. Only the
// first call produces a record; subsequent calls return nil.
func (s *Span) End() *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	s.ended = true
	s.rec.EndTime = time.Now()
	return s.rec
}

// Log creates a log record correlated with this span's trace context.
func (s *Span) Log(sev Severity, body string, attrs map[string]Value) *Record {
	rec := NewLog(sev, body, attrs)
	traceID, spanID := s.Context()
	rec.SetSpanContext(traceID, spanID)
	return rec
}

func newTraceID() TraceID {
	return TraceID(uuid.New())
}

func newSpanID() SpanID {
	var id SpanID
	u := uuid.New()
	copy(id[:], u[:8])
	return id
}
