package stats

import (
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/szibis/otlp-relay/internal/record"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()

	c.RecordEnqueued(10)
	c.RecordDroppedFull(2)
	c.RecordDroppedRetryExhausted(3)
	c.RecordDroppedShutdown(1)
	c.RecordExportSuccess(4)
	c.RecordExportFailure(7)
	c.RecordBatchDelivered()
	c.RecordBatchDelivered()
	c.RecordBatchDropped()

	s := c.GetSnapshot()
	if s.Enqueued != 10 {
		t.Errorf("Enqueued = %d, expected 10", s.Enqueued)
	}
	if s.DroppedBufferFull != 2 {
		t.Errorf("DroppedBufferFull = %d, expected 2", s.DroppedBufferFull)
	}
	if s.DroppedRetryExhausted != 3 {
		t.Errorf("DroppedRetryExhausted = %d, expected 3", s.DroppedRetryExhausted)
	}
	if s.DroppedShutdown != 1 {
		t.Errorf("DroppedShutdown = %d, expected 1", s.DroppedShutdown)
	}
	if s.ExportedSuccess != 4 {
		t.Errorf("ExportedSuccess = %d, expected 4", s.ExportedSuccess)
	}
	if s.ExportedFailure != 7 {
		t.Errorf("ExportedFailure = %d, expected 7", s.ExportedFailure)
	}
	if s.BatchesDelivered != 2 {
		t.Errorf("BatchesDelivered = %d, expected 2", s.BatchesDelivered)
	}
	if s.BatchesDropped != 1 {
		t.Errorf("BatchesDropped = %d, expected 1", s.BatchesDropped)
	}
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordEnqueued(1)
				c.RecordExportSuccess(1)
			}
		}()
	}
	wg.Wait()

	s := c.GetSnapshot()
	if s.Enqueued != 800 || s.ExportedSuccess != 800 {
		t.Errorf("Expected 800/800 after concurrent increments, got %d/%d", s.Enqueued, s.ExportedSuccess)
	}
}

func TestDistinctTraces(t *testing.T) {
	c := NewCollector()

	if got := c.DistinctTraces(); got != 0 {
		t.Errorf("Fresh collector estimate = %d, expected 0", got)
	}

	var ids [20]record.TraceID
	for i := range ids {
		ids[i][0] = byte(i + 1)
		c.ObserveTrace(ids[i])
	}
	// Re-observing the same IDs must not grow the estimate.
	for i := range ids {
		c.ObserveTrace(ids[i])
	}

	got := c.DistinctTraces()
	if got < 18 || got > 22 {
		t.Errorf("Estimate = %d for 20 distinct traces, expected roughly 20", got)
	}

	c.ResetTraces()
	if got := c.DistinctTraces(); got != 0 {
		t.Errorf("Estimate after reset = %d, expected 0", got)
	}
}

func TestObserveTraceIgnoresZeroID(t *testing.T) {
	c := NewCollector()
	c.ObserveTrace(record.TraceID{})
	if got := c.DistinctTraces(); got != 0 {
		t.Errorf("Zero trace ID must be ignored, estimate = %d", got)
	}
}

func TestServeHTTPSnapshot(t *testing.T) {
	c := NewCollector()
	c.RecordEnqueued(5)
	c.RecordExportSuccess(3)

	rec := httptest.NewRecorder()
	c.ServeHTTP(rec, httptest.NewRequest("GET", "/stats", nil))

	if rec.Code != 200 {
		t.Fatalf("Status %d, expected 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type %q, expected application/json", ct)
	}

	var s Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("Decode snapshot: %v", err)
	}
	if s.Enqueued != 5 || s.ExportedSuccess != 3 {
		t.Errorf("Snapshot over HTTP = %+v, expected enqueued 5 and exported 3", s)
	}
}
