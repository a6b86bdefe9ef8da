package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/szibis/otlp-relay/internal/exporter"
	"github.com/szibis/otlp-relay/internal/record"
	"github.com/szibis/otlp-relay/internal/retry"
	"github.com/szibis/otlp-relay/internal/stats"
)

type fakeExporter struct {
	mu       sync.Mutex
	exported int
	batches  int
	failures int
}

func (f *fakeExporter) Export(_ context.Context, batch *record.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return &exporter.ExportError{Type: exporter.ErrorTypeServerError}
	}
	f.exported += batch.Len()
	f.batches++
	return nil
}

func (f *fakeExporter) Close() error { return nil }

func (f *fakeExporter) exportedRecords() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exported
}

func fastConfig() Config {
	return Config{
		BufferSize:    64,
		MaxBatchSize:  4,
		ScheduleDelay: 50 * time.Millisecond,
		Retry: retry.Config{
			Workers:             1,
			QueueSize:           16,
			MaxRetries:          2,
			InitialInterval:     5 * time.Millisecond,
			MaxInterval:         20 * time.Millisecond,
			Multiplier:          2.0,
			RandomizationFactor: 0,
		},
		ShutdownTimeout: 5 * time.Second,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func newLogRecord(body string) *record.Record {
	return record.NewLog(record.SeverityInfo, body, nil)
}

func TestPipelineEmitToDelivery(t *testing.T) {
	exp := &fakeExporter{}
	collector := stats.NewCollector()
	p := New(fastConfig(), exp, collector)
	p.Start()
	defer p.Shutdown(context.Background())

	for i := 0; i < 8; i++ {
		if !p.Emit(newLogRecord("r")) {
			t.Fatalf("Emit %d rejected", i)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return exp.exportedRecords() == 8 })

	s := p.Snapshot()
	if s.Enqueued != 8 {
		t.Errorf("Enqueued = %d, expected 8", s.Enqueued)
	}
	if s.ExportedSuccess != 8 {
		t.Errorf("ExportedSuccess = %d, expected 8", s.ExportedSuccess)
	}
	if s.DroppedBufferFull != 0 || s.DroppedRetryExhausted != 0 || s.DroppedShutdown != 0 {
		t.Errorf("Unexpected drops in snapshot: %+v", s)
	}
}

func TestPipelineForceFlushDeliversPartialBatch(t *testing.T) {
	exp := &fakeExporter{}
	collector := stats.NewCollector()
	cfg := fastConfig()
	cfg.ScheduleDelay = time.Hour
	p := New(cfg, exp, collector)
	p.Start()
	defer p.Shutdown(context.Background())

	p.Emit(newLogRecord("a"))
	p.Emit(newLogRecord("b"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}

	if got := exp.exportedRecords(); got != 2 {
		t.Errorf("Exported %d records after flush, expected 2", got)
	}
}

func TestPipelineRetryDelivers(t *testing.T) {
	exp := &fakeExporter{failures: 1}
	collector := stats.NewCollector()
	p := New(fastConfig(), exp, collector)
	p.Start()
	defer p.Shutdown(context.Background())

	for i := 0; i < 4; i++ {
		p.Emit(newLogRecord("r"))
	}

	waitFor(t, 2*time.Second, func() bool { return exp.exportedRecords() == 4 })

	s := p.Snapshot()
	if s.ExportedFailure != 4 {
		t.Errorf("ExportedFailure = %d, expected 4 (one failed attempt of a 4-record batch)", s.ExportedFailure)
	}
	if s.ExportedSuccess != 4 {
		t.Errorf("ExportedSuccess = %d, expected 4", s.ExportedSuccess)
	}
}

func TestPipelineEmitAfterShutdownRejected(t *testing.T) {
	exp := &fakeExporter{}
	collector := stats.NewCollector()
	p := New(fastConfig(), exp, collector)
	p.Start()

	p.Emit(newLogRecord("before"))
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if p.Emit(newLogRecord("after")) {
		t.Error("Emit after shutdown must be rejected")
	}
	s := p.Snapshot()
	if s.DroppedShutdown != 1 {
		t.Errorf("DroppedShutdown = %d, expected 1", s.DroppedShutdown)
	}
	if got := exp.exportedRecords(); got != 1 {
		t.Errorf("Exported %d records, expected the pre-shutdown record delivered", got)
	}
}

func TestPipelineShutdownIdempotent(t *testing.T) {
	exp := &fakeExporter{}
	p := New(fastConfig(), exp, stats.NewCollector())
	p.Start()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("First shutdown: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Second shutdown: %v", err)
	}
}

func TestPipelineBufferFullDropCounted(t *testing.T) {
	exp := &fakeExporter{}
	collector := stats.NewCollector()
	cfg := fastConfig()
	cfg.BufferSize = 4
	cfg.MaxBatchSize = 4
	cfg.ScheduleDelay = time.Hour
	p := New(cfg, exp, collector)
	// Not started: nothing drains the buffer.

	accepted := 0
	for i := 0; i < 6; i++ {
		if p.Emit(newLogRecord("r")) {
			accepted++
		}
	}
	if accepted != 4 {
		t.Errorf("Accepted %d records into a 4-slot buffer, expected 4", accepted)
	}
	s := p.Snapshot()
	if s.DroppedBufferFull != 2 {
		t.Errorf("DroppedBufferFull = %d, expected 2", s.DroppedBufferFull)
	}
	if p.BufferLen() != 4 {
		t.Errorf("BufferLen = %d, expected 4", p.BufferLen())
	}
}
