package batcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/szibis/otlp-relay/internal/buffer"
	"github.com/szibis/otlp-relay/internal/record"
)

type captureSubmitter struct {
	mu      sync.Mutex
	batches []*record.Batch
}

func (s *captureSubmitter) Submit(b *record.Batch) bool {
	s.mu.Lock()
	s.batches = append(s.batches, b)
	s.mu.Unlock()
	return true
}

func (s *captureSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *captureSubmitter) get(i int) *record.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches[i]
}

func (s *captureSubmitter) totalRecords() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += b.Len()
	}
	return n
}

func makeLog(body string) *record.Record {
	return record.NewLog(record.SeverityInfo, body, nil)
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestSizeTriggerClosesImmediately(t *testing.T) {
	sub := &captureSubmitter{}
	buf := buffer.New(100, 5, nil)
	b := New(buf, 5, time.Hour, sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Start(ctx)

	for i := 0; i < 5; i++ {
		buf.Enqueue(makeLog(fmt.Sprintf("r%d", i)))
	}

	if !waitFor(t, time.Second, func() bool { return sub.count() == 1 }) {
		t.Fatal("Full batch not closed promptly on size trigger")
	}
	batch := sub.get(0)
	if batch.Len() != 5 {
		t.Fatalf("Expected batch of 5, got %d", batch.Len())
	}
	for i, rec := range batch.Records {
		if rec.Body != fmt.Sprintf("r%d", i) {
			t.Errorf("Batch order broken at %d: %q", i, rec.Body)
		}
	}

	cancel()
	b.Wait()
}

func TestTimerTriggerClosesPartialBatch(t *testing.T) {
	sub := &captureSubmitter{}
	buf := buffer.New(100, 100, nil)
	b := New(buf, 100, 100*time.Millisecond, sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Start(ctx)

	buf.Enqueue(makeLog("a"))
	buf.Enqueue(makeLog("b"))

	// Two records are far below the size threshold; only the timer can
	// close them.
	time.Sleep(150 * time.Millisecond)
	if !waitFor(t, time.Second, func() bool { return sub.count() >= 1 }) {
		t.Fatal("Timer did not close the partial batch")
	}
	if got := sub.get(0).Len(); got != 2 {
		t.Fatalf("Expected both records in the timer batch, got %d", got)
	}

	cancel()
	b.Wait()
}

func TestEmptyIntervalProducesNoBatch(t *testing.T) {
	sub := &captureSubmitter{}
	buf := buffer.New(10, 10, nil)
	b := New(buf, 10, 30*time.Millisecond, sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Start(ctx)

	time.Sleep(120 * time.Millisecond)
	if sub.count() != 0 {
		t.Errorf("Timer fired on empty buffer must not submit, got %d batches", sub.count())
	}

	cancel()
	b.Wait()
}

func TestBurstClosesMultipleFullBatches(t *testing.T) {
	sub := &captureSubmitter{}
	buf := buffer.New(100, 4, nil)
	b := New(buf, 4, time.Hour, sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Start(ctx)

	for i := 0; i < 12; i++ {
		buf.Enqueue(makeLog(fmt.Sprintf("r%d", i)))
	}

	if !waitFor(t, time.Second, func() bool { return sub.totalRecords() == 12 }) {
		t.Fatalf("Burst not fully drained: %d records in %d batches", sub.totalRecords(), sub.count())
	}
	for i := 0; i < sub.count(); i++ {
		if got := sub.get(i).Len(); got > 4 {
			t.Errorf("Batch %d exceeds size bound: %d", i, got)
		}
	}

	cancel()
	b.Wait()
}

func TestFlushDrainsEverything(t *testing.T) {
	sub := &captureSubmitter{}
	buf := buffer.New(100, 100, nil)
	b := New(buf, 100, time.Hour, sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Start(ctx)

	buf.Enqueue(makeLog("a"))
	buf.Enqueue(makeLog("b"))
	buf.Enqueue(makeLog("c"))

	b.Flush()
	if sub.totalRecords() != 3 {
		t.Fatalf("Flush must hand off all buffered records, got %d", sub.totalRecords())
	}
	if buf.Len() != 0 {
		t.Errorf("Buffer not empty after flush: %d", buf.Len())
	}

	cancel()
	b.Wait()
}

func TestFlushAfterStopReturns(t *testing.T) {
	sub := &captureSubmitter{}
	buf := buffer.New(10, 10, nil)
	b := New(buf, 10, time.Hour, sub)

	ctx, cancel := context.WithCancel(context.Background())
	go b.Start(ctx)
	cancel()
	b.Wait()

	done := make(chan struct{})
	go func() {
		b.Flush()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Flush hung after the loop exited")
	}
}

func TestStopSubmitsPartialBatch(t *testing.T) {
	sub := &captureSubmitter{}
	buf := buffer.New(10, 10, nil)
	b := New(buf, 10, time.Hour, sub)

	ctx, cancel := context.WithCancel(context.Background())
	go b.Start(ctx)

	buf.Enqueue(makeLog("tail"))
	cancel()
	b.Wait()

	if sub.totalRecords() != 1 {
		t.Fatalf("Final drain lost the partial batch: %d records", sub.totalRecords())
	}
}
