// Package pipeline wires the relay together: records emitted by the
// receivers flow through the bounded buffer into the batcher, and
// closed batches are owned by the retry controller until they reach a
// terminal state. Emit never blocks the caller.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/szibis/otlp-relay/internal/batcher"
	"github.com/szibis/otlp-relay/internal/buffer"
	"github.com/szibis/otlp-relay/internal/exporter"
	"github.com/szibis/otlp-relay/internal/logging"
	"github.com/szibis/otlp-relay/internal/record"
	"github.com/szibis/otlp-relay/internal/retry"
	"github.com/szibis/otlp-relay/internal/stats"
)

// Config holds the pipeline configuration.
type Config struct {
	// BufferSize is the record buffer capacity.
	BufferSize int
	// MaxBatchSize closes a batch as soon as this many records are buffered.
	MaxBatchSize int
	// ScheduleDelay closes a non-empty batch after this much time even
	// when it is not full.
	ScheduleDelay time.Duration
	// Retry is the retry controller configuration.
	Retry retry.Config
	// ShutdownTimeout bounds the drain during Shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:      2048,
		MaxBatchSize:    512,
		ScheduleDelay:   5 * time.Second,
		Retry:           retry.DefaultConfig(),
		ShutdownTimeout: 30 * time.Second,
	}
}

// Pipeline is the emit-to-delivery coordinator.
type Pipeline struct {
	cfg        Config
	buf        *buffer.Buffer
	batcher    *batcher.Batcher
	controller *retry.Controller
	exporter   exporter.Exporter
	stats      *stats.Collector

	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a pipeline around the given exporter.
func New(cfg Config, exp exporter.Exporter, collector *stats.Collector) *Pipeline {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 2048
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 512
	}
	if cfg.MaxBatchSize > cfg.BufferSize {
		cfg.MaxBatchSize = cfg.BufferSize
	}
	if cfg.ScheduleDelay <= 0 {
		cfg.ScheduleDelay = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	controller := retry.New(cfg.Retry, exp, collector)
	buf := buffer.New(cfg.BufferSize, cfg.MaxBatchSize, collector)
	b := batcher.New(buf, cfg.MaxBatchSize, cfg.ScheduleDelay, controller)

	return &Pipeline{
		cfg:        cfg,
		buf:        buf,
		batcher:    b,
		controller: controller,
		exporter:   exp,
		stats:      collector,
	}
}

// Start launches the batcher loop and the retry workers.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	// The cancel only stops the batcher loop. The controller drains on
	// its own schedule during Shutdown so in-flight exports are not cut
	// off before the drain budget expires.
	p.controller.Start(context.Background())
	go p.batcher.Start(ctx)
}

// Emit offers a record to the pipeline. It never blocks: the record is
// rejected when the buffer is full or the pipeline is shut down, and
// the rejection is counted.
func (p *Pipeline) Emit(rec *record.Record) bool {
	if rec == nil {
		return false
	}

	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		p.stats.RecordDroppedShutdown(1)
		return false
	}

	defer Track("emit")()
	if rec.Kind == record.KindSpan {
		p.stats.ObserveTrace(rec.TraceID)
	}
	return p.buf.Enqueue(rec)
}

// ForceFlush drains everything buffered so far and waits until those
// batches reach terminal states or ctx expires. New emits during the
// flush are not waited for.
func (p *Pipeline) ForceFlush(ctx context.Context) error {
	defer Track("flush")()
	p.batcher.Flush()
	return p.controller.WaitIdle(ctx)
}

// Shutdown stops intake, drains the buffer, and waits for in-flight
// batches within the configured timeout. Records that cannot be
// delivered in time are counted dropped. Safe to call once.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	defer Track("shutdown")()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ShutdownTimeout)
	defer cancel()

	// Close out whatever is buffered, stop the batcher loop, then let
	// the controller finish or drop what remains.
	p.batcher.Flush()
	if p.cancel != nil {
		p.cancel()
	}
	p.batcher.Wait()

	err := p.controller.Shutdown(ctx)
	if closeErr := p.exporter.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	s := p.stats.GetSnapshot()
	logging.Info("pipeline stopped", logging.F(
		"enqueued", s.Enqueued,
		"exported_success", s.ExportedSuccess,
		"dropped_buffer_full", s.DroppedBufferFull,
		"dropped_retry_exhausted", s.DroppedRetryExhausted,
		"dropped_shutdown", s.DroppedShutdown,
	))
	return err
}

// Snapshot returns the current delivery counters.
func (p *Pipeline) Snapshot() stats.Snapshot {
	return p.stats.GetSnapshot()
}

// BufferLen returns the number of records currently buffered.
func (p *Pipeline) BufferLen() int {
	return p.buf.Len()
}
