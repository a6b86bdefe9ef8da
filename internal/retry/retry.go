// Package retry owns every batch from submission to a terminal state.
// A batch is either Delivered (the exporter accepted it) or Dropped
// (retries exhausted, a permanent failure, or shutdown); nothing is
// delivered twice and nothing leaks.
package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/szibis/otlp-relay/internal/exporter"
	"github.com/szibis/otlp-relay/internal/logging"
	"github.com/szibis/otlp-relay/internal/record"
	"golang.org/x/sync/semaphore"
)

var (
	attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otlp_relay_retry_attempts_total",
		Help: "Total number of export attempts by outcome",
	}, []string{"outcome"})

	batchesDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "otlp_relay_retry_batches_delivered_total",
		Help: "Total number of batches delivered to the backend",
	})

	batchesDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otlp_relay_retry_batches_dropped_total",
		Help: "Total number of batches dropped by reason",
	}, []string{"reason"})

	batchSplitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "otlp_relay_retry_batch_splits_total",
		Help: "Total number of batch splits due to payload size",
	})

	currentBackoffSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "otlp_relay_retry_backoff_seconds",
		Help: "Most recent backoff delay in seconds",
	})

	inflightBatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "otlp_relay_retry_inflight_batches",
		Help: "Number of batches currently owned by the retry controller",
	})
)

func init() {
	prometheus.MustRegister(attemptsTotal)
	prometheus.MustRegister(batchesDeliveredTotal)
	prometheus.MustRegister(batchesDroppedTotal)
	prometheus.MustRegister(batchSplitsTotal)
	prometheus.MustRegister(currentBackoffSeconds)
	prometheus.MustRegister(inflightBatches)
}

// State is the delivery state of a batch inside the controller.
type State int

const (
	// StatePending means the batch is queued for its first attempt.
	StatePending State = iota
	// StateExporting means an export attempt is in flight.
	StateExporting
	// StateAwaitingRetry means the batch is sleeping out a backoff delay.
	StateAwaitingRetry
	// StateDelivered is terminal: the exporter accepted the batch.
	StateDelivered
	// StateDropped is terminal: the batch was abandoned.
	StateDropped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateExporting:
		return "exporting"
	case StateAwaitingRetry:
		return "awaiting_retry"
	case StateDelivered:
		return "delivered"
	case StateDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Stats receives delivery outcome counts.
type Stats interface {
	RecordExportSuccess(records int)
	RecordExportFailure(records int)
	RecordDroppedRetryExhausted(records int)
	RecordDroppedShutdown(records int)
	RecordBatchDelivered()
	RecordBatchDropped()
}

// Config holds the retry controller configuration.
type Config struct {
	// Workers is the number of concurrent export workers.
	Workers int
	// QueueSize is the capacity of the pending-batch channel.
	QueueSize int
	// MaxRetries is the number of retry attempts after the first
	// failure before a batch is dropped.
	MaxRetries int
	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration
	// MaxInterval caps the backoff delay.
	MaxInterval time.Duration
	// Multiplier grows the delay between attempts.
	Multiplier float64
	// RandomizationFactor jitters each delay by +/- this fraction.
	RandomizationFactor float64
	// MaxConcurrentExports caps simultaneous in-flight export calls
	// across all workers. Zero means one per worker.
	MaxConcurrentExports int
}

// DefaultConfig returns a default retry configuration.
func DefaultConfig() Config {
	return Config{
		Workers:             2,
		QueueSize:           64,
		MaxRetries:          5,
		InitialInterval:     1 * time.Second,
		MaxInterval:         30 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.2,
	}
}

type job struct {
	batch *record.Batch
}

// Controller drives batches through export attempts with exponential
// backoff. Submit is non-blocking; WaitIdle and Shutdown bound the
// drain.
type Controller struct {
	cfg      Config
	exporter exporter.Exporter
	stats    Stats

	jobs chan *job
	sem  *semaphore.Weighted

	inflight sync.WaitGroup
	workers  sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool

	runCtx    context.Context
	runCancel context.CancelFunc

	shutdownCh chan struct{}
}

// New creates a retry controller. Start must be called before Submit.
func New(cfg Config, exp exporter.Exporter, stats Stats) *Controller {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2.0
	}
	if cfg.RandomizationFactor < 0 {
		cfg.RandomizationFactor = 0
	}
	maxConcurrent := cfg.MaxConcurrentExports
	if maxConcurrent <= 0 {
		maxConcurrent = cfg.Workers
	}
	return &Controller{
		cfg:        cfg,
		exporter:   exp,
		stats:      stats,
		jobs:       make(chan *job, cfg.QueueSize),
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		shutdownCh: make(chan struct{}),
	}
}

// Start launches the worker pool.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.runCtx, c.runCancel = context.WithCancel(ctx)
	c.mu.Unlock()

	for i := 0; i < c.cfg.Workers; i++ {
		c.workers.Add(1)
		go c.worker(c.runCtx)
	}
}

// Submit hands a batch to the controller. It never blocks: when the
// pending channel is full or the controller is shut down, the batch is
// dropped and false is returned.
func (c *Controller) Submit(batch *record.Batch) bool {
	if batch == nil || batch.Len() == 0 {
		return true
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.dropBatch(batch, "shutdown")
		return false
	}
	// The send stays under the lock so Shutdown cannot close the
	// channel between the closed check and the send.
	select {
	case c.jobs <- &job{batch: batch}:
		c.inflight.Add(1)
		inflightBatches.Inc()
		c.mu.Unlock()
		return true
	default:
		c.mu.Unlock()
		c.dropBatch(batch, "queue_full")
		return false
	}
}

// WaitIdle blocks until every submitted batch has reached a terminal
// state or ctx expires.
func (c *Controller) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the controller. Queued and in-flight batches get one
// final accounting: those still pending or sleeping out a backoff when
// ctx expires are dropped, never abandoned silently.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// Wake sleeping workers so backoff waits collapse.
	close(c.shutdownCh)

	// Let in-flight exports finish within the drain budget; cut them
	// off only once the deadline has passed.
	err := c.WaitIdle(ctx)
	if err != nil && c.runCancel != nil {
		c.runCancel()
	}
	close(c.jobs)
	c.workers.Wait()
	if c.runCancel != nil {
		c.runCancel()
	}

	// Anything still queued after the workers exited is drained and
	// counted dropped.
	for j := range c.jobs {
		c.dropBatch(j.batch, "shutdown")
		c.inflight.Done()
		inflightBatches.Dec()
	}
	return err
}

func (c *Controller) worker(ctx context.Context) {
	defer c.workers.Done()
	for j := range c.jobs {
		c.process(ctx, j.batch)
		c.inflight.Done()
		inflightBatches.Dec()
	}
}

// process runs a single batch to a terminal state.
func (c *Controller) process(ctx context.Context, batch *record.Batch) {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     c.cfg.InitialInterval,
		RandomizationFactor: c.cfg.RandomizationFactor,
		Multiplier:          c.cfg.Multiplier,
		MaxInterval:         c.cfg.MaxInterval,
	}

	for attempt := 0; ; attempt++ {
		if c.isClosed() && attempt > 0 {
			c.dropBatch(batch, "shutdown")
			return
		}

		err := c.export(ctx, batch)
		if err == nil {
			attemptsTotal.WithLabelValues("success").Inc()
			batchesDeliveredTotal.Inc()
			if c.stats != nil {
				c.stats.RecordExportSuccess(batch.Len())
				c.stats.RecordBatchDelivered()
			}
			return
		}

		attemptsTotal.WithLabelValues("failure").Inc()
		if c.stats != nil {
			c.stats.RecordExportFailure(batch.Len())
		}

		var expErr *exporter.ExportError
		if errors.As(err, &expErr) {
			if expErr.IsSplittable() && batch.Len() > 1 {
				c.split(ctx, batch)
				return
			}
			if !expErr.IsRetryable() {
				logging.Error("Dropping batch after permanent export failure", logging.F(
					"batch_id", batch.ID,
					"records", batch.Len(),
					"error", err.Error(),
				))
				c.dropBatch(batch, "permanent")
				return
			}
		}

		if attempt >= c.cfg.MaxRetries {
			logging.Error("Dropping batch after exhausting retries", logging.F(
				"batch_id", batch.ID,
				"records", batch.Len(),
				"attempts", attempt+1,
				"error", err.Error(),
			))
			c.dropBatch(batch, "retry_exhausted")
			return
		}

		delay := bo.NextBackOff()
		currentBackoffSeconds.Set(delay.Seconds())
		logging.Warn("Export failed, backing off", logging.F(
			"batch_id", batch.ID,
			"attempt", attempt+1,
			"delay", delay.String(),
			"error", err.Error(),
		))
		if !c.sleep(ctx, delay) {
			c.dropBatch(batch, "shutdown")
			return
		}
	}
}

// export performs one attempt under the concurrency semaphore.
func (c *Controller) export(ctx context.Context, batch *record.Batch) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)
	return c.exporter.Export(ctx, batch)
}

// split halves an oversized batch and runs both halves to terminal
// states in this worker.
func (c *Controller) split(ctx context.Context, batch *record.Batch) {
	batchSplitsTotal.Inc()
	left, right := batch.Split()
	logging.Info("Splitting oversized batch", logging.F(
		"batch_id", batch.ID,
		"left", left.Len(),
		"right", right.Len(),
	))
	c.process(ctx, left)
	c.process(ctx, right)
}

// sleep waits out a backoff delay. Returns false when the wait was cut
// short by shutdown or context cancellation.
func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.shutdownCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) dropBatch(batch *record.Batch, reason string) {
	batchesDroppedTotal.WithLabelValues(reason).Inc()
	if c.stats != nil {
		if reason == "shutdown" {
			c.stats.RecordDroppedShutdown(batch.Len())
		} else {
			c.stats.RecordDroppedRetryExhausted(batch.Len())
		}
		c.stats.RecordBatchDropped()
	}
}
