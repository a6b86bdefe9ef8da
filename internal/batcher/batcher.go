// Package batcher drains the record buffer into bounded batches. A
// batch closes when the buffered count reaches the configured batch
// size or when the schedule delay elapses since the previous close,
// whichever happens first.
package batcher

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/szibis/otlp-relay/internal/buffer"
	"github.com/szibis/otlp-relay/internal/record"
)

var (
	sizeTriggerTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "otlp_relay_batch_size_trigger_total",
		Help: "Number of batches closed because the size threshold was reached",
	})

	timerTriggerTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "otlp_relay_batch_timer_trigger_total",
		Help: "Number of batches closed because the schedule delay elapsed",
	})

	batchSendSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "otlp_relay_batch_send_size",
		Help:    "Number of records per closed batch",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(sizeTriggerTotal)
	prometheus.MustRegister(timerTriggerTotal)
	prometheus.MustRegister(batchSendSize)

	sizeTriggerTotal.Add(0)
	timerTriggerTotal.Add(0)
}

// Submitter accepts a closed batch for export. Submit must not block;
// the batcher's drain cycle continues regardless of export progress.
type Submitter interface {
	Submit(b *record.Batch) bool
}

// Batcher runs the background batch-assembly loop.
type Batcher struct {
	buf          *buffer.Buffer
	maxBatchSize int
	delay        time.Duration
	submitter    Submitter

	flushChan chan chan struct{}
	doneChan  chan struct{}
}

// New creates a batcher over buf. delay is the schedule delay measured
// from the previous batch close.
func New(buf *buffer.Buffer, maxBatchSize int, delay time.Duration, s Submitter) *Batcher {
	return &Batcher{
		buf:          buf,
		maxBatchSize: maxBatchSize,
		delay:        delay,
		submitter:    s,
		flushChan:    make(chan chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start runs the batch loop until ctx is cancelled. On cancellation it
// submits any partial batch before returning. Run it as a goroutine.
func (b *Batcher) Start(ctx context.Context) {
	timer := time.NewTimer(b.delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			b.drainAll()
			close(b.doneChan)
			return

		case <-timer.C:
			if b.closeBatch() {
				timerTriggerTotal.Inc()
			}
			timer.Reset(b.delay)

		case <-b.buf.Notify():
			// Drain repeatedly: a burst may have queued several
			// full batches between wakeups.
			for b.buf.Len() >= b.maxBatchSize {
				if b.closeBatch() {
					sizeTriggerTotal.Inc()
				}
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(b.delay)

		case ack := <-b.flushChan:
			b.drainAll()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(b.delay)
			close(ack)
		}
	}
}

// Flush forces an immediate close and submission of all buffered
// records, regardless of size or timer state, and waits for the
// submission handoff (not for export completion).
func (b *Batcher) Flush() {
	ack := make(chan struct{})
	select {
	case b.flushChan <- ack:
		<-ack
	case <-b.doneChan:
		// Loop already exited; its final drain covered the buffer.
	}
}

// Wait blocks until the batch loop has exited and submitted its final
// partial batch.
func (b *Batcher) Wait() {
	<-b.doneChan
}

// closeBatch drains up to one batch and submits it. Returns false when
// the buffer was empty.
func (b *Batcher) closeBatch() bool {
	records := b.buf.Drain(b.maxBatchSize)
	if len(records) == 0 {
		return false
	}
	batchSendSize.Observe(float64(len(records)))
	b.submitter.Submit(record.NewBatch(records))
	return true
}

// drainAll submits every buffered record as a sequence of batches.
func (b *Batcher) drainAll() {
	for b.closeBatch() {
	}
}
