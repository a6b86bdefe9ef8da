// Package buffer implements the bounded record queue between producers
// and the batcher. Enqueue is non-blocking and drops at capacity; drain
// is exclusive to the batcher and preserves FIFO order.
package buffer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/szibis/otlp-relay/internal/record"
)

var (
	bufferEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "otlp_relay_buffer_enqueued_total",
		Help: "Total number of records accepted into the buffer",
	})

	bufferDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "otlp_relay_buffer_dropped_total",
		Help: "Total number of records dropped because the buffer was full",
	})

	bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "otlp_relay_buffer_size",
		Help: "Current number of records in the buffer",
	})
)

func init() {
	prometheus.MustRegister(bufferEnqueuedTotal)
	prometheus.MustRegister(bufferDroppedTotal)
	prometheus.MustRegister(bufferSize)

	bufferEnqueuedTotal.Add(0)
	bufferDroppedTotal.Add(0)
	bufferSize.Set(0)
}

// Stats receives buffer-level counter updates.
type Stats interface {
	RecordEnqueued(count int)
	RecordDroppedFull(count int)
}

// Buffer is a fixed-capacity FIFO ring of records. Any number of
// producers may Enqueue concurrently; Drain is exclusive to the
// batcher. No operation blocks beyond the internal lock.
type Buffer struct {
	mu       sync.Mutex
	records  []*record.Record
	head     int
	count    int
	capacity int

	// threshold is the record count at which notify fires, so the
	// batcher can close a batch without waiting for its timer.
	threshold int
	notify    chan struct{}

	stats Stats
}

// New creates a buffer with the given capacity. threshold is the fill
// level that triggers the wake signal; a threshold <= 0 disables it.
func New(capacity, threshold int, stats Stats) *Buffer {
	return &Buffer{
		records:   make([]*record.Record, capacity),
		capacity:  capacity,
		threshold: threshold,
		notify:    make(chan struct{}, 1),
		stats:     stats,
	}
}

// Enqueue attempts a non-blocking insert. It returns false and counts
// the record as dropped when the buffer is at capacity.
func (b *Buffer) Enqueue(rec *record.Record) bool {
	b.mu.Lock()
	if b.count == b.capacity {
		b.mu.Unlock()
		bufferDroppedTotal.Inc()
		if b.stats != nil {
			b.stats.RecordDroppedFull(1)
		}
		return false
	}
	b.records[(b.head+b.count)%b.capacity] = rec
	b.count++
	n := b.count
	b.mu.Unlock()

	bufferEnqueuedTotal.Inc()
	bufferSize.Set(float64(n))
	if b.stats != nil {
		b.stats.RecordEnqueued(1)
	}

	if b.threshold > 0 && n >= b.threshold {
		select {
		case b.notify <- struct{}{}:
		default:
		}
	}
	return true
}

// Drain atomically removes up to maxN oldest records in FIFO order.
func (b *Buffer) Drain(maxN int) []*record.Record {
	b.mu.Lock()
	n := b.count
	if n > maxN {
		n = maxN
	}
	if n <= 0 {
		b.mu.Unlock()
		return nil
	}
	out := make([]*record.Record, n)
	for i := 0; i < n; i++ {
		idx := (b.head + i) % b.capacity
		out[i] = b.records[idx]
		b.records[idx] = nil
	}
	b.head = (b.head + n) % b.capacity
	b.count -= n
	remaining := b.count
	b.mu.Unlock()

	bufferSize.Set(float64(remaining))
	return out
}

// Len returns the current number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Capacity returns the configured maximum queue size.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Notify returns the channel signalled when the buffer reaches the
// batch threshold. The channel has capacity one; signals coalesce.
func (b *Buffer) Notify() <-chan struct{} {
	return b.notify
}
