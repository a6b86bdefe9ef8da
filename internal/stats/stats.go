// Package stats tracks pipeline delivery counters. Counters are
// monotone over the process lifetime; the drop counters partition by
// cause so enqueued equals delivered plus the sum of drops once the
// pipeline is idle.
package stats

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axiomhq/hyperloglog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/szibis/otlp-relay/internal/logging"
	"github.com/szibis/otlp-relay/internal/record"
)

var (
	statRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otlp_relay_records_total",
		Help: "Total number of records by outcome",
	}, []string{"outcome"})

	statDistinctTraces = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "otlp_relay_distinct_traces_estimate",
		Help: "Estimated number of distinct trace IDs seen in the current window",
	})
)

func init() {
	prometheus.MustRegister(statRecordsTotal)
	prometheus.MustRegister(statDistinctTraces)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Enqueued              uint64 `json:"enqueued"`
	DroppedBufferFull     uint64 `json:"dropped_buffer_full"`
	DroppedRetryExhausted uint64 `json:"dropped_retry_exhausted"`
	DroppedShutdown       uint64 `json:"dropped_shutdown"`
	ExportedSuccess       uint64 `json:"exported_success"`
	ExportedFailure       uint64 `json:"exported_failure"`
	BatchesDelivered      uint64 `json:"batches_delivered"`
	BatchesDropped        uint64 `json:"batches_dropped"`
	DistinctTraces        int64  `json:"distinct_traces_estimate"`
}

// Collector accumulates delivery counters. All methods are safe for
// concurrent use.
type Collector struct {
	enqueued              atomic.Uint64
	droppedBufferFull     atomic.Uint64
	droppedRetryExhausted atomic.Uint64
	droppedShutdown       atomic.Uint64
	exportedSuccess       atomic.Uint64
	exportedFailure       atomic.Uint64
	batchesDelivered      atomic.Uint64
	batchesDropped        atomic.Uint64

	// Distinct trace IDs, estimated with a fixed-memory HLL sketch.
	traceMu     sync.Mutex
	traceSketch *hyperloglog.Sketch
}

// NewCollector creates a stats collector.
func NewCollector() *Collector {
	return &Collector{
		traceSketch: hyperloglog.New(),
	}
}

// RecordEnqueued counts records accepted into the buffer.
func (c *Collector) RecordEnqueued(n int) {
	c.enqueued.Add(uint64(n))
	statRecordsTotal.WithLabelValues("enqueued").Add(float64(n))
}

// RecordDroppedFull counts records rejected because the buffer was full.
func (c *Collector) RecordDroppedFull(n int) {
	c.droppedBufferFull.Add(uint64(n))
	statRecordsTotal.WithLabelValues("dropped_buffer_full").Add(float64(n))
}

// RecordDroppedRetryExhausted counts records abandoned after the retry
// budget or a permanent export failure.
func (c *Collector) RecordDroppedRetryExhausted(n int) {
	c.droppedRetryExhausted.Add(uint64(n))
	statRecordsTotal.WithLabelValues("dropped_retry_exhausted").Add(float64(n))
}

// RecordDroppedShutdown counts records abandoned because shutdown cut
// their delivery short.
func (c *Collector) RecordDroppedShutdown(n int) {
	c.droppedShutdown.Add(uint64(n))
	statRecordsTotal.WithLabelValues("dropped_shutdown").Add(float64(n))
}

// RecordExportSuccess counts records in successfully exported batches.
func (c *Collector) RecordExportSuccess(n int) {
	c.exportedSuccess.Add(uint64(n))
	statRecordsTotal.WithLabelValues("exported_success").Add(float64(n))
}

// RecordExportFailure counts records in failed export attempts. A
// record may be counted here multiple times across retries.
func (c *Collector) RecordExportFailure(n int) {
	c.exportedFailure.Add(uint64(n))
	statRecordsTotal.WithLabelValues("exported_failure").Add(float64(n))
}

// RecordBatchDelivered counts batches that reached the delivered state.
func (c *Collector) RecordBatchDelivered() {
	c.batchesDelivered.Add(1)
}

// RecordBatchDropped counts batches that reached the dropped state.
func (c *Collector) RecordBatchDropped() {
	c.batchesDropped.Add(1)
}

// ObserveTrace feeds a trace ID into the distinct-trace estimate.
func (c *Collector) ObserveTrace(id record.TraceID) {
	if !id.IsValid() {
		return
	}
	c.traceMu.Lock()
	c.traceSketch.Insert(id[:])
	c.traceMu.Unlock()
}

// DistinctTraces returns the estimated number of distinct trace IDs
// seen since the last reset.
func (c *Collector) DistinctTraces() int64 {
	c.traceMu.Lock()
	defer c.traceMu.Unlock()
	return int64(c.traceSketch.Estimate())
}

// ResetTraces clears the distinct-trace sketch for a new window.
func (c *Collector) ResetTraces() {
	c.traceMu.Lock()
	c.traceSketch = hyperloglog.New()
	c.traceMu.Unlock()
}

// GetSnapshot returns a copy of all counters.
func (c *Collector) GetSnapshot() Snapshot {
	return Snapshot{
		Enqueued:              c.enqueued.Load(),
		DroppedBufferFull:     c.droppedBufferFull.Load(),
		DroppedRetryExhausted: c.droppedRetryExhausted.Load(),
		DroppedShutdown:       c.droppedShutdown.Load(),
		ExportedSuccess:       c.exportedSuccess.Load(),
		ExportedFailure:       c.exportedFailure.Load(),
		BatchesDelivered:      c.batchesDelivered.Load(),
		BatchesDropped:        c.batchesDropped.Load(),
		DistinctTraces:        c.DistinctTraces(),
	}
}

// StartPeriodicLogging logs a counter snapshot every interval and
// resets the trace sketch hourly to bound its window. Blocks until ctx
// is done.
func (c *Collector) StartPeriodicLogging(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	resetTicker := time.NewTicker(time.Hour)
	defer resetTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := c.GetSnapshot()
			statDistinctTraces.Set(float64(s.DistinctTraces))
			logging.Info("stats", logging.F(
				"enqueued", s.Enqueued,
				"dropped_buffer_full", s.DroppedBufferFull,
				"dropped_retry_exhausted", s.DroppedRetryExhausted,
				"dropped_shutdown", s.DroppedShutdown,
				"exported_success", s.ExportedSuccess,
				"exported_failure", s.ExportedFailure,
				"batches_delivered", s.BatchesDelivered,
				"batches_dropped", s.BatchesDropped,
				"distinct_traces", s.DistinctTraces,
			))
		case <-resetTicker.C:
			c.ResetTraces()
		}
	}
}

// ServeHTTP exposes the counter snapshot as JSON.
func (c *Collector) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(c.GetSnapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
